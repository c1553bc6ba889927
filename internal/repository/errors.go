package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// 楽観ロックのversion不一致、または一意キーを同時に取られた。
	// txごと再実行してよい。
	ErrConflict = errors.New("conflict")

	// ユーザーもセッションも無い
	ErrNoOwner = errors.New("owner requires a user id or session id")
)
