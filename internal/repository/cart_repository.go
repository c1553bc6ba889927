package repository

import (
	"context"
	"time"

	"cartapi/internal/domain/model"
)

type CartRepository interface {
	// ユーザー優先（owner.TenantIDがあればその範囲）、次にセッショントークン
	FindByOwner(ctx context.Context, owner model.OwnerKey) (model.Cart, error)
	FindByID(ctx context.Context, cartID int64) (model.Cart, error)

	// ゲストカートはexpiresAt付き、ユーザーカートは期限なし
	Create(ctx context.Context, owner model.OwnerKey, currency string, expiresAt *time.Time) (model.Cart, error)

	// 保存中のversionが一致すれば集計値にdeltaを足す
	ApplyDelta(ctx context.Context, cartID int64, version int64, delta model.CartDelta) error
	// 集計値を上書き（versionの確認はApplyDeltaと同じ）
	SetTotals(ctx context.Context, cartID int64, version int64, subtotal int64, itemCount int64) error

	// ゲストカートをそのままユーザーへ付け替える（セッションと期限は消す）
	AssignToUser(ctx context.Context, cartID int64, owner model.OwnerKey) error

	Delete(ctx context.Context, cartID int64) error
	DeleteExpiredGuests(ctx context.Context, now time.Time) (int64, error)
}
