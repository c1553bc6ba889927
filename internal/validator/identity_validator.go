package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// 識別子の形式不正
	ErrInvalidInput = errors.New("invalid input")
)

// carts.session_id / user_id / tenant_id のカラム長
const (
	maxSessionID = 64
	maxUserID    = 128
	maxTenantID  = 64
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// SessionIDはヘッダ/cookieのゲストセッショントークンをチェック
func SessionID(s string) error {
	if s == "" || len(s) > maxSessionID || !tokenRe.MatchString(s) {
		return ErrInvalidInput
	}
	return nil
}

// UserIDはトークンのsubをチェック（中身は任意だがカラムに収まること）
func UserID(s string) error {
	if s == "" || len(s) > maxUserID || strings.ContainsAny(s, " \t\r\n") {
		return ErrInvalidInput
	}
	return nil
}

// TenantIDは空を許す（tenant指定なし）
func TenantID(s string) error {
	if s == "" {
		return nil
	}
	if len(s) > maxTenantID || !tokenRe.MatchString(s) {
		return ErrInvalidInput
	}
	return nil
}
