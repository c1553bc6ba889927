package model

import "time"

// OwnerKeyはカートの持ち主。
// 保存されたカートではUserIDとSessionIDのどちらか一方（リクエストは両方持ち得る）。
type OwnerKey struct {
	TenantID  string
	UserID    string
	SessionID string
}

func (o OwnerKey) IsUser() bool  { return o.UserID != "" }
func (o OwnerKey) IsGuest() bool { return o.UserID == "" && o.SessionID != "" }
func (o OwnerKey) IsEmpty() bool { return o.UserID == "" && o.SessionID == "" }

// (tenant, user)またはセッショントークンごとに1カート。
// SubtotalとItemCountは明細からの非正規化。
type Cart struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string     `gorm:"type:varchar(64);not null;default:'';uniqueIndex:uniq_cart_user,priority:1" json:"tenant_id,omitempty"`
	UserID    *string    `gorm:"type:varchar(128);uniqueIndex:uniq_cart_user,priority:2" json:"user_id,omitempty"`
	SessionID *string    `gorm:"type:varchar(64);uniqueIndex:uniq_cart_session" json:"session_id,omitempty"`
	Currency  string     `gorm:"type:varchar(3);not null" json:"currency"`
	Subtotal  int64      `gorm:"not null;default:0" json:"subtotal"`
	ItemCount int64      `gorm:"not null;default:0" json:"item_count"`
	Version   int64      `gorm:"not null;default:0" json:"-"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (c Cart) IsGuest() bool { return c.UserID == nil }

// OwnedByはownerがこのカートの持ち主か判定する。
// ユーザーカートはuser id、ゲストカートはセッショントークンで照合。
func (c Cart) OwnedBy(owner OwnerKey) bool {
	if c.UserID != nil {
		return owner.UserID != "" && *c.UserID == owner.UserID
	}
	return c.SessionID != nil && owner.SessionID != "" && *c.SessionID == owner.SessionID
}

// CartDeltaは集計値への差分
type CartDelta struct {
	Subtotal  int64
	ItemCount int64
}
