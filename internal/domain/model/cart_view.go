package model

import "time"

// CartViewはクライアントへ返す読み取りモデル。
// 合計は読み出し時に表示対象の明細だけで計算する。
type CartView struct {
	CartID      int64          `json:"id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Currency    string         `json:"currency"`
	Items       []CartViewItem `json:"items"`
	Unavailable []CartViewItem `json:"unavailable"`
	Subtotal    int64          `json:"subtotal"`
	ItemCount   int64          `json:"item_count"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type CartViewItem struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Quantity  int64     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
	AddedAt   time.Time `json:"added_at"`
}

// CartSnapshot はキャッシュに置く永続化済みの行。
// 表示用の絞り込みと合計は読み出しのたびに商品から計算し直す。
type CartSnapshot struct {
	CartID  int64      `json:"cart_id"`
	Version int64      `json:"version"`
	Items   []CartItem `json:"items"`
}

// Matches はcartの現在のバージョンから作られたスナップショットか判定する。
func (s *CartSnapshot) Matches(cart Cart) bool {
	return s != nil && s.CartID == cart.ID && s.Version == cart.Version
}
