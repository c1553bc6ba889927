package model

import (
	"math"
	"time"
)

// 1カートにつき(cart, product)ごとに1行。
// UnitPriceは追加時に確定し、数量更新のたびに現在価格へ更新する。
type CartItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64     `gorm:"not null;uniqueIndex:uniq_cart_item_product,priority:1" json:"cart_id"`
	ProductID int64     `gorm:"not null;uniqueIndex:uniq_cart_item_product,priority:2;index" json:"product_id"`
	Quantity  int64     `gorm:"not null" json:"quantity"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	Subtotal  int64     `gorm:"not null" json:"subtotal"`
	Version   int64     `gorm:"not null;default:0" json:"-"`
	AddedAt   time.Time `gorm:"not null" json:"added_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// 1行あたりの数量上限
const MaxItemQuantity int64 = 10000

func ValidQuantity(qty int64) bool {
	return qty >= 1 && qty <= MaxItemQuantity
}

// LineTotal はunitPrice*quantityを返す。負数やint64あふれはfalse。
func LineTotal(unitPrice, quantity int64) (int64, bool) {
	if unitPrice < 0 || quantity < 0 {
		return 0, false
	}
	if quantity != 0 && unitPrice > math.MaxInt64/quantity {
		return 0, false
	}
	return unitPrice * quantity, true
}

// AddTotal はa+bを返す。int64あふれはfalse。
func AddTotal(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

// CartItemPatchは丸ごと書き込む。Subtotal = UnitPrice * Quantity
type CartItemPatch struct {
	Quantity  int64
	UnitPrice int64
}

// 呼び出し側でLineTotalを通した値のみ渡すこと
func (p CartItemPatch) Subtotal() int64 { return p.UnitPrice * p.Quantity }
