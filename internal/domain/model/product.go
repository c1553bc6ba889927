package model

import (
	"time"

	"gorm.io/gorm"
)

// 商品（カートからは読み取り専用）。
// Stockは在庫数で、TrackInventoryのときだけ意味を持つ。
type Product struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	Price          int64          `gorm:"not null" json:"price"`
	Currency       string         `gorm:"type:varchar(3);not null" json:"currency"`
	IsActive       bool           `gorm:"not null;default:false" json:"is_active"`
	TrackInventory bool           `gorm:"not null;default:false" json:"track_inventory"`
	Stock          *int64         `json:"stock,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p Product) IsDeleted() bool { return p.DeletedAt.Valid }

// Availableはカートに入れられる（表示できる）状態
func (p Product) Available() bool { return !p.IsDeleted() && p.IsActive }

func (p Product) stock() int64 {
	if p.Stock == nil {
		return 0
	}
	return *p.Stock
}

func (p Product) HasStockFor(qty int64) bool {
	if !p.TrackInventory {
		return true
	}
	return qty <= p.stock()
}

// ClampToStockは在庫管理対象ならqtyを在庫数で丸める
func (p Product) ClampToStock(qty int64) int64 {
	if !p.TrackInventory {
		return qty
	}
	if s := p.stock(); qty > s {
		return s
	}
	return qty
}
