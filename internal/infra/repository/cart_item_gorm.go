package repository

import (
	"context"
	"fmt"
	"time"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"

	"gorm.io/gorm"
)

type CartItemGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartItemGormRepository(db *gorm.DB) *CartItemGormRepository {
	return &CartItemGormRepository{db: db}
}

// 追加順
func (r *CartItemGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem

	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, fmt.Errorf("list cart items: %w", err)
	}

	return items, nil
}

func (r *CartItemGormRepository) FindByCartAndProduct(ctx context.Context, cartID int64, productID int64) (model.CartItem, error) {
	var item model.CartItem

	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&item).Error

	if isNotFound(err) {
		return model.CartItem{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, fmt.Errorf("find cart item by product: %w", err)
	}
	return item, nil
}

func (r *CartItemGormRepository) FindByID(ctx context.Context, itemID int64) (model.CartItem, error) {
	var item model.CartItem

	err := r.db.WithContext(ctx).
		Where("id = ?", itemID).
		First(&item).Error

	if isNotFound(err) {
		return model.CartItem{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, fmt.Errorf("find cart item: %w", err)
	}
	return item, nil
}

// AddedAtは呼び出し側が指定していればそのまま（ゲスト統合で引き継ぐ）
func (r *CartItemGormRepository) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	now := time.Now()
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	item.UpdatedAt = now
	item.Subtotal = item.UnitPrice * item.Quantity

	if err := r.db.WithContext(ctx).Create(&item).Error; err != nil {
		if isDuplicateKey(err) {
			return model.CartItem{}, repo.ErrConflict
		}
		return model.CartItem{}, fmt.Errorf("create cart item: %w", err)
	}
	return item, nil
}

// cart_items.versionでCAS
func (r *CartItemGormRepository) Patch(ctx context.Context, itemID int64, version int64, patch model.CartItemPatch) error {
	res := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("id = ? AND version = ?", itemID, version).
		Updates(map[string]interface{}{
			"quantity":   patch.Quantity,
			"unit_price": patch.UnitPrice,
			"subtotal":   patch.Subtotal(),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		return fmt.Errorf("patch cart item: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&model.CartItem{}).Where("id = ?", itemID).Count(&n).Error; err != nil {
		return fmt.Errorf("count cart item: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrConflict
}

// 行が無ければErrNotFound
func (r *CartItemGormRepository) DeleteByID(ctx context.Context, itemID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.CartItem{}, itemID)

	if res.Error != nil {
		return fmt.Errorf("delete cart item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CartItemGormRepository) DeleteByCartID(ctx context.Context, cartID int64) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&model.CartItem{}).Error; err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	return nil
}
