package repository

import (
	"context"
	"fmt"
	"time"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"

	"gorm.io/gorm"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// 持ち主の解決：ユーザー（tenant指定があればその範囲）がセッションより優先
func (r *CartGormRepository) FindByOwner(ctx context.Context, owner model.OwnerKey) (model.Cart, error) {
	var cart model.Cart

	tx := r.db.WithContext(ctx)
	switch {
	case owner.UserID != "":
		tx = tx.Where("user_id = ?", owner.UserID)
		if owner.TenantID != "" {
			tx = tx.Where("tenant_id = ?", owner.TenantID)
		}
	case owner.SessionID != "":
		tx = tx.Where("session_id = ?", owner.SessionID)
	default:
		return model.Cart{}, repo.ErrNoOwner
	}

	err := tx.Order("id asc").First(&cart).Error
	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, fmt.Errorf("find cart by owner: %w", err)
	}
	return cart, nil
}

func (r *CartGormRepository) FindByID(ctx context.Context, cartID int64) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).Where("id = ?", cartID).First(&cart).Error
	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, fmt.Errorf("find cart: %w", err)
	}
	return cart, nil
}

// 集計値0で作成。同じ持ち主の同時作成はErrConflict
func (r *CartGormRepository) Create(ctx context.Context, owner model.OwnerKey, currency string, expiresAt *time.Time) (model.Cart, error) {
	if owner.IsEmpty() {
		return model.Cart{}, repo.ErrNoOwner
	}

	now := time.Now()
	cart := model.Cart{
		TenantID:  owner.TenantID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner.UserID != "" {
		uid := owner.UserID
		cart.UserID = &uid
	} else {
		sid := owner.SessionID
		cart.SessionID = &sid
		cart.ExpiresAt = expiresAt
	}

	if err := r.db.WithContext(ctx).Create(&cart).Error; err != nil {
		if isDuplicateKey(err) {
			return model.Cart{}, repo.ErrConflict
		}
		return model.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

// carts.versionでCAS
func (r *CartGormRepository) ApplyDelta(ctx context.Context, cartID int64, version int64, delta model.CartDelta) error {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ? AND version = ?", cartID, version).
		Updates(map[string]interface{}{
			"subtotal":   gorm.Expr("subtotal + ?", delta.Subtotal),
			"item_count": gorm.Expr("item_count + ?", delta.ItemCount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		return fmt.Errorf("apply cart delta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missingOrConflict(ctx, cartID)
	}
	return nil
}

func (r *CartGormRepository) SetTotals(ctx context.Context, cartID int64, version int64, subtotal int64, itemCount int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ? AND version = ?", cartID, version).
		Updates(map[string]interface{}{
			"subtotal":   subtotal,
			"item_count": itemCount,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		return fmt.Errorf("set cart totals: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missingOrConflict(ctx, cartID)
	}
	return nil
}

func (r *CartGormRepository) AssignToUser(ctx context.Context, cartID int64, owner model.OwnerKey) error {
	if owner.UserID == "" {
		return repo.ErrNoOwner
	}

	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"tenant_id":  owner.TenantID,
			"user_id":    owner.UserID,
			"session_id": nil,
			"expires_at": nil,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return repo.ErrConflict
		}
		return fmt.Errorf("assign cart: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

//明細ごと削除
func (r *CartGormRepository) Delete(ctx context.Context, cartID int64) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&model.CartItem{}).Error; err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}

	res := r.db.WithContext(ctx).Delete(&model.Cart{}, cartID)
	if res.Error != nil {
		return fmt.Errorf("delete cart: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 期限切れのゲストカートを明細ごと削除
func (r *CartGormRepository) DeleteExpiredGuests(ctx context.Context, now time.Time) (int64, error) {
	expired := r.db.Model(&model.Cart{}).
		Select("id").
		Where("user_id IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", now)

	if err := r.db.WithContext(ctx).Where("cart_id IN (?)", expired).Delete(&model.CartItem{}).Error; err != nil {
		return 0, fmt.Errorf("delete expired cart items: %w", err)
	}

	res := r.db.WithContext(ctx).
		Where("user_id IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&model.Cart{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired carts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *CartGormRepository) missingOrConflict(ctx context.Context, cartID int64) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Cart{}).Where("id = ?", cartID).Count(&n).Error; err != nil {
		return fmt.Errorf("count cart: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrConflict
}
