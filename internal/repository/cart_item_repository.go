package repository

import (
	"context"

	"cartapi/internal/domain/model"
)

type CartItemRepository interface {
	// 追加順
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	FindByCartAndProduct(ctx context.Context, cartID int64, productID int64) (model.CartItem, error)
	FindByID(ctx context.Context, itemID int64) (model.CartItem, error)

	// 同じ(cart, product)の2行目はErrConflict
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)
	Patch(ctx context.Context, itemID int64, version int64, patch model.CartItemPatch) error

	DeleteByID(ctx context.Context, itemID int64) error
	DeleteByCartID(ctx context.Context, cartID int64) error
}
