package usecase

import (
	"context"
	"errors"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"
)

// ProductUsecase はカートの価格の基になる商品情報を返す。
type ProductUsecase struct {
	tx repo.TransactionManager
}

// DI
func NewProductUsecase(tx repo.TransactionManager) *ProductUsecase {
	return &ProductUsecase{tx: tx}
}

type ProductSnapshot struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Price             int64  `json:"price"`
	Currency          string `json:"currency"`
	TracksInventory   bool   `json:"tracks_inventory"`
	AvailableQuantity *int64 `json:"available_quantity,omitempty"`
}

// 削除済み・非公開はnot found
func (u *ProductUsecase) GetProduct(ctx context.Context, productID int64) (ProductSnapshot, error) {
	if productID <= 0 {
		return ProductSnapshot{}, ErrInvalidID
	}

	var p model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		p, err = r.Products().FindByID(ctx, productID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ProductSnapshot{}, ErrNotFound
	}
	if err != nil {
		return ProductSnapshot{}, dbError(err)
	}
	if !p.Available() {
		return ProductSnapshot{}, ErrNotFound
	}

	out := ProductSnapshot{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price,
		Currency:        p.Currency,
		TracksInventory: p.TrackInventory,
	}
	if p.TrackInventory {
		stock := int64(0)
		if p.Stock != nil {
			stock = *p.Stock
		}
		out.AvailableQuantity = &stock
	}
	return out, nil
}
