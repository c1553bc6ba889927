package memory

import (
	"context"
	"sort"
	"time"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"
)

type cartItemRepo struct {
	st *state
}

func (r *cartItemRepo) ListByCartID(_ context.Context, cartID int64) ([]model.CartItem, error) {
	items := []model.CartItem{}
	for _, it := range r.st.items {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *cartItemRepo) FindByCartAndProduct(_ context.Context, cartID int64, productID int64) (model.CartItem, error) {
	for _, it := range r.st.items {
		if it.CartID == cartID && it.ProductID == productID {
			return it, nil
		}
	}
	return model.CartItem{}, repo.ErrNotFound
}

func (r *cartItemRepo) FindByID(_ context.Context, itemID int64) (model.CartItem, error) {
	it, ok := r.st.items[itemID]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r *cartItemRepo) Create(_ context.Context, item model.CartItem) (model.CartItem, error) {
	for _, it := range r.st.items {
		if it.CartID == item.CartID && it.ProductID == item.ProductID {
			return model.CartItem{}, repo.ErrConflict
		}
	}

	now := time.Now()
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	item.UpdatedAt = now
	item.Subtotal = item.UnitPrice * item.Quantity
	item.Version = 0

	r.st.nextItemID++
	item.ID = r.st.nextItemID
	r.st.items[item.ID] = item
	return item, nil
}

func (r *cartItemRepo) Patch(_ context.Context, itemID int64, version int64, patch model.CartItemPatch) error {
	it, ok := r.st.items[itemID]
	if !ok {
		return repo.ErrNotFound
	}
	if it.Version != version {
		return repo.ErrConflict
	}
	it.Quantity = patch.Quantity
	it.UnitPrice = patch.UnitPrice
	it.Subtotal = patch.Subtotal()
	it.Version++
	it.UpdatedAt = time.Now()
	r.st.items[itemID] = it
	return nil
}

func (r *cartItemRepo) DeleteByID(_ context.Context, itemID int64) error {
	if _, ok := r.st.items[itemID]; !ok {
		return repo.ErrNotFound
	}
	delete(r.st.items, itemID)
	return nil
}

func (r *cartItemRepo) DeleteByCartID(_ context.Context, cartID int64) error {
	for id, it := range r.st.items {
		if it.CartID == cartID {
			delete(r.st.items, id)
		}
	}
	return nil
}
