package memory

import (
	"context"
	"time"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"
)

type cartRepo struct {
	st *state
}

func (r *cartRepo) FindByOwner(_ context.Context, owner model.OwnerKey) (model.Cart, error) {
	if owner.IsEmpty() {
		return model.Cart{}, repo.ErrNoOwner
	}

	var (
		found model.Cart
		ok    bool
	)
	for _, c := range r.st.carts {
		if !matchOwner(c, owner) {
			continue
		}
		// lowest id wins, like the sql adapter's ORDER BY id
		if !ok || c.ID < found.ID {
			found, ok = c, true
		}
	}
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return found, nil
}

func matchOwner(c model.Cart, owner model.OwnerKey) bool {
	if owner.UserID != "" {
		if c.UserID == nil || *c.UserID != owner.UserID {
			return false
		}
		return owner.TenantID == "" || c.TenantID == owner.TenantID
	}
	return c.SessionID != nil && *c.SessionID == owner.SessionID
}

func (r *cartRepo) FindByID(_ context.Context, cartID int64) (model.Cart, error) {
	c, ok := r.st.carts[cartID]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (r *cartRepo) Create(_ context.Context, owner model.OwnerKey, currency string, expiresAt *time.Time) (model.Cart, error) {
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

	for _, c := range r.st.carts {
		if sameKey(c, cart) {
			return model.Cart{}, repo.ErrConflict
		}
	}

	r.st.nextCartID++
	cart.ID = r.st.nextCartID
	r.st.carts[cart.ID] = cart
	return cart, nil
}

// Mirrors the unique indexes on (tenant_id, user_id) and session_id.
func sameKey(a, b model.Cart) bool {
	if a.UserID != nil && b.UserID != nil {
		return a.TenantID == b.TenantID && *a.UserID == *b.UserID
	}
	if a.SessionID != nil && b.SessionID != nil {
		return *a.SessionID == *b.SessionID
	}
	return false
}

func (r *cartRepo) ApplyDelta(_ context.Context, cartID int64, version int64, delta model.CartDelta) error {
	c, ok := r.st.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	if c.Version != version {
		return repo.ErrConflict
	}
	c.Subtotal += delta.Subtotal
	c.ItemCount += delta.ItemCount
	c.Version++
	c.UpdatedAt = time.Now()
	r.st.carts[cartID] = c
	return nil
}

func (r *cartRepo) SetTotals(_ context.Context, cartID int64, version int64, subtotal int64, itemCount int64) error {
	c, ok := r.st.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	if c.Version != version {
		return repo.ErrConflict
	}
	c.Subtotal = subtotal
	c.ItemCount = itemCount
	c.Version++
	c.UpdatedAt = time.Now()
	r.st.carts[cartID] = c
	return nil
}

func (r *cartRepo) AssignToUser(_ context.Context, cartID int64, owner model.OwnerKey) error {
	if owner.UserID == "" {
		return repo.ErrNoOwner
	}
	c, ok := r.st.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}

	uid := owner.UserID
	c.TenantID = owner.TenantID
	c.UserID = &uid
	c.SessionID = nil
	c.ExpiresAt = nil

	for id, other := range r.st.carts {
		if id != cartID && sameKey(other, c) {
			return repo.ErrConflict
		}
	}

	c.Version++
	c.UpdatedAt = time.Now()
	r.st.carts[cartID] = c
	return nil
}

func (r *cartRepo) Delete(_ context.Context, cartID int64) error {
	if _, ok := r.st.carts[cartID]; !ok {
		return repo.ErrNotFound
	}
	for id, it := range r.st.items {
		if it.CartID == cartID {
			delete(r.st.items, id)
		}
	}
	delete(r.st.carts, cartID)
	return nil
}

func (r *cartRepo) DeleteExpiredGuests(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, c := range r.st.carts {
		if c.UserID != nil || c.ExpiresAt == nil || c.ExpiresAt.After(now) {
			continue
		}
		for itemID, it := range r.st.items {
			if it.CartID == id {
				delete(r.st.items, itemID)
			}
		}
		delete(r.st.carts, id)
		n++
	}
	return n, nil
}
