package memory

import (
	"context"
	"sync"
	"time"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"

	"gorm.io/gorm"
)

// Store keeps carts, items and the catalog in process memory.
// Transactions are serialized; each one works on a copy that replaces
// the committed state only when fn returns nil.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	carts      map[int64]model.Cart
	items      map[int64]model.CartItem
	products   map[int64]model.Product
	nextCartID int64
	nextItemID int64
}

func NewStore() *Store {
	return &Store{state: &state{
		carts:    make(map[int64]model.Cart),
		items:    make(map[int64]model.CartItem),
		products: make(map[int64]model.Product),
	}}
}

func (s *state) clone() *state {
	c := &state{
		carts:      make(map[int64]model.Cart, len(s.carts)),
		items:      make(map[int64]model.CartItem, len(s.items)),
		products:   make(map[int64]model.Product, len(s.products)),
		nextCartID: s.nextCartID,
		nextItemID: s.nextItemID,
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	return c
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&txRepos{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PutProduct inserts or replaces a catalog entry. ID 0 assigns the next id.
func (s *Store) PutProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		var last int64
		for id := range s.state.products {
			if id > last {
				last = id
			}
		}
		p.ID = last + 1
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.state.products[p.ID] = p
	return p
}

// SoftDeleteProduct marks a product deleted without removing it.
func (s *Store) SoftDeleteProduct(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.products[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	s.state.products[id] = p
	return nil
}

type txRepos struct {
	st *state
}

func (r *txRepos) Carts() repo.CartRepository         { return &cartRepo{st: r.st} }
func (r *txRepos) CartItems() repo.CartItemRepository { return &cartItemRepo{st: r.st} }
func (r *txRepos) Products() repo.ProductRepository   { return &productRepo{st: r.st} }
