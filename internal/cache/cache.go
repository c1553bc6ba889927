package cache

import (
	"context"
	"errors"
	"fmt"

	"cartapi/internal/domain/model"
)

// CartCache holds persisted cart rows keyed by owner. Availability and
// read-time totals are never cached; callers rebuild them on every read.
type CartCache interface {
	Get(ctx context.Context, owner model.OwnerKey) (*model.CartSnapshot, error)
	Set(ctx context.Context, owner model.OwnerKey, snap *model.CartSnapshot) error
	Delete(ctx context.Context, owners ...model.OwnerKey) error
}

var ErrCacheMiss = errors.New("cache miss")

// Key follows the same resolution as the repositories: user before session.
func Key(owner model.OwnerKey) string {
	if owner.UserID != "" {
		return fmt.Sprintf("cart:%s:u:%s", owner.TenantID, owner.UserID)
	}
	return fmt.Sprintf("cart:s:%s", owner.SessionID)
}

// Nop never hits. Used when no redis is configured.
type Nop struct{}

func (Nop) Get(context.Context, model.OwnerKey) (*model.CartSnapshot, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, model.OwnerKey, *model.CartSnapshot) error   { return nil }
func (Nop) Delete(context.Context, ...model.OwnerKey) error                  { return nil }
