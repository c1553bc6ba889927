package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Purger interface {
	PurgeExpiredGuestCarts(ctx context.Context) (int64, error)
}

// Janitor periodically deletes guest carts past their expiration.
type Janitor struct {
	purger   Purger
	interval time.Duration
	log      *zap.Logger
}

func New(purger Purger, interval time.Duration, log *zap.Logger) *Janitor {
	return &Janitor{purger: purger, interval: interval, log: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep failures are logged; the next tick tries again.
func (j *Janitor) Sweep(ctx context.Context) {
	n, err := j.purger.PurgeExpiredGuestCarts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.log.Warn("guest cart purge failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		j.log.Info("expired guest carts purged", zap.Int64("count", n))
	}
}
