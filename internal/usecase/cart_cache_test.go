package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cartapi/internal/cache"
	"cartapi/internal/domain/model"
	"cartapi/internal/infra/memory"
	repo "cartapi/internal/repository"
	"cartapi/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================
// getCart + redisキャッシュ
// =====================

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisCache(client, time.Minute), mr
}

func newCachedUsecase(tx repo.TransactionManager, c cache.CartCache) *usecase.CartUsecase {
	return usecase.NewCartUsecase(tx, c, &seqIDs{}, &fixedClock{now: t0}, nil,
		usecase.CartConfig{Currency: "USD", GuestTTL: time.Hour})
}

func TestCartUsecase_GetCart_CachedReadSeesSoftDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	store := memory.NewStore()
	uc := newCachedUsecase(store, c)
	p := store.PutProduct(model.Product{Name: "mug", Price: 1000, Currency: "USD", IsActive: true})

	_, err := uc.AddToCart(ctx, alice, p.ID, 2)
	require.NoError(t, err)

	view, err := uc.GetCart(ctx, alice)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	require.True(t, mr.Exists(cache.Key(alice)))

	// キャッシュは消さずに商品だけ削除する
	require.NoError(t, store.SoftDeleteProduct(p.ID))

	view, err = uc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	require.Len(t, view.Unavailable, 1)
	assert.Equal(t, p.ID, view.Unavailable[0].ProductID)
	assert.Zero(t, view.Subtotal)
	assert.Zero(t, view.ItemCount)

	n, err := uc.GetCartItemCount(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCartUsecase_GetCart_CachedReadSeesDeactivation(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	store := memory.NewStore()
	uc := newCachedUsecase(store, c)
	p := store.PutProduct(model.Product{Name: "mug", Price: 1000, Currency: "USD", IsActive: true})

	_, err := uc.AddToCart(ctx, alice, p.ID, 1)
	require.NoError(t, err)
	_, err = uc.GetCart(ctx, alice)
	require.NoError(t, err)

	p.IsActive = false
	store.PutProduct(p)

	view, err := uc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Len(t, view.Unavailable, 1)

	// 再公開されれば次の読み出しで戻る
	p.IsActive = true
	store.PutProduct(p)

	view, err = uc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Equal(t, int64(1000), view.Subtotal)
}

func TestCartUsecase_GetCart_StaleSnapshotIgnored(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	store := memory.NewStore()
	uc := newCachedUsecase(store, c)
	p := store.PutProduct(model.Product{Price: 100, Currency: "USD", IsActive: true})

	_, err := uc.AddToCart(ctx, alice, p.ID, 1)
	require.NoError(t, err)
	_, err = uc.GetCart(ctx, alice)
	require.NoError(t, err)

	old, err := c.Get(ctx, alice)
	require.NoError(t, err)

	_, err = uc.AddToCart(ctx, alice, p.ID, 4)
	require.NoError(t, err)

	// invalidate後に遅れて届いた古い書き込み
	require.NoError(t, c.Set(ctx, alice, old))

	view, err := uc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(5), view.ItemCount)
	assert.Equal(t, int64(500), view.Subtotal)

	refreshed, err := c.Get(ctx, alice)
	require.NoError(t, err)
	assert.Greater(t, refreshed.Version, old.Version)
	require.Len(t, refreshed.Items, 1)
	assert.Equal(t, int64(5), refreshed.Items[0].Quantity)
}

func TestCartUsecase_GetCart_SnapshotOfOtherCartIgnored(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	store := memory.NewStore()
	uc := newCachedUsecase(store, c)
	p := store.PutProduct(model.Product{Price: 100, Currency: "USD", IsActive: true})

	res, err := uc.AddToCart(ctx, alice, p.ID, 3)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, alice, &model.CartSnapshot{
		CartID: res.CartID + 100,
		Items:  []model.CartItem{{ID: 99, ProductID: p.ID, Quantity: 50, UnitPrice: 100, Subtotal: 5000}},
	}))

	view, err := uc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, res.CartID, view.CartID)
	assert.Equal(t, int64(3), view.ItemCount)
}

// gatedTx は最初のtxを外から解放されるまで止める。
// ctxが切れていれば本物のドライバと同じくエラーを返す。
type gatedTx struct {
	inner   repo.TransactionManager
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTx) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.inner.WithinTx(ctx, fn)
}

func TestCartUsecase_GetCart_SharedLoadSurvivesCallerCancel(t *testing.T) {
	c, mr := newRedisCache(t)
	store := memory.NewStore()
	p := store.PutProduct(model.Product{Price: 100, Currency: "USD", IsActive: true})
	_, err := newCachedUsecase(store, c).AddToCart(context.Background(), alice, p.ID, 2)
	require.NoError(t, err)
	require.NoError(t, c.Delete(context.Background(), alice))

	gate := &gatedTx{inner: store, entered: make(chan struct{}), release: make(chan struct{})}
	uc := newCachedUsecase(gate, c)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := uc.GetCart(first, alice)
		firstErr <- err
	}()
	<-gate.entered

	type result struct {
		view *model.CartView
		err  error
	}
	second := make(chan result, 1)
	go func() {
		v, err := uc.GetCart(context.Background(), alice)
		second <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(gate.release)

	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.view)
	assert.Equal(t, int64(2), res.view.ItemCount)

	// キャンセルされた呼び出し元の分の読み込みも完了してキャッシュされる
	assert.Eventually(t, func() bool { return mr.Exists(cache.Key(alice)) }, time.Second, 10*time.Millisecond)
}
