package usecase

import (
	"context"
	"errors"
	"time"

	"cartapi/internal/cache"
	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// 競合した書き込みはtxごとロールバックし、読み直してこの回数まで再実行する。
const maxConflictRetries = 3

// 共有のカート読み込みは個々の呼び出し元のキャンセルとは切り離し、この時間で打ち切る。
const cartLoadTimeout = 5 * time.Second

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

type CartConfig struct {
	Currency string        // 新規カートの通貨
	GuestTTL time.Duration // ゲストカートの有効期間
}

// CartUsecase は /cart の業務ロジックです。
// 更新はすべて1つのtxで行い、カートの集計値と明細を一致させます。
type CartUsecase struct {
	tx    repo.TransactionManager
	cache cache.CartCache
	ids   IDGenerator
	clock Clock
	log   *zap.Logger
	cfg   CartConfig
	sfg   singleflight.Group
}

func NewCartUsecase(
	tx repo.TransactionManager,
	cartCache cache.CartCache,
	ids IDGenerator,
	clock Clock,
	log *zap.Logger,
	cfg CartConfig,
) *CartUsecase {
	if cartCache == nil {
		cartCache = cache.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CartUsecase{
		tx:    tx,
		cache: cartCache,
		ids:   ids,
		clock: clock,
		log:   log,
		cfg:   cfg,
	}
}

type AddResult struct {
	CartID int64 `json:"cart_id"`
}

// IssueGuestSession は新しいゲスト用セッショントークンを返す。
func (u *CartUsecase) IssueGuestSession() string {
	return u.ids.NewID()
}

// GetCart はカートが無ければnilを返す。
// 商品が削除・非公開になった明細はUnavailableへ回し、表示用の合計から外す(保存済みの行はそのまま)。
// キャッシュには永続化済みの行だけを置き、絞り込みと合計は毎回商品を引き直して計算する。
func (u *CartUsecase) GetCart(ctx context.Context, owner model.OwnerKey) (*model.CartView, error) {
	if owner.IsEmpty() {
		return nil, nil
	}

	ch := u.sfg.DoChan(cache.Key(owner), func() (interface{}, error) {
		//先頭の呼び出し元がキャンセルしても相乗りしている他の呼び出しは失敗させない
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartLoadTimeout)
		defer cancel()
		return u.loadView(loadCtx, owner)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, u.fail("get cart", res.Err)
		}
		return res.Val.(*model.CartView), nil
	}
}

func (u *CartUsecase) GetCartItemCount(ctx context.Context, owner model.OwnerKey) (int64, error) {
	view, err := u.GetCart(ctx, owner)
	if err != nil || view == nil {
		return 0, err
	}
	return view.ItemCount, nil
}

// loadView はカートの行を現在のバージョンと突き合わせ、一致するスナップショットがあれば明細の読み込みを省く。
// 古いスナップショットが後から書き戻されてもバージョンが合わないので使われない。
func (u *CartUsecase) loadView(ctx context.Context, owner model.OwnerKey) (*model.CartView, error) {
	snap, err := u.cache.Get(ctx, owner)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		u.log.Warn("cart cache get failed", zap.Error(err))
	}

	var (
		view  *model.CartView
		fresh *model.CartSnapshot
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		view, fresh = nil, nil

		cart, err := r.Carts().FindByOwner(ctx, owner)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return dbError(err)
		}

		var items []model.CartItem
		if snap.Matches(cart) {
			items = snap.Items
		} else {
			items, err = r.CartItems().ListByCartID(ctx, cart.ID)
			if err != nil {
				return dbError(err)
			}
			fresh = &model.CartSnapshot{CartID: cart.ID, Version: cart.Version, Items: items}
		}

		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		products, err := r.Products().FindByIDs(ctx, ids)
		if err != nil {
			return dbError(err)
		}

		view = buildView(cart, items, products)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fresh != nil {
		if err := u.cache.Set(ctx, owner, fresh); err != nil {
			u.log.Warn("cart cache set failed", zap.Error(err))
		}
	}
	return view, nil
}

// 表示用の合計は購入可能な明細だけで計算する
func buildView(cart model.Cart, items []model.CartItem, products map[int64]model.Product) *model.CartView {
	view := &model.CartView{
		CartID:      cart.ID,
		TenantID:    cart.TenantID,
		Currency:    cart.Currency,
		Items:       []model.CartViewItem{},
		Unavailable: []model.CartViewItem{},
		ExpiresAt:   cart.ExpiresAt,
		UpdatedAt:   cart.UpdatedAt,
	}
	for _, it := range items {
		p, ok := products[it.ProductID]
		vi := model.CartViewItem{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
			AddedAt:   it.AddedAt,
		}
		if !ok || !p.Available() {
			view.Unavailable = append(view.Unavailable, vi)
			continue
		}
		view.Items = append(view.Items, vi)
		view.Subtotal += it.Subtotal
		view.ItemCount += it.Quantity
	}
	return view
}

// AddToCart はカートに追加する(カートは初回に作成、同一商品は数量加算)。
// 在庫と数量上限は加算後の数量で確認する。
func (u *CartUsecase) AddToCart(ctx context.Context, owner model.OwnerKey, productID int64, quantity int64) (AddResult, error) {
	if owner.IsEmpty() {
		return AddResult{}, ErrUnauthenticated
	}
	if productID <= 0 {
		return AddResult{}, ErrInvalidID
	}
	if !model.ValidQuantity(quantity) {
		return AddResult{}, ErrInvalidQuantity
	}

	var cart model.Cart
	err := u.withinTx(ctx, func(r repo.TxRepos) error {
		p, err := availableProduct(ctx, r, productID)
		if err != nil {
			return err
		}
		if !p.HasStockFor(quantity) {
			return ErrInsufficientInventory
		}

		cart, err = u.findOrCreateCart(ctx, r, owner)
		if err != nil {
			return err
		}

		existing, err := r.CartItems().FindByCartAndProduct(ctx, cart.ID, p.ID)
		switch {
		case err == nil:
			newQty, ok := model.AddTotal(existing.Quantity, quantity)
			if !ok || newQty > model.MaxItemQuantity {
				return ErrInvalidQuantity
			}
			if !p.HasStockFor(newQty) {
				return ErrInsufficientInventory
			}
			subtotal, ok := model.LineTotal(p.Price, newQty)
			if !ok {
				return ErrInvalidQuantity
			}
			delta := model.CartDelta{Subtotal: subtotal - existing.Subtotal, ItemCount: quantity}
			if err := fitsTotals(cart, delta); err != nil {
				return err
			}
			patch := model.CartItemPatch{Quantity: newQty, UnitPrice: p.Price}
			if err := r.CartItems().Patch(ctx, existing.ID, existing.Version, patch); err != nil {
				return storeError(err)
			}
			return storeError(r.Carts().ApplyDelta(ctx, cart.ID, cart.Version, delta))

		case errors.Is(err, repo.ErrNotFound):
			subtotal, ok := model.LineTotal(p.Price, quantity)
			if !ok {
				return ErrInvalidQuantity
			}
			if err := fitsTotals(cart, model.CartDelta{Subtotal: subtotal, ItemCount: quantity}); err != nil {
				return err
			}
			item, err := r.CartItems().Create(ctx, model.CartItem{
				CartID:    cart.ID,
				ProductID: p.ID,
				Quantity:  quantity,
				UnitPrice: p.Price,
				AddedAt:   u.clock.Now(),
			})
			if err != nil {
				return storeError(err)
			}
			return storeError(r.Carts().ApplyDelta(ctx, cart.ID, cart.Version, model.CartDelta{
				Subtotal:  item.Subtotal,
				ItemCount: item.Quantity,
			}))

		default:
			return dbError(err)
		}
	})
	if err != nil {
		return AddResult{}, u.fail("add to cart", err)
	}

	u.invalidate(cart, owner)
	u.log.Debug("cart item added",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity))
	return AddResult{CartID: cart.ID}, nil
}

// UpdateCartItem は数量を置き換え、単価を現在価格に更新する。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, owner model.OwnerKey, itemID int64, quantity int64) error {
	if owner.IsEmpty() {
		return ErrUnauthenticated
	}
	if itemID <= 0 {
		return ErrInvalidID
	}
	if !model.ValidQuantity(quantity) {
		return ErrInvalidQuantity
	}

	var cart model.Cart
	err := u.withinTx(ctx, func(r repo.TxRepos) error {
		var (
			item model.CartItem
			err  error
		)
		cart, item, err = ownedItem(ctx, r, owner, itemID)
		if err != nil {
			return err
		}

		p, err := availableProduct(ctx, r, item.ProductID)
		if err != nil {
			return err
		}
		if !p.HasStockFor(quantity) {
			return ErrInsufficientInventory
		}

		subtotal, ok := model.LineTotal(p.Price, quantity)
		if !ok {
			return ErrInvalidQuantity
		}
		delta := model.CartDelta{Subtotal: subtotal - item.Subtotal, ItemCount: quantity - item.Quantity}
		if err := fitsTotals(cart, delta); err != nil {
			return err
		}

		patch := model.CartItemPatch{Quantity: quantity, UnitPrice: p.Price}
		if err := r.CartItems().Patch(ctx, item.ID, item.Version, patch); err != nil {
			return storeError(err)
		}
		return storeError(r.Carts().ApplyDelta(ctx, cart.ID, cart.Version, delta))
	})
	if err != nil {
		return u.fail("update cart item", err)
	}

	u.invalidate(cart, owner)
	return nil
}

func (u *CartUsecase) RemoveFromCart(ctx context.Context, owner model.OwnerKey, itemID int64) error {
	if owner.IsEmpty() {
		return ErrUnauthenticated
	}
	if itemID <= 0 {
		return ErrInvalidID
	}

	var cart model.Cart
	err := u.withinTx(ctx, func(r repo.TxRepos) error {
		var (
			item model.CartItem
			err  error
		)
		cart, item, err = ownedItem(ctx, r, owner, itemID)
		if err != nil {
			return err
		}

		if err := r.Carts().ApplyDelta(ctx, cart.ID, cart.Version, model.CartDelta{
			Subtotal:  -item.Subtotal,
			ItemCount: -item.Quantity,
		}); err != nil {
			return storeError(err)
		}
		return storeError(r.CartItems().DeleteByID(ctx, item.ID))
	})
	if err != nil {
		return u.fail("remove from cart", err)
	}

	u.invalidate(cart, owner)
	return nil
}

// ClearCart はログインユーザーのカートを空にする(カートが無くてもエラーにしない)。
func (u *CartUsecase) ClearCart(ctx context.Context, owner model.OwnerKey) error {
	if owner.UserID == "" {
		return ErrUnauthenticated
	}
	userOwner := model.OwnerKey{TenantID: owner.TenantID, UserID: owner.UserID}

	var cart model.Cart
	err := u.withinTx(ctx, func(r repo.TxRepos) error {
		var err error
		cart, err = r.Carts().FindByOwner(ctx, userOwner)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.CartItems().DeleteByCartID(ctx, cart.ID); err != nil {
			return dbError(err)
		}
		return storeError(r.Carts().SetTotals(ctx, cart.ID, cart.Version, 0, 0))
	})
	if err != nil {
		return u.fail("clear cart", err)
	}

	u.invalidate(cart, userOwner)
	return nil
}

// PurgeExpiredGuestCarts は期限切れのゲストカートを削除する。
func (u *CartUsecase) PurgeExpiredGuestCarts(ctx context.Context) (int64, error) {
	var n int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		n, err = r.Carts().DeleteExpiredGuests(ctx, u.clock.Now())
		return err
	})
	if err != nil {
		return 0, u.fail("purge expired carts", dbError(err))
	}
	return n, nil
}

func (u *CartUsecase) findOrCreateCart(ctx context.Context, r repo.TxRepos, owner model.OwnerKey) (model.Cart, error) {
	cart, err := r.Carts().FindByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, dbError(err)
	}

	var expiresAt *time.Time
	if !owner.IsUser() {
		t := u.clock.Now().Add(u.cfg.GuestTTL)
		expiresAt = &t
	}
	cart, err = r.Carts().Create(ctx, owner, u.cfg.Currency, expiresAt)
	if err != nil {
		return model.Cart{}, storeError(err)
	}
	return cart, nil
}

//存在しない・削除済み・非公開はすべて「購入不可」
func availableProduct(ctx context.Context, r repo.TxRepos, productID int64) (model.Product, error) {
	p, err := r.Products().FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, ErrNotAvailable
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}
	if !p.Available() {
		return model.Product{}, ErrNotAvailable
	}
	return p, nil
}

func ownedItem(ctx context.Context, r repo.TxRepos, owner model.OwnerKey, itemID int64) (model.Cart, model.CartItem, error) {
	item, err := r.CartItems().FindByID(ctx, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, model.CartItem{}, ErrNotFound
	}
	if err != nil {
		return model.Cart{}, model.CartItem{}, dbError(err)
	}

	cart, err := r.Carts().FindByID(ctx, item.CartID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, model.CartItem{}, ErrNotFound
	}
	if err != nil {
		return model.Cart{}, model.CartItem{}, dbError(err)
	}

	if !cart.OwnedBy(owner) {
		return model.Cart{}, model.CartItem{}, ErrUnauthorized
	}
	return cart, item, nil
}

// withinTx は同時更新の競合が返る間、fnを再実行する。
func (u *CartUsecase) withinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = u.tx.WithinTx(ctx, fn)
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
		u.log.Debug("cart write conflict, retrying", zap.Int("attempt", attempt))
	}
	return ErrConcurrentUpdate
}

// storeError は競合だけ再試行用にそのまま返し、それ以外は包む。
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrConflict):
		return err
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	default:
		return dbError(err)
	}
}

// fitsTotals は集計値がint64に収まるか確認する
func fitsTotals(cart model.Cart, d model.CartDelta) error {
	if _, ok := model.AddTotal(cart.Subtotal, d.Subtotal); !ok {
		return ErrInvalidQuantity
	}
	if _, ok := model.AddTotal(cart.ItemCount, d.ItemCount); !ok {
		return ErrInvalidQuantity
	}
	return nil
}

//500系だけログに残す
func (u *CartUsecase) fail(op string, err error) error {
	he, ok := AsHTTPError(err)
	if !ok {
		err = dbError(err)
		he, _ = AsHTTPError(err)
	}
	if he.Status >= 500 {
		u.log.Error(op+" failed", zap.Error(err))
	}
	return err
}

// invalidate はカートを読み得るキャッシュキーをすべて消す。
func (u *CartUsecase) invalidate(cart model.Cart, caller model.OwnerKey) {
	keys := []model.OwnerKey{caller}
	if cart.UserID != nil {
		keys = append(keys,
			model.OwnerKey{UserID: *cart.UserID},
			model.OwnerKey{TenantID: cart.TenantID, UserID: *cart.UserID})
	}
	if cart.SessionID != nil {
		keys = append(keys, model.OwnerKey{SessionID: *cart.SessionID})
	}
	if caller.SessionID != "" {
		keys = append(keys, model.OwnerKey{SessionID: caller.SessionID})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := u.cache.Delete(ctx, keys...); err != nil {
		u.log.Warn("cart cache invalidate failed", zap.Error(err))
	}
}
