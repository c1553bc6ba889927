package usecase

import (
	"context"
	"errors"

	"cartapi/internal/domain/model"
	repo "cartapi/internal/repository"

	"go.uber.org/zap"
)

// MergeGuestCart はsessionIDのゲストカートをログインユーザーのカートへ統合する。
//
// ユーザーのカートが無ければゲストカートの持ち主をそのまま付け替える。
// あれば各明細をユーザーのカートへ足し込み(数量は合算して在庫と上限で丸める。
// ただし元のユーザー側の数量は下回らない)、集計値を明細から計算し直してゲストカートを消す。
// 統合するものが無くても成功扱い。
func (u *CartUsecase) MergeGuestCart(ctx context.Context, owner model.OwnerKey, sessionID string) error {
	if owner.UserID == "" {
		return ErrUnauthenticated
	}
	if sessionID == "" {
		return nil
	}
	userOwner := model.OwnerKey{TenantID: owner.TenantID, UserID: owner.UserID}
	guestOwner := model.OwnerKey{SessionID: sessionID}

	var (
		merged  int
		reowned bool
		target  model.Cart
	)
	err := u.withinTx(ctx, func(r repo.TxRepos) error {
		merged, reowned = 0, false

		guest, err := r.Carts().FindByOwner(ctx, guestOwner)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return dbError(err)
		}

		target, err = r.Carts().FindByOwner(ctx, userOwner)
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.Carts().AssignToUser(ctx, guest.ID, userOwner); err != nil {
				return storeError(err)
			}
			reowned = true
			uid := userOwner.UserID
			target = guest
			target.UserID, target.TenantID = &uid, userOwner.TenantID
			return nil
		}
		if err != nil {
			return dbError(err)
		}

		guestItems, err := r.CartItems().ListByCartID(ctx, guest.ID)
		if err != nil {
			return dbError(err)
		}
		for _, gi := range guestItems {
			if err := foldGuestItem(ctx, r, target.ID, gi); err != nil {
				return err
			}
			if err := r.CartItems().DeleteByID(ctx, gi.ID); err != nil {
				return storeError(err)
			}
			merged++
		}

		items, err := r.CartItems().ListByCartID(ctx, target.ID)
		if err != nil {
			return dbError(err)
		}
		var subtotal, count int64
		for _, it := range items {
			var okSub, okCount bool
			subtotal, okSub = model.AddTotal(subtotal, it.Subtotal)
			count, okCount = model.AddTotal(count, it.Quantity)
			if !okSub || !okCount {
				return ErrInvalidQuantity
			}
		}
		if err := r.Carts().SetTotals(ctx, target.ID, target.Version, subtotal, count); err != nil {
			return storeError(err)
		}

		return storeError(r.Carts().Delete(ctx, guest.ID))
	})
	if err != nil {
		return u.fail("merge guest cart", err)
	}

	u.invalidate(target, owner)
	u.invalidate(model.Cart{}, guestOwner)
	u.log.Info("guest cart merged",
		zap.String("user_id", owner.UserID),
		zap.Int64("cart_id", target.ID),
		zap.Bool("reowned", reowned),
		zap.Int("items", merged))
	return nil
}

// foldGuestItem はゲストの1行を現在価格でユーザーのカートへ移す。
// カタログから消えた商品はゲスト側の単価のまま。
func foldGuestItem(ctx context.Context, r repo.TxRepos, cartID int64, gi model.CartItem) error {
	p, err := r.Products().FindByID(ctx, gi.ProductID)
	known := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return dbError(err)
	}

	existing, err := r.CartItems().FindByCartAndProduct(ctx, cartID, gi.ProductID)
	switch {
	case err == nil:
		qty, ok := model.AddTotal(existing.Quantity, gi.Quantity)
		if !ok {
			return ErrInvalidQuantity
		}
		qty = min(qty, model.MaxItemQuantity)
		price := existing.UnitPrice
		if known {
			qty = p.ClampToStock(qty)
			price = p.Price
		}
		if qty < existing.Quantity {
			qty = existing.Quantity
		}
		if _, ok := model.LineTotal(price, qty); !ok {
			return ErrInvalidQuantity
		}
		return storeError(r.CartItems().Patch(ctx, existing.ID, existing.Version, model.CartItemPatch{
			Quantity:  qty,
			UnitPrice: price,
		}))

	case errors.Is(err, repo.ErrNotFound):
		qty := min(gi.Quantity, model.MaxItemQuantity)
		price := gi.UnitPrice
		if known {
			price = p.Price
		}
		if _, ok := model.LineTotal(price, qty); !ok {
			return ErrInvalidQuantity
		}
		_, err := r.CartItems().Create(ctx, model.CartItem{
			CartID:    cartID,
			ProductID: gi.ProductID,
			Quantity:  qty,
			UnitPrice: price,
			AddedAt:   gi.AddedAt,
		})
		return storeError(err)

	default:
		return dbError(err)
	}
}
