package repository

import "context"

// 1つのtxに紐づいたRepository
type TxRepos interface {
	Carts() CartRepository
	CartItems() CartItemRepository
	Products() ProductRepository
}

// usecaseからbegin/commit/rollbackを隠す。fnがエラーを返したらrollback
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
