package repository

import (
	"context"

	"cartapi/internal/domain/model"
)

// 商品の読み取り。論理削除済みはDeletedAt付きで返す（削除と存在しないを区別するため）。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
}
