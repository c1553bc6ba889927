package db

import (
	"fmt"

	"cartapi/internal/config"
	"cartapi/internal/domain/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はcfg.StorageのDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	switch cfg.Storage {
	case config.StoragePostgres:
		return gorm.Open(postgres.Open(cfg.PostgresDSN()), gcfg)
	case config.StorageSQLite:
		return gorm.Open(sqlite.Open(cfg.SQLitePath), gcfg)
	default:
		return nil, fmt.Errorf("storage %q has no sql database", cfg.Storage)
	}
}

// Migrate はカート関連テーブルと参照する商品テーブルを作る。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Product{},
		&model.Cart{},
		&model.CartItem{},
	)
}
