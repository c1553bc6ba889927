package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartapi/internal/cache"
	"cartapi/internal/config"
	"cartapi/internal/consumer"
	"cartapi/internal/handler"
	"cartapi/internal/infra/db"
	"cartapi/internal/infra/memory"
	infraRepo "cartapi/internal/infra/repository"
	"cartapi/internal/janitor"
	"cartapi/internal/logger"
	repo "cartapi/internal/repository"
	"cartapi/internal/server"
	"cartapi/internal/usecase"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(".env", "../.env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続（memory / postgres / sqlite）
	tx, err := openStore(cfg, log)
	if err != nil {
		return err
	}

	//redis（無ければキャッシュなし）
	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	//Usecase生成
	cartUC := usecase.NewCartUsecase(tx, cartCache, &uuidGenerator{}, &realClock{}, log, usecase.CartConfig{
		Currency: cfg.DefaultCurrency,
		GuestTTL: cfg.GuestCartTTL,
	})
	productUC := usecase.NewProductUsecase(tx)

	//Handler生成
	e := server.New(cfg, log, handler.NewCartHandler(cartUC), handler.NewProductHandler(productUC))

	//Server起動（janitor・checkoutコンシューマも同じerrgroupで動かす）
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, e, server.Addr(cfg.Port), log)
	})
	g.Go(func() error {
		return janitor.New(cartUC, cfg.JanitorInterval, log).Run(ctx)
	})
	if len(cfg.KafkaBrokers) > 0 {
		reader := consumer.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaCheckoutTopic, cfg.KafkaGroupID)
		dlq := consumer.NewKafkaDeadLetterWriter(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
		defer func() {
			if err := dlq.Close(); err != nil {
				log.Warn("closing kafka writer", zap.Error(err))
			}
		}()
		g.Go(func() error {
			log.Info("checkout consumer started",
				zap.String("topic", cfg.KafkaCheckoutTopic),
				zap.String("dlq_topic", cfg.KafkaDLQTopic))
			return consumer.NewCheckoutConsumer(reader, dlq, cartUC, log).Run(ctx)
		})
	}

	return g.Wait()
}

func openStore(cfg config.Config, log *zap.Logger) (repo.TransactionManager, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, carts are lost on restart")
		return memory.NewStore(), nil
	}

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Storage, err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", zap.String("storage", string(cfg.Storage)))
	return infraRepo.NewTxManagerGorm(gormDB), nil
}

func openCache(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.Nop{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("cart cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CartCacheTTL))

	return cache.NewRedisCache(client, cfg.CartCacheTTL), func() { _ = client.Close() }, nil
}
