package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Storage string

const (
	StoragePostgres Storage = "postgres"
	StorageSQLite   Storage = "sqlite"
	StorageMemory   Storage = "memory"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod

	Storage          Storage
	DatabaseURL      string // あればPOSTGRES_*より優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string
	SQLitePath       string

	JWTSecret string // IdP発行トークンのHS256シークレット

	RedisAddr     string // 空ならカートキャッシュ無効
	RedisPassword string
	CartCacheTTL  time.Duration

	KafkaBrokers       []string // 空ならcheckoutコンシューマ無効
	KafkaCheckoutTopic string
	KafkaGroupID       string
	KafkaDLQTopic      string // 処理できなかったcheckoutイベントの退避先

	DefaultCurrency string
	GuestCartTTL    time.Duration
	JanitorInterval time.Duration

	LogLevel string
}

func (c Config) IsDev() bool { return c.GoEnv == "dev" }

func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// LoadEnvFileは.envがあれば読み込む（既に設定済みの環境変数が優先）
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Loadは環境変数
func Load() (Config, error) {
	var err error
	cfg := Config{
		Port:  getenv("PORT", "8080"),
		GoEnv: getenv("GO_ENV", "prod"),

		Storage:          Storage(getenv("STORAGE", string(StoragePostgres))),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "app"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getenv("SQLITE_PATH", "cart.db"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaCheckoutTopic: getenv("KAFKA_CHECKOUT_TOPIC", "checkout-events"),
		KafkaGroupID:       getenv("KAFKA_GROUP_ID", "cart-service"),
		KafkaDLQTopic:      getenv("KAFKA_DLQ_TOPIC", "checkout-events-dlq"),

		DefaultCurrency: strings.ToUpper(getenv("DEFAULT_CURRENCY", "USD")),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if cfg.PostgresPort, err = atoi("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.CartCacheTTL, err = duration("CART_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.GuestCartTTL, err = duration("GUEST_CART_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.JanitorInterval, err = duration("JANITOR_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres, StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be one of postgres, sqlite, memory: got %q", c.Storage)
	}

	//devは使い捨てのシークレットでよい
	if c.JWTSecret == "" {
		if !c.IsDev() {
			return fmt.Errorf("JWT_SECRET is required")
		}
		c.JWTSecret = "dev_secret_change_me"
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3 letter code: got %q", c.DefaultCurrency)
	}
	if c.GuestCartTTL <= 0 {
		return fmt.Errorf("GUEST_CART_TTL must be positive")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be positive")
	}
	return nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
