package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	AllowedOrigin string

	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	SeedAdminPassword     string
	SeedCashierPassword   string
	SeedDemoData          bool

	LogLevel  string
	LogFormat string

	WriteLockTimeoutMS    int
	ConflictMaxRetries    int
	IdempotencyTTLSeconds int
}

// Load reads the environment and, when CONFIG_FILE points at one, a config
// file. Environment variables win over file values. Secrets have no
// defaults; cmd/server refuses to start without them.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_TOPIC", "pharmapos.ledger")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("WRITE_LOCK_TIMEOUT_MS", 5000)
	v.SetDefault("CONFLICT_MAX_RETRIES", 3)
	v.SetDefault("IDEMPOTENCY_TTL_SECONDS", 86400)

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		SQLitePath:            strings.TrimSpace(v.GetString("SQLITE_PATH")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		KafkaBrokers:          splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:            v.GetString("KAFKA_TOPIC"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		SeedAdminPassword:     v.GetString("SEED_ADMIN_PASSWORD"),
		SeedCashierPassword:   v.GetString("SEED_CASHIER_PASSWORD"),
		SeedDemoData:          v.GetBool("SEED_DEMO_DATA"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		WriteLockTimeoutMS:    v.GetInt("WRITE_LOCK_TIMEOUT_MS"),
		ConflictMaxRetries:    v.GetInt("CONFLICT_MAX_RETRIES"),
		IdempotencyTTLSeconds: v.GetInt("IDEMPOTENCY_TTL_SECONDS"),
	}

	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.WriteLockTimeoutMS < 1 {
		cfg.WriteLockTimeoutMS = 5000
	}
	if cfg.ConflictMaxRetries < 0 {
		cfg.ConflictMaxRetries = 0
	}
	if cfg.IdempotencyTTLSeconds < 1 {
		cfg.IdempotencyTTLSeconds = 86400
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) WriteLockTimeout() time.Duration {
	return time.Duration(c.WriteLockTimeoutMS) * time.Millisecond
}

func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
