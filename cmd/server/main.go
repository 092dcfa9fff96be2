package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/config"
	"pharmapos/backend/internal/events"
	"pharmapos/backend/internal/httpapi"
	"pharmapos/backend/internal/logger"
	"pharmapos/backend/internal/metrics"
	"pharmapos/backend/internal/service"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/store/memory"
	pgstore "pharmapos/backend/internal/store/postgres"
	sqlitestore "pharmapos/backend/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *zap.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	repo, err := openRepository(startCtx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, repo.Close)

	receipts := cache.ReceiptCache(cache.NoopReceiptCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			log.Warn("redis unavailable, receipts not cached", zap.Error(err))
			_ = redisCache.Close()
		} else {
			receipts = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("receipt cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafka
		closers = append(closers, kafka.Close)
		log.Info("ledger events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	recorder := metrics.New()
	svc := service.New(repo,
		service.WithLogger(log),
		service.WithPublisher(publisher),
		service.WithMetrics(recorder),
		service.WithReceiptCache(receipts, cfg.IdempotencyTTL()),
		service.WithMaxRetries(cfg.ConflictMaxRetries),
	)

	if cfg.SeedDemoData {
		if err := seedDemoData(startCtx, svc); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		log.Info("demo data seeded")
	}

	users := httpapi.NewStaticUserStore(httpapi.SeededUsers(cfg.SeedAdminPassword, cfg.SeedCashierPassword, time.Now().UTC())...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, users)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(log),
		httpapi.WithMetricsHandler(recorder.Handler()),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second + cfg.WriteLockTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("pharmacy backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openRepository picks postgres when DATABASE_URL is set, then sqlite when
// SQLITE_PATH is set, and otherwise keeps the ledger in memory.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.WriteLockTimeout())
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		log.Info("repository: postgres")
		return pg, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath, cfg.WriteLockTimeout())
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.SQLitePath, err)
		}
		log.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
		return lite, nil
	default:
		log.Warn("repository: in-memory, data is lost on restart")
		return memory.New(memory.WithLockTimeout(cfg.WriteLockTimeout())), nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.SeedAdminPassword == "" && cfg.SeedCashierPassword == "" {
		return fmt.Errorf("SEED_ADMIN_PASSWORD or SEED_CASHIER_PASSWORD must be set")
	}
	for name, password := range map[string]string{
		"SEED_ADMIN_PASSWORD":   cfg.SeedAdminPassword,
		"SEED_CASHIER_PASSWORD": cfg.SeedCashierPassword,
	} {
		if password != "" && len(password) < 8 {
			return fmt.Errorf("%s must be at least 8 characters", name)
		}
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
