package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmapos/backend/internal/config"
	"pharmapos/backend/internal/service"
	"pharmapos/backend/internal/store/memory"
)

func strongConfig() config.Config {
	return config.Config{
		AuthSecret:        "0123456789abcdef0123456789abcdef",
		ManagerPIN:        "739154",
		SeedAdminPassword: "pharmacist-admin",
	}
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "short secret", mutate: func(c *config.Config) { c.AuthSecret = "short" }},
		{name: "common pin", mutate: func(c *config.Config) { c.ManagerPIN = "123456" }},
		{name: "sequential pin", mutate: func(c *config.Config) { c.ManagerPIN = "987654" }},
		{name: "no seeded users", mutate: func(c *config.Config) { c.SeedAdminPassword = "" }},
		{name: "short cashier password", mutate: func(c *config.Config) { c.SeedCashierPassword = "abc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := strongConfig()
			tt.mutate(&cfg)
			assert.Error(t, validateSecurityConfig(cfg))
		})
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	require.NoError(t, validateSecurityConfig(strongConfig()))
}

func TestOpenRepositoryDefaultsToMemory(t *testing.T) {
	repo, err := openRepository(context.Background(), config.Config{WriteLockTimeoutMS: 100}, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	assert.IsType(t, &memory.Store{}, repo)
}

func TestOpenRepositoryUsesSQLitePath(t *testing.T) {
	cfg := config.Config{SQLitePath: t.TempDir() + "/ledger.db", WriteLockTimeoutMS: 100}
	repo, err := openRepository(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestSeedDemoDataIsRepeatable(t *testing.T) {
	svc := service.New(memory.New())

	require.NoError(t, seedDemoData(context.Background(), svc))
	require.NoError(t, seedDemoData(context.Background(), svc))

	products, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, len(demoCatalog))

	for _, p := range products {
		rec, err := svc.Reconcile(context.Background(), p.ID)
		require.NoError(t, err)
		assert.True(t, rec.Balanced, p.Barcode)
	}

	expiring, err := svc.ListExpiringBatches(context.Background(), 30)
	require.NoError(t, err)
	assert.Len(t, expiring, 2)
}
