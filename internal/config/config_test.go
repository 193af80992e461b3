package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/orders")
	t.Setenv("STORE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, "txlab.orders", cfg.KafkaTopic)
	assert.False(t, cfg.SeedDemoData)
}

func TestLoadRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "postgres")

	_, err := Load()
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestLoadMemoryStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "Memory")
	t.Setenv("SEED_DEMO_DATA", "yes")
	t.Setenv("PRODUCT_CACHE_TTL_MS", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.SeedDemoData)
	assert.Equal(t, 500*time.Millisecond, cfg.ProductCacheTTL)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadBadNumbersFallBack(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("OUTBOX_BATCH", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.OutboxBatch)
}

func TestLoadNotifier(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/orders")
	t.Setenv("KAFKA_GROUP_ID", "")

	cfg, err := LoadNotifier()
	require.NoError(t, err)
	assert.Equal(t, "notification-service", cfg.GroupID)
	assert.Equal(t, "txlab.orders", cfg.Topic)
}
