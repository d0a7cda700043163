package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STOREFRONT_LEDGER_BACKEND", "memory")
	t.Setenv("STOREFRONT_KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.App.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.App.AbandonedThreshold)
	assert.Equal(t, "inventory", cfg.Ledger.InventorySheet)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "data/orders", cfg.App.OrdersDir())
	assert.True(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoadRequiresSheetID(t *testing.T) {
	t.Setenv("STOREFRONT_LEDGER_BACKEND", "sheets")
	t.Setenv("STOREFRONT_GOOGLE_SHEET_ID", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_SHEET_ID")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STOREFRONT_LEDGER_BACKEND", "excel")

	_, err := Load()
	require.Error(t, err)
}
