package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "etl/incoming", cfg.InboxDir)
	assert.Equal(t, "etl/processed", cfg.ProcessedDir)
	assert.Equal(t, 10, cfg.MoveRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.MoveBackoff)
	assert.Equal(t, 3, cfg.CostumeFallbackQty)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ETL_INBOX_DIR", "/data/in")
	t.Setenv("ETL_MOVE_RETRIES", "4")
	t.Setenv("ETL_MOVE_BACKOFF", "2s")
	t.Setenv("ETL_COSTUME_FALLBACK_QTY", "2")
	t.Setenv("ETL_S3_ENDPOINT", "minio.local:9000")
	t.Setenv("ETL_S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.InboxDir)
	assert.Equal(t, 4, cfg.MoveRetries)
	assert.Equal(t, 2*time.Second, cfg.MoveBackoff)
	assert.Equal(t, 2, cfg.CostumeFallbackQty)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.S3UseSSL)
}

func TestLoadRejectsNonPositives(t *testing.T) {
	t.Setenv("ETL_MOVE_RETRIES", "0")
	t.Setenv("ETL_MOVE_BACKOFF", "-1s")
	t.Setenv("ETL_COSTUME_FALLBACK_QTY", "-2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MoveRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.MoveBackoff)
	assert.Equal(t, 3, cfg.CostumeFallbackQty)
}
