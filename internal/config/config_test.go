package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ModeServe, cfg.Mode)
	assert.Equal(t, filepath.Join(cfg.DataDir, "events"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "queries"), cfg.QueryStore.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "compaction.db"), cfg.Compaction.JournalPath)
}

func TestValidate_Rejections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "bogus"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Type = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Type = "s3"
	assert.Error(t, cfg.Validate(), "s3 without bucket must fail")
	cfg.Storage.S3.Bucket = "events"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mode: compact
data_dir: /var/lib/errata
http:
  addr: ":9999"
storage:
  type: s3
  s3:
    bucket: events
    region: eu-central-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeCompact, cfg.Mode)
	assert.Equal(t, "/var/lib/errata", cfg.DataDir)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "events", cfg.Storage.S3.Bucket)

	// Unset fields keep their defaults.
	assert.Equal(t, 4, cfg.Tasks.Workers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ERRATA_MODE", "compact")
	t.Setenv("ERRATA_HTTP_ADDR", ":7070")
	t.Setenv("ERRATA_TASK_WORKERS", "8")
	t.Setenv("ERRATA_QUERY_STORE_TTL", "1h")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, ModeCompact, cfg.Mode)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 8, cfg.Tasks.Workers)
	assert.Equal(t, time.Hour, cfg.QueryStore.TTL)
}
