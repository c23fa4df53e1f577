package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  ae_title: IA_SERVER_TEST
  port: 21112
pipeline:
  idle_timeout: 10s
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "IA_SERVER_TEST", cfg.Server.AETitle)
	assert.Equal(t, 21112, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.IdleTimeout)
	assert.Equal(t, 2, cfg.Pipeline.Workers)

	// Untouched fields keep their defaults.
	assert.Equal(t, "PACS_INTERNE", cfg.Archive.AETitle)
	assert.Equal(t, 11111, cfg.Archive.Port)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.LeaseDuration)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: 99999
pipeline:
  workers: 0
  confidence_threshold: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	require.Error(t, err)
}
