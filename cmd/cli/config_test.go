package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconboard/internal/config"
)

func TestInitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	var out bytes.Buffer
	require.NoError(t, initConfigFile(&out, path, false))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Polling.Interval, cfg.Polling.Interval)

	err = initConfigFile(&out, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, initConfigFile(&out, path, true))
}

func TestShowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.API.BaseURL = "http://recon.local:8888"

	var out bytes.Buffer
	require.NoError(t, showConfig(&out, cfg))
	assert.Contains(t, out.String(), "base_url: http://recon.local:8888")
	assert.Contains(t, out.String(), "interval: 10s")
}
