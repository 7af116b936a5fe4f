// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	config := NewDefault()

	require.NotNil(t, config)
	assert.Equal(t, "inproc", config.Transport)
	assert.Equal(t, "console", config.Progress)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "text", config.LogFormat)
	assert.False(t, config.MetricsEnabled)
	assert.Positive(t, config.SimulatedWorkers)
	require.NoError(t, config.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(wd) }()

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "inproc", config.Transport)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "khiops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: websocket
coordinator_url: ws://head-node:6831/connect
progress: sse
log_format: json
limits:
  per_host_memory: 100GiB
  max_cores_per_host: 16
`), 0o600))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "websocket", config.Transport)
	assert.Equal(t, "ws://head-node:6831/connect", config.CoordinatorURL)
	assert.Equal(t, "sse", config.Progress)
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, 16, config.Limits.MaxCoresPerHost)

	limits, err := config.Limits.Resolve()
	require.NoError(t, err)
	assert.Equal(t, int64(100)<<30, limits.PerHostMemoryBytes)
	assert.Equal(t, int64(0), limits.PerHostDiskBytes)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("KHIOPS_TRANSPORT", "websocket")
	t.Setenv("KHIOPS_LOG_LEVEL", "debug")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(wd) }()

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "websocket", config.Transport)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RuntimeConfig)
		wantErr error
	}{
		{"unknown transport", func(c *RuntimeConfig) { c.Transport = "mpi" }, ErrInvalidTransport},
		{"unknown progress", func(c *RuntimeConfig) { c.Progress = "gui" }, ErrInvalidProgress},
		{"websocket without url", func(c *RuntimeConfig) { c.Transport = "websocket"; c.CoordinatorURL = "" }, ErrMissingCoordinatorURL},
		{"zero workers", func(c *RuntimeConfig) { c.SimulatedWorkers = 0 }, ErrInvalidWorkerCount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := NewDefault()
			tc.mutate(config)
			assert.ErrorIs(t, config.Validate(), tc.wantErr)
		})
	}
}

func TestValidateBadLimitString(t *testing.T) {
	config := NewDefault()
	config.Limits.PerHostMemory = "lots"
	assert.Error(t, config.Validate())
}
