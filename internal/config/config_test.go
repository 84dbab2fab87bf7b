package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configVars = []string{
	"LISTEN_ADDR", "NATS_URL", "DB_CONN_STR", "REDIS_ADDR", "OUTPUT_DIR", "DEVICES_FILE",
	"AUTO_REGISTER", "READ_TIMEOUT", "MAX_BUFFER", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configVars {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultNATSURL, cfg.NATSURL)
	assert.Equal(t, DefaultDBConnStr, cfg.DBConnStr)
	assert.Equal(t, DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, "./logs", cfg.OutputDir)
	assert.Empty(t, cfg.DevicesFile)
	assert.False(t, cfg.AutoRegister)
	assert.Equal(t, 5*time.Minute, cfg.ReadTimeout)
	assert.Equal(t, 65536, cfg.MaxBuffer)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("OUTPUT_DIR", "/test/output")
	t.Setenv("DEVICES_FILE", "/etc/arnavi/devices.yaml")
	t.Setenv("AUTO_REGISTER", "true")
	t.Setenv("READ_TIMEOUT", "90s")
	t.Setenv("MAX_BUFFER", "4096")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "/test/output", cfg.OutputDir)
	assert.Equal(t, "/etc/arnavi/devices.yaml", cfg.DevicesFile)
	assert.True(t, cfg.AutoRegister)
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 4096, cfg.MaxBuffer)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"auto register not a bool", "AUTO_REGISTER", "maybe"},
		{"read timeout not a duration", "READ_TIMEOUT", "soon"},
		{"read timeout negative", "READ_TIMEOUT", "-5s"},
		{"max buffer not a number", "MAX_BUFFER", "big"},
		{"max buffer too small", "MAX_BUFFER", "8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestParseDevices(t *testing.T) {
	data := []byte(`
devices:
  - identifier: "860719020212696"
    name: truck-1
    id: 12
  - identifier: " 42 "
    name: trailer
`)
	devices, err := ParseDevices(data)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, int64(12), devices[0].ID)
	assert.Equal(t, "860719020212696", devices[0].Identifier)
	assert.Equal(t, "truck-1", devices[0].Name)
	assert.Equal(t, "42", devices[1].Identifier)
	assert.Zero(t, devices[1].ID)
}

func TestParseDevices_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"malformed yaml", "devices: [", "failed to parse"},
		{"missing identifier", "devices:\n  - name: x\n", "identifier is required"},
		{"duplicate identifier", "devices:\n  - identifier: \"1\"\n  - identifier: \"1\"\n", "duplicate identifier 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDevices([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDevices_Empty(t *testing.T) {
	devices, err := ParseDevices(nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestLoadDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - identifier: \"7\"\n    id: 3\n"), 0o644))

	devices, err := LoadDevices(path)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, int64(3), devices[0].ID)

	_, err = LoadDevices(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
