package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("FITBOOK_AUTH_JWT_SECRET", testSecret)
	t.Setenv("FITBOOK_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("FITBOOK_STORE_DRIVER", "Memory")
	t.Setenv("FITBOOK_RATELIMIT_WINDOW", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPCAddr())
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	require.NotNil(t, cfg.FacilityLocation)
	assert.Equal(t, "Europe/Istanbul", cfg.FacilityLocation.String())
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("FITBOOK_AUTH_JWT_SECRET", testSecret)
	path := filepath.Join(t.TempDir(), "fitbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("facility:\n  timezone: UTC\nlog:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.UTC, cfg.FacilityLocation)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "short secret", env: map[string]string{"FITBOOK_AUTH_JWT_SECRET": "short"}},
		{name: "unknown driver", env: map[string]string{"FITBOOK_AUTH_JWT_SECRET": testSecret, "FITBOOK_STORE_DRIVER": "sqlite"}},
		{name: "bad duration", env: map[string]string{"FITBOOK_AUTH_JWT_SECRET": testSecret, "FITBOOK_SHUTDOWN_TIMEOUT": "soon"}},
		{name: "bad timezone", env: map[string]string{"FITBOOK_AUTH_JWT_SECRET": testSecret, "FITBOOK_FACILITY_TIMEZONE": "Mars/Olympus"}},
		{name: "bad sample ratio", env: map[string]string{"FITBOOK_AUTH_JWT_SECRET": testSecret, "FITBOOK_OTEL_SAMPLE_RATIO": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FITBOOK_AUTH_JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
