package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("TIKHUB_AUTH_KEY", "tk-test")
	t.Setenv("DY_API_KEY", "svc-test")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "data/json", cfg.Storage.JSONDir)
	assert.Equal(t, "data/index.db", cfg.Storage.IndexDB)
	assert.Equal(t, 3, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 86400, cfg.Jobs.RetentionSeconds)
	assert.Equal(t, ":17649", cfg.HTTP.Addr)
	assert.Equal(t, "X-API-KEY", cfg.HTTP.APIKeyHeader)
	assert.Equal(t, 60, cfg.Douyin.FetchTimeout)
}

func TestNewFromEnv_RequiresKeys(t *testing.T) {
	t.Setenv("TIKHUB_AUTH_KEY", "")
	t.Setenv("DY_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIKHUB_AUTH_KEY")

	t.Setenv("TIKHUB_AUTH_KEY", "tk-test")
	_, err = NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DY_API_KEY")
}

func TestNewFromEnv_UIDMap(t *testing.T) {
	t.Setenv("TIKHUB_AUTH_KEY", "tk-test")
	t.Setenv("DY_API_KEY", "svc-test")
	t.Setenv("UID_TO_NAME_MAP", `{"10086":"Alice","10087":"Bob"}`)

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "Alice", cfg.Storage.UIDToName["10086"])
	assert.Equal(t, "Bob", cfg.Storage.UIDToName["10087"])
}

func TestNewFromEnv_MalformedUIDMap(t *testing.T) {
	t.Setenv("TIKHUB_AUTH_KEY", "tk-test")
	t.Setenv("DY_API_KEY", "svc-test")
	t.Setenv("UID_TO_NAME_MAP", `{not json`)

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.Storage.UIDToName)
}

func TestNewFromEnv_Options(t *testing.T) {
	t.Setenv("TIKHUB_AUTH_KEY", "tk-test")
	t.Setenv("DY_API_KEY", "svc-test")

	cfg, err := NewFromEnv(func(c *Config) {
		c.Jobs.MaxConcurrent = 5
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Jobs.MaxConcurrent)
}
