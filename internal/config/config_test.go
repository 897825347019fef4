package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte("redis: redis://cache:6379\n"), false)
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379", cfg.Redis)
	assert.True(t, cfg.CallbackVerifySSL)
	assert.False(t, cfg.PurgeRepos)
	assert.Equal(t, 3, cfg.CallbackMaxAttempts)
	assert.Equal(t, 30, cfg.CallbackRetryDelay)
	assert.Equal(t, "@every 1m", cfg.PollSchedule)
}

func TestParseOverrides(t *testing.T) {
	raw := `
quiet_time: 5
purge_repos: true
callback_url: https://ci.example.com/callbacks
callback_user: admin
callback_key: secret
callback_verify_ssl: false
builders:
  rpm: createrepo_c "$REPO_DIR"
`
	cfg, err := parse([]byte(raw), false)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.QuietTime)
	assert.Equal(t, "5s", cfg.QuietDuration().String())
	assert.True(t, cfg.PurgeRepos)
	assert.False(t, cfg.CallbackVerifySSL)
	assert.Equal(t, "admin", cfg.CallbackUser)
	assert.Equal(t, `createrepo_c "$REPO_DIR"`, cfg.Builders.RPM)
	assert.Empty(t, cfg.Builders.DEB)
	assert.False(t, cfg.Builders.Reprepro.Enabled)
	assert.Equal(t, "main", cfg.Builders.Reprepro.Components)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "negative quiet time", raw: "quiet_time: -1\n"},
		{name: "invalid callback url", raw: "callback_url: not a url\n"},
		{name: "zero attempts", raw: "callback_max_attempts: 0\n"},
		{name: "empty database", raw: "database: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.raw), false)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repod.yml")
	require.NoError(t, os.WriteFile(path, []byte("quiet_time: 12\n"), 0644))

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.QuietTime)

	_, err = LoadConfigFromPath(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
