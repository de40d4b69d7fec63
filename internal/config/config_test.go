package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
	assert.Equal(t, 2*time.Second, cfg.Session.ReconnectBaseDuration())
	assert.Equal(t, 60*time.Second, cfg.Session.ReconnectCapDuration())
	assert.Equal(t, DefaultReconnectMax, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Router.DedupTTLDuration())
	assert.Equal(t, DefaultRetentionDays, cfg.Retention.Days)
}

func TestLoadOverridesFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "debug"

[server]
addr = ":9090"

[session]
reconnect_base = "500ms"
reconnect_cap = "30s"
max_reconnect_attempts = 4
qr_ttl = "45s"

[router]
workers = 16
dedup_ttl = "5m"

[retention]
days = 14
schedule = "@daily"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ReconnectBaseDuration())
	assert.Equal(t, 30*time.Second, cfg.Session.ReconnectCapDuration())
	assert.Equal(t, 4, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, 45*time.Second, cfg.Session.QRTTLDuration())
	assert.Equal(t, 16, cfg.Router.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Router.DedupTTLDuration())
	assert.Equal(t, 14, cfg.Retention.Days)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultRouterQueueSize, cfg.Router.QueueSize)
}

func TestParseDurationFallsBack(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-5s", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}
