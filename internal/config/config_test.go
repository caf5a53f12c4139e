package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
app:
  name: dialer
  env: test
postgres:
  host: db
  user: u
  database: d
scylla:
  hosts: ["scylla"]
  keyspace: k
kafka:
  brokers: ["kafka:9092"]
  dial_topic: dial
  event_topic: events
  consumer_group_id: g
redis:
  address: redis:6379
dialer:
  default_ratio: 1.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.CycleInterval)
	assert.Equal(t, "US", cfg.Dialer.DefaultRegion)
	assert.InDelta(t, 1.5, cfg.Dialer.DefaultRatio, 1e-9)
	assert.Equal(t, "mock", cfg.Bridge.ProviderName)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DIALER_DIALER_DEFAULT_RATIO", "2.25")
	t.Setenv("DIALER_POSTGRES_HOST", "pg.internal")

	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)
	assert.InDelta(t, 2.25, cfg.Dialer.DefaultRatio, 1e-9)
	assert.Equal(t, "pg.internal", cfg.Postgres.Host)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"\nbridge:\n  answer_rate: 3\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
