package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroykontrol/build-report/config"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExampleFile(t *testing.T) {
	c, err := config.Load("example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, c.HTTP.CORSOrigins)
	assert.Equal(t, config.DriverSQLite, c.Storage.Driver)
	assert.Equal(t, 30, c.Telegram.PollTimeout)
	assert.Equal(t, "https://api.telegram.org/bot%s/%s", c.Telegram.APIEndpoint)
	assert.InDelta(t, 0.2, c.Ledger.VATRate, 1e-9)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, 30*time.Minute, c.Audit.Interval)
}

func TestLoad_NoFile_Defaults(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, config.DriverSQLite, c.Storage.Driver)
	assert.Equal(t, "build-report.db", c.Storage.SQLitePath)
	assert.InDelta(t, 0.2, c.Ledger.VATRate, 1e-9)
	assert.Equal(t, time.Hour, c.Audit.Interval)
}

func TestLoad_AuditIntervalFromEnv(t *testing.T) {
	t.Setenv("APP_AUDIT_INTERVAL", "0s")

	c, err := config.Load("")
	require.NoError(t, err)

	assert.Zero(t, c.Audit.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":9000\"\nstorage:\n  driver: sqlite\n")
	t.Setenv("APP_HTTP_ADDR", ":9100")
	t.Setenv("APP_STORAGE_DRIVER", "memory")

	c, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", c.HTTP.Addr)
	assert.Equal(t, config.DriverMemory, c.Storage.Driver)
}

func TestLoad_PostgresWithoutDSN_Rejected(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "postgres.dsn")
}

func TestValidate(t *testing.T) {
	var c config.Config
	c.Storage.Driver = "mongo"
	assert.ErrorContains(t, c.Validate(), "unknown storage.driver")

	c.Storage.Driver = config.DriverMemory
	c.Ledger.VATRate = 1.5
	assert.ErrorContains(t, c.Validate(), "vat_rate")

	c.Ledger.VATRate = 0.2
	c.Audit.Interval = -time.Second
	assert.ErrorContains(t, c.Validate(), "audit.interval")

	c.Audit.Interval = time.Minute
	assert.NoError(t, c.Validate())
}
