package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.05, cfg.Audit.ToleranciaTarifa, 0.001)
	assert.InDelta(t, 1423500, cfg.Audit.SalarioMinimo, 0.01)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentRadicados)
	assert.Equal(t, 2, cfg.Batch.MaxRetries)
	assert.Equal(t, 5, cfg.Batch.BackoffSecs)
	assert.False(t, cfg.Payer.Enabled)
	assert.InDelta(t, 2, cfg.Payer.RatePerSecond, 0.001)
	assert.Equal(t, 60, cfg.Anthropic.TimeoutSecs)
	assert.NotEmpty(t, cfg.Anthropic.Model)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: glosas.db
log:
  level: debug
  format: console
server:
  port: 9090
audit:
  tolerancia_tarifa: 0.1
batch:
  max_concurrent_radicados: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "glosas.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.1, cfg.Audit.ToleranciaTarifa, 0.001)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentRadicados)
	// Defaults still apply for unset values
	assert.Equal(t, 2, cfg.Batch.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GLOSAS_STORE_DRIVER", "postgres")
	t.Setenv("GLOSAS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GLOSAS_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "glosas.db"
	cfg.Audit.ToleranciaTarifa = 0.05
	cfg.Batch.MaxConcurrentRadicados = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAudit_SQLiteSinURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("audit"))
}

func TestValidateAudit_PostgresSinURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("audit")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateRules_SinClaveAnthropic(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("rules")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("rules"))
}

func TestValidateServe_PuertoInvalido(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateModoDesconocido(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateLimitesConcurrencia(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentRadicados = 0
	err := cfg.Validate("audit")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_radicados must be between 1 and 50")

	cfg.Batch.MaxConcurrentRadicados = 51
	err = cfg.Validate("audit")
	assert.Error(t, err)

	cfg.Batch.MaxConcurrentRadicados = 50
	assert.NoError(t, cfg.Validate("audit"))
}

func TestValidateTolerancia(t *testing.T) {
	cfg := validDefaults()

	cfg.Audit.ToleranciaTarifa = -0.1
	err := cfg.Validate("audit")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tolerancia_tarifa")

	cfg.Audit.ToleranciaTarifa = 1.5
	err = cfg.Validate("audit")
	assert.Error(t, err)

	cfg.Audit.ToleranciaTarifa = 0.05
	assert.NoError(t, cfg.Validate("audit"))
}

func TestValidatePayerHabilitadoSinURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Payer.Enabled = true

	err := cfg.Validate("audit")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "payer.base_url")

	cfg.Payer.BaseURL = "https://eps.example.com"
	assert.NoError(t, cfg.Validate("audit"))
}
