package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Storage:   StorageConfig{Root: "/tmp/data"},
		Exchanges: []ExchangeConfig{{Name: "binance", RPS: 10, Burst: 20, BaseURL: "https://example.test"}},
		Broker:    BrokerConfig{StartingCash: 10000, Leverage: 5, MaintenanceMarginRate: 0.005},
	}
}

func TestValidate_AcceptsAWellFormedConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidate_RejectsEmptyStorageRoot(t *testing.T) {
	c := validConfig()
	c.Storage.Root = ""
	err := c.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "storage.root", cfgErr.Field)
}

func TestValidate_RejectsNoExchanges(t *testing.T) {
	c := validConfig()
	c.Exchanges = nil
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsDuplicateExchangeNames(t *testing.T) {
	c := validConfig()
	c.Exchanges = append(c.Exchanges, ExchangeConfig{Name: "binance", RPS: 5, Burst: 5})
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsBurstBelowRPS(t *testing.T) {
	c := validConfig()
	c.Exchanges[0].Burst = 1
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNonPositiveStartingCash(t *testing.T) {
	c := validConfig()
	c.Broker.StartingCash = 0
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsMaintenanceMarginRateOutOfRange(t *testing.T) {
	c := validConfig()
	c.Broker.MaintenanceMarginRate = 1
	assert.Error(t, c.Validate())
}

func TestLoad_ParsesYAMLAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
storage:
  root: /tmp/data
exchanges:
  - name: binance
    rps: 10
    burst: 20
broker:
  starting_cash: 10000
  leverage: 5
  maintenance_margin_rate: 0.005
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data", cfg.Storage.Root)
	assert.Equal(t, "binance", cfg.Exchanges[0].Name)
}

func TestLoad_PropagatesValidationErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  root: /tmp/data\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ErrorsOnMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
