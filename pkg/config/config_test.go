package config_test

import (
	"testing"
	"time"

	"github.com/clinicore/clinicore-backend/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("stock-service")
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "clinicore_stock", cfg.Database.Database)
	assert.Equal(t, 30, cfg.Stock.ExpiringSoonDays)
	assert.Equal(t, 3*time.Second, cfg.Stock.LockTimeout)
	assert.Equal(t, time.Hour, cfg.Stock.ScanInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLINICORE_STOCK_EXPIRING_SOON_DAYS", "14")
	t.Setenv("CLINICORE_DATABASE_PORT", "5544")

	cfg, err := config.Load("stock-service")
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Stock.ExpiringSoonDays)
	assert.Equal(t, 5544, cfg.Database.Port)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "stock",
		Password: "secret",
		Database: "stockdb",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5432 user=stock password=secret dbname=stockdb sslmode=require",
		cfg.DSN(),
	)
}

func TestLoadWithValidation_RejectsLocalhostInProduction(t *testing.T) {
	t.Setenv("CLINICORE_SERVER_ENVIRONMENT", "production")

	_, err := config.LoadWithValidation("stock-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLINICORE_DATABASE_HOST")
}
