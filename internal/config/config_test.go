package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromDir(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFromDir(t)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.True(t, cfg.Governance.Enabled)
	assert.True(t, cfg.Governance.BatchSubmission)
	// Overrides must be opted into explicitly.
	assert.False(t, cfg.Governance.ApplyOverrides)
	assert.Equal(t, 1, cfg.Governance.MaxAdjustmentsPerCycle)
	assert.Equal(t, 10.0, cfg.Governance.DailyBudgetUSD)
	assert.Equal(t, 2.0, cfg.Oracle.InputCostPerMTok)
	assert.Equal(t, 10.0, cfg.Oracle.OutputCostPerMTok)
	assert.Equal(t, 4096, cfg.Oracle.MaxOutputTokens)
	assert.False(t, cfg.Database.Configured())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTONOMY_ENABLED", "false")
	t.Setenv("AUTONOMY_APPLY_OVERRIDES", "true")
	t.Setenv("AUTONOMY_MAX_ADJUSTMENTS", "3")
	t.Setenv("AUTONOMY_DAILY_BUDGET_USD", "25.5")
	t.Setenv("XAI_API_KEY", "test-key")

	cfg, err := loadFromDir(t)
	require.NoError(t, err)

	assert.False(t, cfg.Governance.Enabled)
	assert.True(t, cfg.Governance.ApplyOverrides)
	assert.Equal(t, 3, cfg.Governance.MaxAdjustmentsPerCycle)
	assert.Equal(t, 25.5, cfg.Governance.DailyBudgetUSD)
	assert.Equal(t, "test-key", cfg.Oracle.APIKey)
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := loadFromDir(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "durable storage is required in production")
}

func TestLoadProductionWithDatabaseURL(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_DATABASE_URL", "postgres://gov:gov@db:5432/governor")

	cfg, err := loadFromDir(t)
	require.NoError(t, err)
	assert.True(t, cfg.Database.Configured())
}

func TestLoadRejectsBadGovernanceValues(t *testing.T) {
	t.Setenv("AUTONOMY_MAX_ADJUSTMENTS", "0")
	_, err := loadFromDir(t)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveBudget(t *testing.T) {
	t.Setenv("AUTONOMY_DAILY_BUDGET_USD", "0")
	_, err := loadFromDir(t)
	assert.Error(t, err)
}
