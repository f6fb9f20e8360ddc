package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Oracle      OracleConfig     `mapstructure:"oracle"`
	MarketFeed  MarketFeedConfig `mapstructure:"market_feed"`
	Governance  GovernanceConfig `mapstructure:"governance"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
}

// Configured reports whether a durable backend has been set up.
func (c DatabaseConfig) Configured() bool {
	return c.DatabaseURL != "" || c.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OracleConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key" json:"-" yaml:"-"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens"`
}

type MarketFeedConfig struct {
	ServiceURL     string `mapstructure:"service_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type GovernanceConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	ApplyOverrides         bool    `mapstructure:"apply_overrides"`
	BatchSubmission        bool    `mapstructure:"batch_submission"`
	MaxAdjustmentsPerCycle int     `mapstructure:"max_adjustments_per_cycle"`
	DailyBudgetUSD         float64 `mapstructure:"daily_budget_usd"`
	ArtifactsDir           string  `mapstructure:"artifacts_dir"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   string `mapstructure:"chat_id"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Policy switches keep their operational env names.
	envBindings := map[string]string{
		"governance.enabled":                   "AUTONOMY_ENABLED",
		"governance.apply_overrides":           "AUTONOMY_APPLY_OVERRIDES",
		"governance.batch_submission":          "AUTONOMY_BATCH_SUBMISSION",
		"governance.max_adjustments_per_cycle": "AUTONOMY_MAX_ADJUSTMENTS",
		"governance.daily_budget_usd":          "AUTONOMY_DAILY_BUDGET_USD",
		"oracle.api_key":                       "XAI_API_KEY",
		"telegram.bot_token":                   "TELEGRAM_BOT_TOKEN",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	// A production governance process must not run against the
	// filesystem mirror alone.
	if config.Environment == "production" && !config.Database.Configured() {
		return nil, errors.New("durable storage is required in production: set database.host or database.database_url")
	}
	if config.Governance.MaxAdjustmentsPerCycle < 1 {
		return nil, fmt.Errorf("governance.max_adjustments_per_cycle must be >= 1, got %d", config.Governance.MaxAdjustmentsPerCycle)
	}
	if config.Governance.DailyBudgetUSD <= 0 {
		return nil, fmt.Errorf("governance.daily_budget_usd must be positive, got %v", config.Governance.DailyBudgetUSD)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8090)

	viper.SetDefault("database.host", "")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "strategy_governor")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")

	viper.SetDefault("redis.host", "")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("oracle.base_url", "https://api.x.ai")
	viper.SetDefault("oracle.api_key", "")
	viper.SetDefault("oracle.timeout_seconds", 60)
	viper.SetDefault("oracle.input_cost_per_mtok", 2.0)
	viper.SetDefault("oracle.output_cost_per_mtok", 10.0)
	viper.SetDefault("oracle.max_output_tokens", 4096)

	viper.SetDefault("market_feed.service_url", "")
	viper.SetDefault("market_feed.timeout_seconds", 15)

	viper.SetDefault("governance.enabled", true)
	viper.SetDefault("governance.apply_overrides", false)
	viper.SetDefault("governance.batch_submission", true)
	viper.SetDefault("governance.max_adjustments_per_cycle", 1)
	viper.SetDefault("governance.daily_budget_usd", 10.0)
	viper.SetDefault("governance.artifacts_dir", "./data/governance")

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "")
}
