package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/middleware"
	"github.com/fundverse/backend/internal/models"
)

const devJWTSecret = "dev-secret-change-me"

// Config is the service configuration. Keys are environment variable names;
// a config file given by CONFIG_FILE may set the same keys.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// LockPoolSize caps the separate pool that holds campaign advisory locks.
	LockPoolSize int    `mapstructure:"LOCK_POOL_SIZE"`
	Port         string `mapstructure:"PORT"`

	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	RequireRegisteredBackers bool `mapstructure:"REQUIRE_REGISTERED_BACKERS"`
	SettlementWorkers        int  `mapstructure:"SETTLEMENT_WORKERS"`
	RiverWorkers             int  `mapstructure:"RIVER_WORKERS"`

	PollInterval        time.Duration `mapstructure:"POLL_INTERVAL"`
	SettleSweepInterval time.Duration `mapstructure:"SETTLE_SWEEP_INTERVAL"`
	AuditInterval       time.Duration `mapstructure:"AUDIT_INTERVAL"`
	SweepLimit          int           `mapstructure:"SWEEP_LIMIT"`

	EscrowAccount      string        `mapstructure:"ESCROW_ACCOUNT"`
	NativeLedgerURL    string        `mapstructure:"NATIVE_LEDGER_URL"`
	PaymentVerifierURL string        `mapstructure:"PAYMENT_VERIFIER_URL"`
	SPVServiceURL      string        `mapstructure:"SPV_SERVICE_URL"`
	RailServiceToken   string        `mapstructure:"RAIL_SERVICE_TOKEN"`
	RailTimeout        time.Duration `mapstructure:"RAIL_TIMEOUT"`

	RailNativeDecimals      int32 `mapstructure:"RAIL_NATIVE_DECIMALS"`
	RailTraditionalDecimals int32 `mapstructure:"RAIL_TRADITIONAL_DECIMALS"`
	RailEquityDecimals      int32 `mapstructure:"RAIL_EQUITY_DECIMALS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	MaxContribution   uint64 `mapstructure:"MAX_CONTRIBUTION"`
	MaxDailyPerBacker uint64 `mapstructure:"MAX_DAILY_PER_BACKER"`

	OperatorEmail    string `mapstructure:"OPERATOR_EMAIL"`
	OperatorPassword string `mapstructure:"OPERATOR_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOCK_POOL_SIZE", 32)
	v.SetDefault("PORT", "8080")
	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_TTL", 24*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("REQUIRE_REGISTERED_BACKERS", true)
	v.SetDefault("SETTLEMENT_WORKERS", 8)
	v.SetDefault("RIVER_WORKERS", 10)
	v.SetDefault("POLL_INTERVAL", 30*time.Second)
	v.SetDefault("SETTLE_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("AUDIT_INTERVAL", 10*time.Minute)
	v.SetDefault("SWEEP_LIMIT", 200)
	v.SetDefault("ESCROW_ACCOUNT", "escrow")
	v.SetDefault("NATIVE_LEDGER_URL", "")
	v.SetDefault("PAYMENT_VERIFIER_URL", "")
	v.SetDefault("SPV_SERVICE_URL", "")
	v.SetDefault("RAIL_SERVICE_TOKEN", "")
	v.SetDefault("RAIL_TIMEOUT", 15*time.Second)
	v.SetDefault("RAIL_NATIVE_DECIMALS", 8)
	v.SetDefault("RAIL_TRADITIONAL_DECIMALS", 2)
	v.SetDefault("RAIL_EQUITY_DECIMALS", 2)
	v.SetDefault("CORS_ORIGINS", []string{"http://localhost:3000"})
	v.SetDefault("MAX_CONTRIBUTION", 0)
	v.SetDefault("MAX_DAILY_PER_BACKER", 0)
	v.SetDefault("OPERATOR_EMAIL", "")
	v.SetDefault("OPERATOR_PASSWORD", "")
}

// Load reads defaults, then the optional file named by CONFIG_FILE (or path
// when non-empty), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.DatabaseURL != "" && c.JWTSecret == devJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set when DATABASE_URL is"))
	}
	if c.DatabaseURL != "" && c.LockPoolSize < 1 {
		errs = append(errs, errors.New("LOCK_POOL_SIZE must be at least 1"))
	}
	if c.SettlementWorkers < 1 {
		errs = append(errs, errors.New("SETTLEMENT_WORKERS must be at least 1"))
	}
	for key, d := range map[string]time.Duration{
		"POLL_INTERVAL":         c.PollInterval,
		"SETTLE_SWEEP_INTERVAL": c.SettleSweepInterval,
		"AUDIT_INTERVAL":        c.AuditInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	for key, d := range map[string]int32{
		"RAIL_NATIVE_DECIMALS":      c.RailNativeDecimals,
		"RAIL_TRADITIONAL_DECIMALS": c.RailTraditionalDecimals,
		"RAIL_EQUITY_DECIMALS":      c.RailEquityDecimals,
	} {
		if d < 0 || d > 18 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 18", key))
		}
	}
	if (c.OperatorEmail == "") != (c.OperatorPassword == "") {
		errs = append(errs, errors.New("OPERATOR_EMAIL and OPERATOR_PASSWORD go together"))
	}
	return errors.Join(errs...)
}

// MemoryMode reports whether the service runs without Postgres.
func (c *Config) MemoryMode() bool { return c.DatabaseURL == "" }

// Engine returns the escrow engine settings.
func (c *Config) Engine() escrow.Config {
	return escrow.Config{
		RequireRegisteredBackers: c.RequireRegisteredBackers,
		SettlementWorkers:        c.SettlementWorkers,
		UnitExponents: map[models.Rail]int32{
			models.RailNative:      c.RailNativeDecimals,
			models.RailTraditional: c.RailTraditionalDecimals,
			models.RailEquity:      c.RailEquityDecimals,
		},
	}
}

// Limits returns the per-backer contribution guards.
func (c *Config) Limits() middleware.Limits {
	return middleware.Limits{MaxPerContribution: c.MaxContribution, MaxPerDay: c.MaxDailyPerBacker}
}
