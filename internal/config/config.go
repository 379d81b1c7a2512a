// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfall/riskgate/internal/execution"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/quotes"
	"github.com/quantfall/riskgate/internal/risk"
)

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	RunMigrations   bool          `yaml:"runMigrations"`
	MigrationsDir   string        `yaml:"migrationsDir"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if strings.TrimSpace(c.MigrationsDir) == "" {
		c.MigrationsDir = "db/migrations"
	}
}

func (c DatabaseConfig) validate() error {
	// An empty DSN disables persistence entirely; the daemon then runs with
	// in-memory sessions and no trade history.
	if strings.TrimSpace(c.DSN) == "" {
		return nil
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.RunMigrations && strings.TrimSpace(c.MigrationsDir) == "" {
		return fmt.Errorf("migrationsDir required when runMigrations is set")
	}
	return nil
}

// BrokerConfig selects the live-order broker backend. "none" disables live
// execution and reconciliation; "sim" wires the in-memory simulated broker
// for end-to-end dry runs.
type BrokerConfig struct {
	Kind string `yaml:"kind"`
}

func (c *BrokerConfig) applyDefaults() {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = "none"
	}
}

func (c BrokerConfig) validate() error {
	switch c.Kind {
	case "none", "sim":
		return nil
	default:
		return fmt.Errorf("broker kind must be one of none, sim")
	}
}

// ReconcileConfig controls the broker reconciliation worker.
type ReconcileConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseInterval time.Duration `yaml:"baseInterval"`
}

func (c *ReconcileConfig) applyDefaults() {
	if c.BaseInterval <= 0 {
		c.BaseInterval = 5 * time.Second
	}
}

// AppConfig is the unified riskgate application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment                   `yaml:"environment"`
	Risk        risk.Limits                   `yaml:"risk"`
	Throttle    risk.ThrottleConfig           `yaml:"throttle"`
	Fees        execution.FeeConfig           `yaml:"fees"`
	Paper       execution.PaperConfig         `yaml:"paper"`
	Live        execution.LiveConfig          `yaml:"live"`
	Quotes      quotes.WSConfig               `yaml:"quotes"`
	Broker      BrokerConfig                  `yaml:"broker"`
	Reconcile   ReconcileConfig               `yaml:"reconcile"`
	Database    DatabaseConfig                `yaml:"database"`
	Telemetry   observability.TelemetryConfig `yaml:"telemetry"`
	Logging     observability.LogConfig       `yaml:"logging"`
}

// Load reads and validates an AppConfig from the provided YAML file. Sections
// left out of the file pick up their package defaults, and ceilings clamp any
// configured risk limits before callers ever see them.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultAppConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func defaultAppConfig() AppConfig {
	limits := risk.DefaultLimits()
	return AppConfig{
		Environment: EnvDev,
		Risk:        limits,
		Throttle:    risk.DefaultThrottleConfig(),
		Fees:        execution.DefaultFeeConfig(),
		Paper:       execution.DefaultPaperConfig(limits.MaxLossPerTrade),
		Live:        execution.DefaultLiveConfig(),
		Reconcile:   ReconcileConfig{Enabled: true},
	}
}

func (c *AppConfig) normalise() {
	if env := strings.TrimSpace(os.Getenv("RISKGATE_ENV")); env != "" {
		c.Environment = Environment(env)
	}
	if dsn := strings.TrimSpace(os.Getenv("RISKGATE_DB_DSN")); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := strings.TrimSpace(os.Getenv("RISKGATE_QUOTES_URL")); url != "" {
		c.Quotes.URL = url
	}
	if endpoint := strings.TrimSpace(os.Getenv("RISKGATE_OTLP_ENDPOINT")); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
	}

	// Hard ceilings win over whatever the file asked for.
	c.Risk = c.Risk.Clamped()

	// The paper simulator and the gate must agree on the per-trade cap, and
	// every executor charges the same fee schedule.
	c.Paper.MaxLossPerTrade = c.Risk.MaxLossPerTrade
	c.Paper.Fees = c.Fees
	c.Live.Fees = c.Fees

	c.Database.applyDefaults()
	c.Broker.applyDefaults()
	c.Reconcile.applyDefaults()
}

// Validate rejects configuration the daemon cannot safely run with.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if !c.Risk.MaxLossPerTrade.IsPositive() {
		return fmt.Errorf("risk maxLossPerTrade must be > 0")
	}
	if !c.Risk.MaxDailyLoss.IsPositive() {
		return fmt.Errorf("risk maxDailyLoss must be > 0")
	}
	if c.Risk.DailyTradeCap <= 0 {
		return fmt.Errorf("risk dailyTradeCap must be > 0")
	}
	if c.Risk.Cooldown <= 0 {
		return fmt.Errorf("risk cooldown must be > 0")
	}

	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}

	if c.Paper.MinLatency < 0 || c.Paper.MaxLatency < c.Paper.MinLatency {
		return fmt.Errorf("paper latency range invalid")
	}
	if c.Paper.BaseSlippagePct.IsNegative() || c.Paper.MaxSlippagePct.LessThan(c.Paper.BaseSlippagePct) {
		return fmt.Errorf("paper slippage range invalid")
	}

	if c.Live.OrdersPerSecond <= 0 {
		return fmt.Errorf("live ordersPerSecond must be > 0")
	}
	if c.Live.PollInterval <= 0 || c.Live.FillTimeout <= 0 {
		return fmt.Errorf("live poll interval and fill timeout must be > 0")
	}

	if err := c.Broker.validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = os.Getenv("RISKGATE_CONFIG")
	}
	if strings.TrimSpace(candidate) == "" {
		return nil, nil, fmt.Errorf("config path required")
	}
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
