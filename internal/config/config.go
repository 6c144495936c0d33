// Package config loads service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/revenda/ledger/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_DATABASE_DRIVER.
const EnvPrefix = "LEDGER"

type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	PaymentCode PaymentCodeConfig `yaml:"payment_code" mapstructure:"payment_code"`
	Fees        FeesConfig        `yaml:"fees" mapstructure:"fees"`
	Seed        SeedConfig        `yaml:"seed" mapstructure:"seed"`
}

type ServerConfig struct {
	Port string `yaml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DSN is a file path for SQLite or a connection string for PostgreSQL.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

type PaymentCodeConfig struct {
	// Gateway is "static" (codes built locally) or "http".
	Gateway      string        `yaml:"gateway" mapstructure:"gateway"`
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PayeeKey     string        `yaml:"payee_key" mapstructure:"payee_key"`
	MerchantName string        `yaml:"merchant_name" mapstructure:"merchant_name"`
	City         string        `yaml:"city" mapstructure:"city"`
	ImageBaseURL string        `yaml:"image_base_url" mapstructure:"image_base_url"`
}

// FeeConfig is a fee schedule as written in configuration. Amounts are
// strings so they never pass through floating point.
type FeeConfig struct {
	Modality   string `yaml:"modality" mapstructure:"modality"`
	Percentage string `yaml:"percentage" mapstructure:"percentage"`
	Fixed      string `yaml:"fixed" mapstructure:"fixed"`
	HoldDays   int    `yaml:"hold_days" mapstructure:"hold_days"`
}

// RevendaFee overrides the default schedule for one revenda. A list keeps
// revenda ids case sensitive, which map keys in viper are not.
type RevendaFee struct {
	RevendaID string `yaml:"revenda_id" mapstructure:"revenda_id"`
	FeeConfig `yaml:",inline" mapstructure:",squash"`
}

type FeesConfig struct {
	Default   FeeConfig    `yaml:"default" mapstructure:"default"`
	Overrides []RevendaFee `yaml:"overrides" mapstructure:"overrides"`
}

type SeedConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply. The legacy PORT and DB_PATH variables are
// still honoured.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DB_PATH"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("payment_code.gateway", d.PaymentCode.Gateway)
	v.SetDefault("payment_code.endpoint", d.PaymentCode.Endpoint)
	v.SetDefault("payment_code.api_key", d.PaymentCode.APIKey)
	v.SetDefault("payment_code.timeout", d.PaymentCode.Timeout)
	v.SetDefault("payment_code.payee_key", d.PaymentCode.PayeeKey)
	v.SetDefault("payment_code.merchant_name", d.PaymentCode.MerchantName)
	v.SetDefault("payment_code.city", d.PaymentCode.City)
	v.SetDefault("payment_code.image_base_url", d.PaymentCode.ImageBaseURL)
	v.SetDefault("fees.default.modality", d.Fees.Default.Modality)
	v.SetDefault("fees.default.percentage", d.Fees.Default.Percentage)
	v.SetDefault("fees.default.fixed", d.Fees.Default.Fixed)
	v.SetDefault("fees.default.hold_days", d.Fees.Default.HoldDays)
	v.SetDefault("seed.enabled", d.Seed.Enabled)
	v.SetDefault("seed.path", d.Seed.Path)
}

// Validate checks the settings that would otherwise fail late, at the
// first checkout or payment code request.
func (c *Config) Validate() error {
	var errs []error

	switch c.PaymentCode.Gateway {
	case "static":
	case "http":
		if c.PaymentCode.Endpoint == "" {
			errs = append(errs, errors.New("payment_code.endpoint is required for the http gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment_code.gateway %q: want static or http", c.PaymentCode.Gateway))
	}

	if _, err := c.Fees.Default.Schedule(); err != nil {
		errs = append(errs, fmt.Errorf("fees.default: %w", err))
	}
	seen := make(map[string]bool, len(c.Fees.Overrides))
	for i, o := range c.Fees.Overrides {
		if o.RevendaID == "" {
			errs = append(errs, fmt.Errorf("fees.overrides[%d]: revenda_id is required", i))
			continue
		}
		if seen[o.RevendaID] {
			errs = append(errs, fmt.Errorf("fees.overrides[%d]: duplicate revenda %s", i, o.RevendaID))
		}
		seen[o.RevendaID] = true
		if _, err := o.Schedule(); err != nil {
			errs = append(errs, fmt.Errorf("fees.overrides[%d] (%s): %w", i, o.RevendaID, err))
		}
	}

	return errors.Join(errs...)
}

// Schedule converts the configured values into a validated fee schedule.
func (f FeeConfig) Schedule() (domain.FeeSchedule, error) {
	pct, err := parseDecimal(f.Percentage)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("%w: percentage: %w", domain.ErrInvalidFeeSchedule, err)
	}
	fixed, err := parseDecimal(f.Fixed)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("%w: fixed: %w", domain.ErrInvalidFeeSchedule, err)
	}
	s := domain.FeeSchedule{
		Modality:   domain.FeeModality(f.Modality),
		Percentage: pct,
		Fixed:      fixed,
		HoldDays:   f.HoldDays,
	}
	if err := s.Validate(); err != nil {
		return domain.FeeSchedule{}, err
	}
	return s, nil
}

// FeeScheduleFor returns the revenda's override, or the default schedule.
func (c *Config) FeeScheduleFor(revendaID string) (domain.FeeSchedule, error) {
	for _, o := range c.Fees.Overrides {
		if o.RevendaID == revendaID {
			return o.Schedule()
		}
	}
	return c.Fees.Default.Schedule()
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}
