// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/curve"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BUNDLER_DEPLOY_FEE.
const EnvPrefix = "BUNDLER"

type Config struct {
	LogFile              string `mapstructure:"log_file"`
	DebugLogging         bool   `mapstructure:"debug_logging"`
	DeployFee            string `mapstructure:"deploy_fee"`
	InitialVirtualNative string `mapstructure:"initial_virtual_native"`
	InitialVirtualToken  string `mapstructure:"initial_virtual_token"`
	FeeNumerator         uint64 `mapstructure:"fee_numerator"`
	FeeDenominator       uint64 `mapstructure:"fee_denominator"`
	InitialBalance       string `mapstructure:"initial_balance"`
	PostgresURL          string `mapstructure:"postgres_url"`
	MetricsAddr          string `mapstructure:"metrics_addr"`
	EventBuffer          int    `mapstructure:"event_buffer"`
	JournalRetries       int    `mapstructure:"journal_retries"`
	ExportDir            string `mapstructure:"export_dir"`
}

const (
	DefaultLogFile              = "logs/bundler.log"
	DefaultDeployFee            = "0.02"
	DefaultInitialVirtualNative = "30"
	DefaultInitialVirtualToken  = "1073000000"
	DefaultFeeNumerator         = 1
	DefaultFeeDenominator       = 100
	DefaultInitialBalance       = "1000"
	DefaultEventBuffer          = 256
	DefaultJournalRetries       = 5
	DefaultExportDir            = "exports"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log_file":               DefaultLogFile,
		"debug_logging":          false,
		"deploy_fee":             DefaultDeployFee,
		"initial_virtual_native": DefaultInitialVirtualNative,
		"initial_virtual_token":  DefaultInitialVirtualToken,
		"fee_numerator":          DefaultFeeNumerator,
		"fee_denominator":        DefaultFeeDenominator,
		"initial_balance":        DefaultInitialBalance,
		"postgres_url":           "",
		"metrics_addr":           "",
		"event_buffer":           DefaultEventBuffer,
		"journal_retries":        DefaultJournalRetries,
		"export_dir":             DefaultExportDir,
	}
}

// LoadConfig reads path (YAML or JSON), applies defaults and BUNDLER_*
// environment overrides and validates the result. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.CurveParams(); err != nil {
		return err
	}
	if _, err := cfg.InitialBalanceAmount(); err != nil {
		return err
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer: must be positive")
	}
	if cfg.JournalRetries < 0 {
		return errors.New("invalid journal_retries: must not be negative")
	}
	if cfg.PostgresURL != "" {
		if err := validatePostgresURL(cfg.PostgresURL); err != nil {
			return err
		}
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr %q: %w", cfg.MetricsAddr, err)
		}
	}
	return nil
}

// CurveParams converts the launch settings into factory parameters.
func (c *Config) CurveParams() (curve.Params, error) {
	deployFee, err := units.Parse(c.DeployFee, curve.Decimals)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid deploy_fee: %w", err)
	}
	vNative, err := units.Parse(c.InitialVirtualNative, curve.Decimals)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid initial_virtual_native: %w", err)
	}
	vToken, err := units.Parse(c.InitialVirtualToken, curve.Decimals)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid initial_virtual_token: %w", err)
	}

	p := curve.Params{
		DeployFee:      deployFee,
		VirtualNative:  vNative,
		VirtualToken:   vToken,
		FeeNumerator:   uint256.NewInt(c.FeeNumerator),
		FeeDenominator: uint256.NewInt(c.FeeDenominator),
	}
	if err := p.Validate(); err != nil {
		return curve.Params{}, err
	}
	return p, nil
}

// InitialBalanceAmount is the native balance granted to every local account.
func (c *Config) InitialBalanceAmount() (*uint256.Int, error) {
	v, err := units.Parse(c.InitialBalance, curve.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid initial_balance: %w", err)
	}
	return v, nil
}

func validatePostgresURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid postgres_url: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return errors.New("invalid postgres_url: scheme must be postgres or postgresql")
	}
	return nil
}
