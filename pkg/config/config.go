// Package config loads runtime settings from an optional config file,
// a .env file and CONCILIA_-prefixed environment variables, in that order
// of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	InputDir    string `mapstructure:"input_dir"`
	ResultsDir  string `mapstructure:"results_dir"`
	DatabaseDSN string `mapstructure:"database_dsn"`

	// TableNames remaps logical ledger table names ("financeiro",
	// "modelo1", ...) to different physical table names. Unset entries
	// keep the default.
	TableNames map[string]string `mapstructure:"table_names"`

	// AliasOverridesPath points at an optional YAML file extending the
	// built-in column alias tables.
	AliasOverridesPath string `mapstructure:"alias_overrides_path"`

	Tolerance            float64  `mapstructure:"tolerance"`
	PayableAccountPrefix string   `mapstructure:"payable_account_prefix"`
	AdvanceAccountPrefix string   `mapstructure:"advance_account_prefix"`
	InvoiceTypes         []string `mapstructure:"invoice_types"`
	AdvanceTypes         []string `mapstructure:"advance_types"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration. cfgFile may be empty, in which case only
// defaults, .env and the environment apply.
func Load(cfgFile string) (*Config, error) {
	// A .env next to the binary feeds the same variables the environment
	// would; real environment variables still take precedence.
	if _, err := os.Stat(".env"); err == nil {
		if err := gotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.SetDefault("input_dir", "entrada")
	v.SetDefault("results_dir", "resultados")
	v.SetDefault("database_dsn", "conciliacao.db")
	v.SetDefault("table_names", map[string]string{})
	v.SetDefault("alias_overrides_path", "")
	v.SetDefault("tolerance", 0.03)
	v.SetDefault("payable_account_prefix", "2.01.02.01.0001")
	v.SetDefault("advance_account_prefix", "1.01.06.02.0001")
	v.SetDefault("invoice_types", []string{"NF", "FT"})
	v.SetDefault("advance_types", []string{"NDF", "PA"})
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("CONCILIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Tolerance < 0 || cfg.Tolerance >= 1 {
		return nil, fmt.Errorf("tolerance must be in [0, 1), got %v", cfg.Tolerance)
	}
	return &cfg, nil
}
