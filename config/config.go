// Package config loads service settings from a YAML file, an optional .env
// file and APP_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr        string
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	Storage struct {
		Driver     string
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	// Telegram.APIEndpoint is a Bot API URL template with two %s verbs,
	// token then method. Point it at a local Bot API server if needed.
	Telegram struct {
		Token       string
		PollTimeout int    `mapstructure:"poll_timeout"`
		APIEndpoint string `mapstructure:"api_endpoint"`
	} `mapstructure:"telegram"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Ledger struct {
		VATRate float64 `mapstructure:"vat_rate"`
	} `mapstructure:"ledger"`

	// Audit.Interval of 0 disables the periodic history audit.
	Audit struct {
		Interval time.Duration
	} `mapstructure:"audit"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "build-report.db")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("ledger.vat_rate", 0.2)
	v.SetDefault("audit.interval", time.Hour)
}

// Load reads path (skipped when empty) and applies environment overrides.
// A .env file in the working directory is loaded first if it exists;
// variables already set in the process environment win over it.
func Load(path string) (Config, error) {
	var c Config
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, err
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate checks settings that would otherwise fail late at startup.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Ledger.VATRate < 0 || c.Ledger.VATRate >= 1 {
		return fmt.Errorf("ledger.vat_rate must be in [0, 1), got %v", c.Ledger.VATRate)
	}
	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.poll_timeout must not be negative")
	}
	if c.Audit.Interval < 0 {
		return fmt.Errorf("audit.interval must not be negative")
	}
	return nil
}
