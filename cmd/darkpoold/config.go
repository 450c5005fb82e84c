package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/0x5487/darkpool"
	"github.com/spf13/viper"
	dbm "github.com/tendermint/tm-db"
)

// Config is the daemon configuration, read from $HOME/config.toml and DARKPOOL_* environment variables.
type Config struct {
	Home string `mapstructure:"home"`

	LogLevel  string `mapstructure:"log_level"`
	DBBackend string `mapstructure:"db_backend"`

	APIAddr          string `mapstructure:"api_addr"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`

	// EventBuffer is the ring buffer size between the pool and the event sinks, a power of 2.
	EventBuffer int64 `mapstructure:"event_buffer"`

	Pool   PoolConfig      `mapstructure:"pool"`
	Engine darkpool.Config `mapstructure:"engine"`

	// Balances seeds the in-memory bank, account -> amount.
	Balances map[string]uint64 `mapstructure:"balances"`
}

// PoolConfig is applied once, the first time the daemon starts on an empty ledger.
type PoolConfig struct {
	Authority      string `mapstructure:"authority"`
	FeeBasisPoints uint16 `mapstructure:"fee_basis_points"`
	FeeAccount     string `mapstructure:"fee_account"`
}

// DefaultConfig returns the configuration written by the init command.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		DBBackend:        string(dbm.GoLevelDBBackend),
		APIAddr:          "127.0.0.1:26680",
		MetricsAddr:      ":26660",
		MetricsNamespace: "darkpool",
		Workers:          4,
		QueueSize:        1024,
		EventBuffer:      4096,
		Pool: PoolConfig{
			Authority:      "authority",
			FeeBasisPoints: 30,
			FeeAccount:     "fees",
		},
		Engine: darkpool.DefaultConfig(),
	}
}

// ValidateBasic performs basic validation.
func (c Config) ValidateBasic() error {
	if len(c.Home) == 0 {
		return errors.New("home directory is required")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be positive")
	}
	if c.EventBuffer <= 0 || c.EventBuffer&(c.EventBuffer-1) != 0 {
		return errors.New("event_buffer must be a power of 2")
	}
	if len(c.APIAddr) == 0 {
		return errors.New("api_addr is required")
	}
	switch dbm.BackendType(c.DBBackend) {
	case dbm.GoLevelDBBackend, dbm.MemDBBackend:
	default:
		return fmt.Errorf("unsupported db_backend %q", c.DBBackend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

func (c Config) DataDir() string { return filepath.Join(c.Home, "data") }

func (c Config) KeyDir() string { return filepath.Join(c.Home, "keys") }

func (c Config) ConfigFile() string { return filepath.Join(c.Home, "config.toml") }

// loadConfig reads the configuration of home on top of the defaults.
func loadConfig(v *viper.Viper, home string) (Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetConfigFile(filepath.Join(home, "config.toml"))
	v.SetEnvPrefix("DARKPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Home = home

	if err := cfg.ValidateBasic(); err != nil {
		return Config{}, fmt.Errorf("error in config file: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("db_backend", cfg.DBBackend)
	v.SetDefault("api_addr", cfg.APIAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("metrics_namespace", cfg.MetricsNamespace)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("queue_size", cfg.QueueSize)
	v.SetDefault("event_buffer", cfg.EventBuffer)
	v.SetDefault("pool.authority", cfg.Pool.Authority)
	v.SetDefault("pool.fee_basis_points", cfg.Pool.FeeBasisPoints)
	v.SetDefault("pool.fee_account", cfg.Pool.FeeAccount)
	v.SetDefault("engine.command_buffer", cfg.Engine.CommandBuffer)
	v.SetDefault("engine.compute_timeout", cfg.Engine.ComputeTimeout)
	v.SetDefault("engine.transfer_timeout", cfg.Engine.TransferTimeout)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}
