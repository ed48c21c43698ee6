package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/loykin/termrun/internal/logger"
	"github.com/loykin/termrun/internal/store"
)

// ClickHouseConfig points the optional ClickHouse history sink at a server.
type ClickHouseConfig struct {
	Addr  string `toml:"addr" mapstructure:"addr"`   // host:port of the native interface
	Table string `toml:"table" mapstructure:"table"` // target table, default session_history
}

// Config is the top-level TOML structure for the agent.
type Config struct {
	// DataDir anchors defaults: LogDir and the SQLite store live under it.
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`
	// LogDir holds one append-only output log per session.
	LogDir string `toml:"log_dir" mapstructure:"log_dir"`

	Store store.Config `toml:"store" mapstructure:"store"`

	// HistoryDSN enables the SQL transition audit sink (sqlite path or
	// postgres:// DSN). Empty disables it.
	HistoryDSN string           `toml:"history_dsn" mapstructure:"history_dsn"`
	ClickHouse ClickHouseConfig `toml:"clickhouse" mapstructure:"clickhouse"`

	Log logger.Config `toml:"log" mapstructure:"log"`
}

// Load reads a TOML config file and applies defaults. An empty path yields
// the pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".termrun"
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	// A DSN-only store block keeps its type empty so the factory can infer
	// the backend from the DSN.
	if c.Store.Type == "" && c.Store.DSN == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "sessions.db")
	}
	if c.ClickHouse.Addr != "" && c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "session_history"
	}
}
