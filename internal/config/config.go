// Package config loads quantdash configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quantdash/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantdash.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Gather   GatherConfig   `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds the default run parameters and engine tuning.
type BacktestConfig struct {
	StartDate     string  `yaml:"start_date"`
	EndDate       string  `yaml:"end_date"`
	Window        int     `yaml:"window"`
	Gap           int     `yaml:"gap"`
	Quantile      float64 `yaml:"quantile"`
	MaxPosition   float64 `yaml:"max_position"`
	CostBps       float64 `yaml:"cost_bps"`
	Signal        string  `yaml:"signal"`
	SignalWorkers int     `yaml:"signal_workers"`
	// LenientUploads drops malformed rows on upload instead of rejecting
	// the whole file.
	LenientUploads bool `yaml:"lenient_uploads"`
}

// GatherConfig controls data gathering behaviour.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	Symbols         []string `yaml:"symbols"`
	SymbolsFile     string   `yaml:"symbols_file"` // CSV whose first column lists extra symbols
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns a configuration usable without a file.
func Default() *Config {
	p := domain.DefaultParams()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/quantdash.db",
		},
		Server: Server{
			Host:     "127.0.0.1",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			DataURL: "https://data.alpaca.markets",
			Feed:    "sip",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: BacktestConfig{
			Window:      p.Window,
			Gap:         p.Gap,
			Quantile:    p.Quantile,
			MaxPosition: p.MaxPosition,
			CostBps:     p.CostBps,
			Signal:      p.Signal,
		},
		Gather: GatherConfig{
			USDaily: GatherJobConfig{
				StartDate:       "2020-01-01",
				BatchSize:       100,
				MaxWorkers:      4,
				RateLimitPerMin: 200,
			},
		},
	}
}

// BacktestParams converts the backtest section into run parameters.
func (c *Config) BacktestParams() (domain.Params, error) {
	b := c.Backtest
	p := domain.Params{
		Window:      b.Window,
		Gap:         b.Gap,
		Quantile:    b.Quantile,
		MaxPosition: b.MaxPosition,
		CostBps:     b.CostBps,
		Signal:      b.Signal,
	}
	var err error
	if b.StartDate != "" {
		if p.StartDate, err = time.Parse(domain.DateLayout, b.StartDate); err != nil {
			return p, &domain.ParamError{Field: "start_date", Reason: err.Error()}
		}
	}
	if b.EndDate != "" {
		if p.EndDate, err = time.Parse(domain.DateLayout, b.EndDate); err != nil {
			return p, &domain.ParamError{Field: "end_date", Reason: err.Error()}
		}
	}
	return p, p.Validate()
}

// HTTPAddr returns host:port for the HTTP listener.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr returns host:grpc_port for the gRPC listener, or "" when gRPC is
// disabled (grpc_port <= 0).
func (c *Config) GRPCAddr() string {
	if c.Server.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default(), and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default() (with
// environment overrides) when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("QUANTDASH_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
