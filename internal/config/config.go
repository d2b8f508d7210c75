package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the defect analyzer.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	History HistoryConfig `yaml:"history"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig controls the HTTP, gRPC, and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string          `yaml:"httpAddress"`
	GRPCAddress     string          `yaml:"grpcAddress"`
	MetricsAddress  string          `yaml:"metricsAddress"`
	GracefulTimeout time.Duration   `yaml:"gracefulTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig bounds how often the analyze endpoints may be called.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DataConfig points at the defect-rate and parameter sources.
type DataConfig struct {
	DefectRatesPath string        `yaml:"defectRatesPath"`
	ParametersPath  string        `yaml:"parametersPath"`
	DefectRateSheet string        `yaml:"defectRateSheet"`
	ParameterSheet  string        `yaml:"parameterSheet"`
	ReloadTTL       time.Duration `yaml:"reloadTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls response caching. With Enabled set and Addr empty an
// in-process cache is used; with Addr set, Valkey.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ResponseTTL  time.Duration `yaml:"responseTTL"`
}

// HistoryConfig controls persistence of completed analyses. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DEFECT_ANALYZER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			RateLimit:       RateLimitConfig{RPS: 20, Burst: 40},
		},
		Data: DataConfig{
			DefectRatesPath: "data/defect_rate.csv",
			ParametersPath:  "data/params.csv",
			ReloadTTL:       30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ResponseTTL:  5 * time.Minute,
		},
		Tracing: TracingConfig{ServiceName: "defect-analyzer", SampleRatio: 1},
	}
}

func (c *Config) validate() error {
	if c.Data.DefectRatesPath == "" || c.Data.ParametersPath == "" {
		return fmt.Errorf("config: data.defectRatesPath and data.parametersPath are required")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config: server.rateLimit must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("config: tracing.sampleRatio must be within [0, 1]")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEFECT_ANALYZER_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit.RPS = rps
		}
	}
	if v := os.Getenv("DEFECT_ANALYZER_RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit.Burst = burst
		}
	}
	if v := os.Getenv("DEFECT_ANALYZER_DEFECT_RATES_PATH"); v != "" {
		cfg.Data.DefectRatesPath = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_PARAMETERS_PATH"); v != "" {
		cfg.Data.ParametersPath = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_RELOAD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Data.ReloadTTL = d
		}
	}
	if v := os.Getenv("DEFECT_ANALYZER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("DEFECT_ANALYZER_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResponseTTL = d
		}
	}
	if v := os.Getenv("DEFECT_ANALYZER_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("DEFECT_ANALYZER_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = isTrue(v)
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
