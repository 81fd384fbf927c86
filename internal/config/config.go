// Package config loads the chartlens service configuration from TOML or YAML plus
// CHARTLENS_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"chartlens/internal/analysis/divergence"
	"chartlens/internal/engine"
	"chartlens/internal/gateway/binance"
	"chartlens/internal/logger"
)

const envPrefix = "CHARTLENS_"

type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Binance  BinanceConfig  `toml:"binance" yaml:"binance"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	Analysis engine.Config  `toml:"analysis" yaml:"analysis"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

type BinanceConfig struct {
	BaseURL            string `toml:"base_url" yaml:"base_url"`
	APIKey             string `toml:"api_key" yaml:"api_key"`
	SecretKey          string `toml:"secret_key" yaml:"secret_key"`
	BatchLimit         int    `toml:"batch_limit" yaml:"batch_limit"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	MaxBatches         int    `toml:"max_batches" yaml:"max_batches"`
}

// Gateway converts to the Binance source config.
func (b BinanceConfig) Gateway() binance.Config {
	return binance.Config{
		BaseURL:     b.BaseURL,
		APIKey:      b.APIKey,
		SecretKey:   b.SecretKey,
		BatchLimit:  b.BatchLimit,
		HTTPTimeout: time.Duration(b.HTTPTimeoutSeconds) * time.Second,
		MaxBatches:  b.MaxBatches,
	}
}

// StorageConfig selects the candle cache and signal journal backend.
// Driver "memory" keeps candles in process and disables the journal.
type StorageConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// RedisConfig enables the Redis level store when Addr is set.
type RedisConfig struct {
	Addr      string `toml:"addr" yaml:"addr"`
	Password  string `toml:"password" yaml:"password"`
	DB        int    `toml:"db" yaml:"db"`
	TTLFactor int    `toml:"ttl_factor" yaml:"ttl_factor"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	JSON  bool   `toml:"json" yaml:"json"`
}

func Default() Config {
	cfg := Config{}
	cfg.withDefaults()
	return cfg
}

func (c *Config) withDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":9991"
	}
	if c.Binance.HTTPTimeoutSeconds <= 0 {
		c.Binance.HTTPTimeoutSeconds = 15
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = "chartlens.db"
	}
	if c.Redis.TTLFactor <= 0 {
		c.Redis.TTLFactor = 3
	}
	if c.Analysis.CacheMax <= 0 {
		c.Analysis.CacheMax = 5000
	}
	c.Analysis = c.Analysis.WithDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
	}
	if _, err := divergence.ParseKinds(c.Analysis.DivergenceKinds); err != nil {
		return fmt.Errorf("analysis.divergence_kinds: %w", err)
	}
	if c.Analysis.Trendline.Threshold >= 1 {
		return fmt.Errorf("analysis.trendline.threshold must be below 1")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}
	if c.Binance.BatchLimit < 0 || c.Binance.MaxBatches < 0 {
		return fmt.Errorf("binance.batch_limit and binance.max_batches must not be negative")
	}
	return nil
}

// Load reads path (TOML unless the extension is .yaml/.yml), then applies .env and
// CHARTLENS_* overrides, defaults and validation. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	// analysis starts from the detector defaults so a partial section keeps the rest,
	// and an explicit zero (min_significance = 0) survives.
	cfg := &Config{Analysis: engine.DefaultConfig()}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败 %s: %w", path, err)
		}
	}
	loadDotEnv(path)
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return toml.Marshal(cfg)
}

// loadDotEnv reads .env from the working directory and from next to the config file.
// Existing environment variables win.
func loadDotEnv(path string) {
	candidates := []string{".env"}
	if path != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(path), ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Warnf("[config] load %s failed: %v", p, err)
		}
	}
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}

	str("SERVER_ADDR", &c.Server.Addr)
	str("BINANCE_BASE_URL", &c.Binance.BaseURL)
	str("BINANCE_API_KEY", &c.Binance.APIKey)
	str("BINANCE_SECRET_KEY", &c.Binance.SecretKey)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("STORAGE_DSN", &c.Storage.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("LOG_LEVEL", &c.Log.Level)
	str("DIVERGENCE_KINDS", &c.Analysis.DivergenceKinds)
	if v, ok := os.LookupEnv(envPrefix + "SEED"); ok {
		seed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", envPrefix, err))
		} else {
			c.Analysis.Seed = seed
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_JSON"); ok {
		c.Log.JSON, _ = strconv.ParseBool(strings.TrimSpace(v))
	}
	return errors.Join(errs...)
}
