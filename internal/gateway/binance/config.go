package binance

import "time"

// Config 描述 Binance Source 运行所需的参数。
type Config struct {
	BaseURL     string        `toml:"base_url" yaml:"base_url"`
	APIKey      string        `toml:"api_key" yaml:"api_key"`
	SecretKey   string        `toml:"secret_key" yaml:"secret_key"`
	BatchLimit  int           `toml:"batch_limit" yaml:"batch_limit"`
	HTTPTimeout time.Duration `toml:"http_timeout" yaml:"http_timeout"`
	// MaxBatches bounds one FetchRange call so an oversized range cannot loop for long.
	MaxBatches int `toml:"max_batches" yaml:"max_batches"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = "https://fapi.binance.com"
	}
	if out.BatchLimit <= 0 || out.BatchLimit > maxHistoryLimit {
		out.BatchLimit = maxHistoryLimit
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.MaxBatches <= 0 {
		out.MaxBatches = 20
	}
	return out
}
