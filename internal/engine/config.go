package engine

import (
	"chartlens/internal/analysis/crossover"
	"chartlens/internal/analysis/divergence"
	"chartlens/internal/analysis/indicator"
	"chartlens/internal/analysis/levels"
	"chartlens/internal/analysis/pattern"
	"chartlens/internal/analysis/trendline"
)

// Config carries detector defaults. It is the [analysis] section of the service config.
type Config struct {
	ExtremaWindow      int                `toml:"extrema_window" yaml:"extrema_window" json:"extrema_window"`
	DefaultIndicator   string             `toml:"default_indicator" yaml:"default_indicator" json:"default_indicator"`
	MinIndicatorPoints int                `toml:"min_indicator_points" yaml:"min_indicator_points" json:"min_indicator_points"`
	DivergenceKinds    string             `toml:"divergence_kinds" yaml:"divergence_kinds" json:"divergence_kinds"`
	Seed               int64              `toml:"seed" yaml:"seed" json:"seed"`
	CacheMax           int                `toml:"cache_max" yaml:"cache_max" json:"cache_max"`
	Trendline          trendline.Options  `toml:"trendline" yaml:"trendline" json:"trendline"`
	Pattern            pattern.Config     `toml:"pattern" yaml:"pattern" json:"pattern"`
	Divergence         divergence.Options `toml:"divergence" yaml:"divergence" json:"divergence"`
	Crossover          crossover.Config   `toml:"crossover" yaml:"crossover" json:"crossover"`
	Indicators         indicator.Settings `toml:"indicators" yaml:"indicators" json:"indicators"`
	Levels             levels.Options     `toml:"levels" yaml:"levels" json:"levels"`
}

func DefaultConfig() Config {
	return Config{
		ExtremaWindow:      5,
		DefaultIndicator:   indicator.RSI,
		MinIndicatorPoints: 10,
		DivergenceKinds:    "regular",
		Trendline:          trendline.DefaultOptions(),
		Pattern:            pattern.DefaultConfig(),
		Divergence:         divergence.DefaultOptions(),
		Indicators:         indicator.Settings{}.Normalize(),
		Levels:             levels.DefaultOptions(),
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ExtremaWindow <= 0 {
		c.ExtremaWindow = def.ExtremaWindow
	}
	if c.DefaultIndicator == "" {
		c.DefaultIndicator = def.DefaultIndicator
	}
	if c.MinIndicatorPoints <= 0 {
		c.MinIndicatorPoints = def.MinIndicatorPoints
	}
	if c.DivergenceKinds == "" {
		c.DivergenceKinds = def.DivergenceKinds
	}
	c.Trendline = c.Trendline.Normalize()
	c.Pattern = c.Pattern.Normalize()
	if c.Divergence.Lookback <= 0 {
		c.Divergence.Lookback = def.Divergence.Lookback
	}
	if c.Divergence.MinStrength <= 0 {
		c.Divergence.MinStrength = def.Divergence.MinStrength
	}
	c.Indicators = c.Indicators.Normalize()
	c.Levels = c.Levels.Normalize()
	return c
}
