package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int    `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	IBKRGatewayURL   string `yaml:"ibkr_gateway_url"`
	SessionStorePath string `yaml:"session_store_path"`

	FeedTimeframe string  `yaml:"feed_timeframe"`
	Sizing        string  `yaml:"sizing"` // auto | fixed
	TickSize      string  `yaml:"tick_size"`
	ATRPeriod     int     `yaml:"atr_period"`
	ATRDivisor    float64 `yaml:"atr_divisor"`
	MaxLevels     int     `yaml:"max_levels"`

	Reset            string  `yaml:"reset"` // period | trend_a | trend_b
	ResetPeriod      string  `yaml:"reset_period"`
	SupertrendPeriod int     `yaml:"supertrend_period"`
	SupertrendFactor float64 `yaml:"supertrend_factor"`
	SARAcceleration  float64 `yaml:"sar_acceleration"`
	SARMaximum       float64 `yaml:"sar_maximum"`

	Layout        string  `yaml:"layout"`  // single | double
	Side          string  `yaml:"side"`    // left | right
	Display       string  `yaml:"display"` // totals | delta
	Dimension     string  `yaml:"dimension"`
	Normalization string  `yaml:"normalization"` // gross | level_max
	Offset        int     `yaml:"offset"`
	MaxWidth      int     `yaml:"max_width"`
	MinAge        float64 `yaml:"min_age"`
}

func defaults() Config {
	return Config{
		Port:             8087,
		LogLevel:         "info",
		IBKRGatewayURL:   "https://127.0.0.1:5000",
		SessionStorePath: "./data/session.json",
		FeedTimeframe:    "1m",
		Sizing:           "fixed",
		TickSize:         "0.01",
		ATRPeriod:        14,
		ATRDivisor:       10,
		MaxLevels:        100,
		Reset:            "period",
		ResetPeriod:      "1h",
		SupertrendPeriod: 10,
		SupertrendFactor: 3,
		SARAcceleration:  0.02,
		SARMaximum:       0.2,
		Layout:           "double",
		Side:             "right",
		Display:          "delta",
		Dimension:        "volume",
		Normalization:    "level_max",
		Offset:           0,
		MaxWidth:         30,
	}
}

// Default returns the built-in configuration.
func Default() Config { return defaults() }

func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse overlays YAML onto the defaults and validates the transport fields.
// Indicator switches are resolved by indicator.FromConfig.
func Parse(b []byte) (Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	for _, f := range []*string{&cfg.Sizing, &cfg.Reset, &cfg.Layout, &cfg.Side, &cfg.Display, &cfg.Dimension, &cfg.Normalization} {
		*f = strings.ToLower(strings.TrimSpace(*f))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("invalid port")
	}
	if cfg.MaxLevels < 1 || cfg.MaxLevels > 100 {
		return cfg, errors.New("max_levels must be within 1..100")
	}
	if cfg.MaxWidth < 0 {
		return cfg, errors.New("max_width must be >= 0")
	}
	return cfg, nil
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
