package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/Swind/go-timeslice/bitwise"
)

// Config is the file form of the CLI settings. Flags and BITWISE_* env
// vars override whatever the file sets.
type Config struct {
	Workers      int          `yaml:"workers"`
	DirtyWorkers int          `yaml:"dirty_workers"`
	LogLevel     string       `yaml:"log_level"`
	MetricsAddr  string       `yaml:"metrics_addr"`
	Engine       EngineConfig `yaml:"engine"`
}

// EngineConfig tunes the chunked executor. Sizes are human-readable
// ("4MiB", "512KB").
type EngineConfig struct {
	SliceBytes    string        `yaml:"slice_bytes"`
	MinSliceBytes string        `yaml:"min_slice_bytes"`
	CostUnit      time.Duration `yaml:"cost_unit"`
}

func defaultConfig() Config {
	return Config{
		Workers:      1,
		DirtyWorkers: 1,
		LogLevel:     "info",
		Engine: EngineConfig{
			SliceBytes:    humanize.IBytes(bitwise.DefaultSliceBytes),
			MinSliceBytes: "1B",
			CostUnit:      bitwise.DefaultCostUnit,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags overlays every global flag the user set explicitly.
func (cfg *Config) applyFlags(c *cli.Context) {
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagDirtyWorkers) {
		cfg.DirtyWorkers = c.Int(flagDirtyWorkers)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagMetricsAddr) {
		cfg.MetricsAddr = c.String(flagMetricsAddr)
	}
	if c.IsSet(flagSliceBytes) {
		cfg.Engine.SliceBytes = c.String(flagSliceBytes)
	}
}

func (cfg Config) validate() error {
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.DirtyWorkers < 1 {
		return fmt.Errorf("dirty_workers must be at least 1, got %d", cfg.DirtyWorkers)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	_, err := cfg.Engine.options()
	return err
}

// options turns the engine section into bitwise options.
func (ec EngineConfig) options() ([]bitwise.Option, error) {
	var opts []bitwise.Option

	if ec.SliceBytes != "" {
		n, err := parseSize("slice_bytes", ec.SliceBytes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bitwise.WithDefaultSliceBytes(n))
	}
	if ec.MinSliceBytes != "" {
		n, err := parseSize("min_slice_bytes", ec.MinSliceBytes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bitwise.WithMinSliceBytes(n))
	}
	if ec.CostUnit < 0 {
		return nil, fmt.Errorf("cost_unit must not be negative, got %s", ec.CostUnit)
	}
	if ec.CostUnit > 0 {
		opts = append(opts, bitwise.WithCostUnit(ec.CostUnit))
	}
	return opts, nil
}

func parseSize(name, s string) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
