package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicefeed/devicefeed/publish"
	"github.com/devicefeed/devicefeed/sim"
)

// Environment variables recognized by the feed. Each overrides one field.
const (
	EnvNumDevices   = "NUM_DEV"
	EnvRateMean     = "LAM_MEAN"
	EnvRateStdDev   = "LAM_STD"
	EnvRateFloor    = "RATE_FLOOR"
	EnvSeed         = "SEED"
	EnvBootstrap    = "BOOTSTRAP"
	EnvTopic        = "TOPIC"
	EnvFormat       = "FORMAT"
	EnvOTLPEndpoint = "OTLP_ENDPOINT"
)

// FeedConfig is the full runtime configuration of the feed.
// All fields must be listed to satisfy KnownFields(true) strict parsing.
type FeedConfig struct {
	Devices      int     `yaml:"devices"`
	RateMean     float64 `yaml:"rate_mean"`
	RateStdDev   float64 `yaml:"rate_stddev"`
	RateFloor    float64 `yaml:"rate_floor"`
	Seed         *int64  `yaml:"seed"` // nil = seed from the clock
	Bootstrap    string  `yaml:"bootstrap"`
	Topic        string  `yaml:"topic"`
	Format       string  `yaml:"format"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`

	LagWarnThreshold time.Duration `yaml:"lag_warn_threshold"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
}

// DefaultFeedConfig returns the configuration used when nothing is overridden.
func DefaultFeedConfig() FeedConfig {
	gen := sim.DefaultGeneratorConfig()
	return FeedConfig{
		Devices:          gen.Devices.Count,
		RateMean:         gen.Devices.RateMean,
		RateStdDev:       gen.Devices.RateStdDev,
		RateFloor:        gen.Devices.MinRate,
		Bootstrap:        "localhost:29092",
		Topic:            "telemetry.raw",
		Format:           publish.FormatJSON,
		LagWarnThreshold: gen.LagWarnThreshold,
		FlushTimeout:     10 * time.Second,
	}
}

// loadFeedConfigFile overlays the YAML file at path onto cfg. Keys absent from
// the file keep their current value; unknown keys are an error.
func loadFeedConfigFile(path string, cfg *FeedConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment overrides onto cfg. lookup is os.LookupEnv in
// production. Empty values are treated as unset.
func applyEnv(cfg *FeedConfig, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvNumDevices); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvNumDevices, v, err)
		}
		cfg.Devices = n
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{EnvRateMean, &cfg.RateMean},
		{EnvRateStdDev, &cfg.RateStdDev},
		{EnvRateFloor, &cfg.RateFloor},
	} {
		if v, ok := get(f.key); ok {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s=%q: %w", f.key, v, err)
			}
			*f.dst = x
		}
	}
	if v, ok := get(EnvSeed); ok {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvSeed, v, err)
		}
		cfg.Seed = &s
	}
	if v, ok := get(EnvBootstrap); ok {
		cfg.Bootstrap = v
	}
	if v, ok := get(EnvTopic); ok {
		cfg.Topic = v
	}
	if v, ok := get(EnvFormat); ok {
		cfg.Format = v
	}
	if v, ok := get(EnvOTLPEndpoint); ok {
		cfg.OTLPEndpoint = v
	}
	return nil
}

// GeneratorConfig converts the feed configuration for sim.NewGenerator.
// A nil seed is resolved from now.
func (c FeedConfig) GeneratorConfig(now time.Time) sim.GeneratorConfig {
	seed := now.UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
	}
	return sim.GeneratorConfig{
		Devices: sim.DeviceConfig{
			Count:      c.Devices,
			RateMean:   c.RateMean,
			RateStdDev: c.RateStdDev,
			MinRate:    c.RateFloor,
			Baseline:   sim.DefaultBaseline,
		},
		Seed:             seed,
		LagWarnThreshold: c.LagWarnThreshold,
	}
}
