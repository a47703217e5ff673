package sim

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid generator config")

const (
	// DefaultMinRate is the floor applied to every sampled device rate.
	DefaultMinRate = 0.1

	// MinRateLimit is the smallest accepted explicit rate floor.
	MinRateLimit = 1e-6

	// DefaultBaseline is the initial measurement value of every device.
	DefaultBaseline = 50.0
	// DefaultLagWarnThreshold is how far behind schedule the generator may
	// fall before it logs a warning.
	DefaultLagWarnThreshold = time.Second
)

// DeviceConfig groups the parameters of a device population.
type DeviceConfig struct {
	Count      int     // number of devices (must be > 0)
	RateMean   float64 // mean of the per-device rate distribution, events/second
	RateStdDev float64 // standard deviation of the rate distribution (>= 0)
	MinRate    float64 // floor applied to each sampled rate (> 0; 0 = DefaultMinRate)
	Baseline   float64 // initial device value
}

// GeneratorConfig groups everything NewGenerator needs.
type GeneratorConfig struct {
	Devices DeviceConfig
	Seed    int64

	// LagWarnThreshold enables a warning each time emission falls this far
	// behind the scheduled time. Zero disables the warning.
	LagWarnThreshold time.Duration
}

// DefaultGeneratorConfig returns the configuration used when nothing is overridden.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Devices: DeviceConfig{
			Count:      10,
			RateMean:   1.0,
			RateStdDev: 0.5,
			MinRate:    DefaultMinRate,
			Baseline:   DefaultBaseline,
		},
		LagWarnThreshold: DefaultLagWarnThreshold,
	}
}

// Validate reports the first invalid field. A negative or zero RateMean is
// accepted: the rate floor turns it into a slow but live population.
func (c DeviceConfig) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("%w: device count must be > 0, got %d", ErrInvalidConfig, c.Count)
	}
	if math.IsNaN(c.RateMean) || math.IsInf(c.RateMean, 0) {
		return fmt.Errorf("%w: rate mean must be finite, got %v", ErrInvalidConfig, c.RateMean)
	}
	if math.IsNaN(c.RateStdDev) || math.IsInf(c.RateStdDev, 0) || c.RateStdDev < 0 {
		return fmt.Errorf("%w: rate stddev must be finite and >= 0, got %v", ErrInvalidConfig, c.RateStdDev)
	}
	if math.IsNaN(c.MinRate) || math.IsInf(c.MinRate, 0) || c.MinRate < 0 {
		return fmt.Errorf("%w: min rate must be finite and >= 0, got %v", ErrInvalidConfig, c.MinRate)
	}
	if c.MinRate > 0 && c.MinRate < MinRateLimit {
		return fmt.Errorf("%w: min rate must be 0 (default) or >= %v, got %v", ErrInvalidConfig, MinRateLimit, c.MinRate)
	}
	if math.IsNaN(c.Baseline) || math.IsInf(c.Baseline, 0) {
		return fmt.Errorf("%w: baseline must be finite, got %v", ErrInvalidConfig, c.Baseline)
	}
	return nil
}

// Validate checks the device population and the lag threshold.
func (c GeneratorConfig) Validate() error {
	if err := c.Devices.Validate(); err != nil {
		return err
	}
	if c.LagWarnThreshold < 0 {
		return fmt.Errorf("%w: lag warn threshold must be >= 0, got %v", ErrInvalidConfig, c.LagWarnThreshold)
	}
	return nil
}

// minRate returns the effective rate floor.
func (c DeviceConfig) minRate() float64 {
	if c.MinRate <= 0 {
		return DefaultMinRate
	}
	return c.MinRate
}
