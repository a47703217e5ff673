package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultInterval is returned by SampleInterval for a non-positive rate so
	// a misconfigured device stays live instead of failing.
	DefaultInterval = time.Second

	// MaxInterval caps a single sampled interval. Very small rates would
	// otherwise overflow time.Duration and wrap negative.
	MaxInterval = 24 * time.Hour

	// StepBound is the half-width of the uniform value perturbation.
	StepBound = 0.5

	// valueScale rounds values to 3 decimal places.
	valueScale = 1000.0
)

// Device is one simulated telemetry source.
// ID and Rate are fixed at construction; Seq and Value change only when the
// device fires.
type Device struct {
	ID    string
	Rate  float64 // mean events per second
	Seq   int64   // number of times this device has fired
	Value float64 // last reported measurement
}

// DeviceID returns the stable identifier for the device at index.
func DeviceID(index int) string {
	return fmt.Sprintf("dev-%04d", index)
}

// NewDevices builds cfg.Count devices. Each rate is drawn from
// Normal(RateMean, RateStdDev) and floored at the configured minimum, so every
// device eventually fires.
func NewDevices(rng *rand.Rand, cfg DeviceConfig) []*Device {
	rates := distuv.Normal{Mu: cfg.RateMean, Sigma: cfg.RateStdDev, Src: rng}
	floor := cfg.minRate()

	devices := make([]*Device, cfg.Count)
	for i := range devices {
		devices[i] = &Device{
			ID:    DeviceID(i),
			Rate:  math.Max(floor, rates.Rand()),
			Value: cfg.Baseline,
		}
	}
	return devices
}

// SampleInterval draws the time until the next firing of a device with the
// given rate: exponential with mean 1/rate seconds, capped at MaxInterval.
// The result is never negative.
func SampleInterval(rng *rand.Rand, rate float64) time.Duration {
	if rate <= 0 || math.IsNaN(rate) {
		return DefaultInterval
	}
	seconds := distuv.Exponential{Rate: rate, Src: rng}.Rand()
	if seconds >= MaxInterval.Seconds() {
		return MaxInterval
	}
	return time.Duration(seconds * float64(time.Second))
}

// Advance applies one bounded random-walk step to value and rounds the result
// to 3 decimal places.
func Advance(rng *rand.Rand, value float64) float64 {
	step := distuv.Uniform{Min: -StepBound, Max: StepBound, Src: rng}.Rand()
	return roundValue(value + step)
}

func roundValue(v float64) float64 {
	return math.Round(v*valueScale) / valueScale
}
