package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devicefeed/devicefeed/publish"
	"github.com/devicefeed/devicefeed/sim"
)

var (
	// Shared CLI flags
	configPath string  // Optional YAML config file
	logLevel   string  // Log verbosity level
	numDevices int     // Number of simulated devices
	rateMean   float64 // Mean per-device event rate (events/sec)
	rateStdDev float64 // Stddev of per-device event rate
	rateFloor  float64 // Minimum per-device event rate
	seed       int64   // Seed for the device population and all sampling

	// CLI flags for the broker
	bootstrap    string        // Kafka bootstrap servers, comma-separated
	topic        string        // Destination topic
	format       string        // Record format: json or cbor
	otlpEndpoint string        // OTLP/HTTP metrics endpoint (host:port); empty disables export
	maxEvents    int           // Stop after this many events (0 = run until interrupted)
	flushTimeout time.Duration // Deadline for the final flush on shutdown
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "devicefeed",
	Short: "Paced multi-device telemetry event generator",
	Long: "Simulates a fleet of devices that fire on independent exponential schedules " +
		"and merges them into one time-ordered stream paced to the wall clock.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd publishes the generated stream to Kafka until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate events and publish them to Kafka",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveFeedConfig(cmd, os.LookupEnv)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		codec, err := publish.CodecByName(cfg.Format)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		ctx := cmd.Context()
		meter, shutdownTelemetry, err := setupTelemetry(ctx, cfg.OTLPEndpoint, 15*time.Second)
		if err != nil {
			logrus.Fatalf("Failed to set up telemetry: %v", err)
		}
		metrics, err := publish.NewMetrics(meter, cfg.Topic)
		if err != nil {
			logrus.Fatalf("Failed to create metrics: %v", err)
		}

		pub, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: publish.ParseBrokers(cfg.Bootstrap),
			Topic:   cfg.Topic,
			Codec:   codec,
		}, metrics)
		if err != nil {
			logrus.Fatalf("Failed to create publisher: %v", err)
		}

		gen, err := sim.NewGenerator(cfg.GeneratorConfig(time.Now()))
		if err != nil {
			logrus.Fatalf("Failed to create generator: %v", err)
		}

		logrus.Infof("Publishing %d devices (rate mean=%.3f stddev=%.3f floor=%.3f) to %s on %s as %s",
			cfg.Devices, cfg.RateMean, cfg.RateStdDev, cfg.RateFloor, cfg.Topic, cfg.Bootstrap, codec.Name())

		startTime := time.Now()
		produced, runErr := pump(ctx, gen, pub, feedOptions{limit: maxEvents, metrics: metrics})

		// The run context is usually cancelled by now; flush on a fresh deadline
		// so events already handed to the writer are not dropped.
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
		defer cancel()
		if err := pub.Flush(flushCtx); err != nil {
			logrus.Errorf("Final flush incomplete: %v", err)
		}
		if err := shutdownTelemetry(flushCtx); err != nil {
			logrus.Warnf("Telemetry shutdown: %v", err)
		}

		stats := pub.Stats()
		logrus.Infof("Produced %d events in %v (enqueued=%d delivered=%d failed=%d)",
			produced, time.Since(startTime).Round(time.Millisecond), stats.Enqueued, stats.Delivered, stats.Failed)
		if runErr != nil {
			logrus.Fatalf("Generator stopped: %v", runErr)
		}
	},
}

// resolveFeedConfig layers defaults, the config file, environment and
// explicitly set flags, in increasing precedence.
func resolveFeedConfig(cmd *cobra.Command, lookup func(string) (string, bool)) (FeedConfig, error) {
	cfg := DefaultFeedConfig()
	if configPath != "" {
		if err := loadFeedConfigFile(configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("devices") {
		cfg.Devices = numDevices
	}
	if flags.Changed("rate-mean") {
		cfg.RateMean = rateMean
	}
	if flags.Changed("rate-stddev") {
		cfg.RateStdDev = rateStdDev
	}
	if flags.Changed("rate-floor") {
		cfg.RateFloor = rateFloor
	}
	if flags.Changed("seed") {
		s := seed
		cfg.Seed = &s
	}
	if flags.Lookup("bootstrap") != nil && flags.Changed("bootstrap") {
		cfg.Bootstrap = bootstrap
	}
	if flags.Lookup("topic") != nil && flags.Changed("topic") {
		cfg.Topic = topic
	}
	if flags.Lookup("format") != nil && flags.Changed("format") {
		cfg.Format = format
	}
	if flags.Lookup("otlp-endpoint") != nil && flags.Changed("otlp-endpoint") {
		cfg.OTLPEndpoint = otlpEndpoint
	}
	if flags.Lookup("flush-timeout") != nil && flags.Changed("flush-timeout") {
		cfg.FlushTimeout = flushTimeout
	}

	if err := cfg.GeneratorConfig(time.Time{}).Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Execute runs the CLI root command. SIGINT and SIGTERM cancel the command
// context, which stops the generator at its next step.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	defaults := DefaultFeedConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (keys: devices, rate_mean, rate_stddev, rate_floor, seed, bootstrap, topic, format, otlp_endpoint)")
	pf.StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.IntVar(&numDevices, "devices", defaults.Devices, fmt.Sprintf("Number of simulated devices [$%s]", EnvNumDevices))
	pf.Float64Var(&rateMean, "rate-mean", defaults.RateMean, fmt.Sprintf("Mean per-device event rate in events/sec [$%s]", EnvRateMean))
	pf.Float64Var(&rateStdDev, "rate-stddev", defaults.RateStdDev, fmt.Sprintf("Stddev of per-device event rate [$%s]", EnvRateStdDev))
	pf.Float64Var(&rateFloor, "rate-floor", defaults.RateFloor, fmt.Sprintf("Minimum per-device event rate [$%s]", EnvRateFloor))
	pf.Int64Var(&seed, "seed", 0, fmt.Sprintf("Seed for reproducible runs; unset = seeded from the clock [$%s]", EnvSeed))

	runCmd.Flags().StringVar(&bootstrap, "bootstrap", defaults.Bootstrap, fmt.Sprintf("Kafka bootstrap servers, comma-separated [$%s]", EnvBootstrap))
	runCmd.Flags().StringVar(&topic, "topic", defaults.Topic, fmt.Sprintf("Destination topic [$%s]", EnvTopic))
	runCmd.Flags().StringVar(&format, "format", defaults.Format, fmt.Sprintf("Record format: json or cbor [$%s]", EnvFormat))
	runCmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", fmt.Sprintf("OTLP/HTTP metrics endpoint host:port; empty disables export [$%s]", EnvOTLPEndpoint))
	runCmd.Flags().IntVar(&maxEvents, "max-events", 0, "Stop after this many events (0 = run until interrupted)")
	runCmd.Flags().DurationVar(&flushTimeout, "flush-timeout", defaults.FlushTimeout, "Deadline for the final flush on shutdown")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(verifyCmd)
}
