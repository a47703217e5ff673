package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devicefeed/devicefeed/publish"
	"github.com/devicefeed/devicefeed/sim"
	"github.com/devicefeed/devicefeed/sim/trace"
)

var (
	sampleCount   int  // Number of events to print
	sampleSummary bool // Print a stream summary to stderr afterwards
)

// sampleCmd prints a short paced stream to stdout without a broker
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print generated events to stdout",
	Run: func(cmd *cobra.Command, args []string) {
		if err := checkSampleCount(sampleCount); err != nil {
			logrus.Fatalf("Invalid arguments: %v", err)
		}
		cfg, err := resolveFeedConfig(cmd, os.LookupEnv)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		codec, err := publish.CodecByName(cfg.Format)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		gen, err := sim.NewGenerator(cfg.GeneratorConfig(time.Now()))
		if err != nil {
			logrus.Fatalf("Failed to create generator: %v", err)
		}

		pub := publish.NewStreamPublisher(cmd.OutOrStdout(), codec, nil)
		et := trace.NewEmissionTrace(trace.TraceConfig{MaxRecords: sampleCount})
		if _, err := pump(cmd.Context(), gen, pub, feedOptions{limit: sampleCount, trace: et}); err != nil {
			logrus.Fatalf("Generator stopped: %v", err)
		}
		if err := pub.Close(); err != nil {
			logrus.Fatalf("Failed to write output: %v", err)
		}

		if sampleSummary {
			writeSummary(cmd.ErrOrStderr(), trace.Summarize(et))
		}
	},
}

// checkSampleCount rejects counts that would make sample run, and trace,
// without bound.
func checkSampleCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("--count must be > 0, got %d", n)
	}
	return nil
}

// writeSummary prints a human-readable stream summary.
func writeSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Stream Summary ===")
	fmt.Fprintf(w, "Events         : %d\n", s.TotalEvents)
	fmt.Fprintf(w, "Devices        : %d\n", s.UniqueDevices)
	fmt.Fprintf(w, "Mean lag       : %v\n", s.MeanLag)
	fmt.Fprintf(w, "Max lag        : %v\n", s.MaxLag)
	fmt.Fprintf(w, "Out of order   : %d\n", s.OutOfOrder)
	fmt.Fprintf(w, "Seq violations : %d\n", len(s.Violations))

	ids := make([]string, 0, len(s.DeviceCounts))
	for id := range s.DeviceCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %d\n", id, s.DeviceCounts[id])
	}
	for _, v := range s.Violations {
		fmt.Fprintf(w, "  %s at #%d: %s (expected seq %d, got %d)\n", v.DeviceID, v.Position, v.Kind, v.Expected, v.Got)
	}
}

func init() {
	defaults := DefaultFeedConfig()
	sampleCmd.Flags().IntVarP(&sampleCount, "count", "n", 10, "Number of events to print")
	sampleCmd.Flags().BoolVar(&sampleSummary, "summary", false, "Print a stream summary to stderr afterwards")
	sampleCmd.Flags().StringVar(&format, "format", defaults.Format, fmt.Sprintf("Record format: json or cbor [$%s]", EnvFormat))
}
