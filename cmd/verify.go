package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devicefeed/devicefeed/publish"
	"github.com/devicefeed/devicefeed/sim/trace"
)

var (
	verifyGroup      string        // Consumer group; empty = a fresh throwaway group
	verifyMaxRecords int           // Stop after this many records (0 = until the timeout)
	verifyTimeout    time.Duration // Overall read deadline
	verifyFromLatest bool          // Start at the end of the topic instead of the beginning
)

// verifyCmd consumes the topic and checks per-device sequencing
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Consume the topic and check per-device sequence continuity",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveFeedConfig(cmd, os.LookupEnv)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		fallback, err := publish.CodecByName(cfg.Format)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		group := verifyGroup
		if group == "" {
			group = "devicefeed-verify-" + uuid.NewString()
		}
		startOffset := kafka.FirstOffset
		if verifyFromLatest {
			startOffset = kafka.LastOffset
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     publish.ParseBrokers(cfg.Bootstrap),
			Topic:       cfg.Topic,
			GroupID:     group,
			StartOffset: startOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			Logger:      kafka.LoggerFunc(logrus.Debugf),
			ErrorLogger: kafka.LoggerFunc(logrus.Warnf),
		})
		defer closeReader(reader)

		ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
		defer cancel()

		logrus.Infof("Reading %s on %s as group %s", cfg.Topic, cfg.Bootstrap, group)
		result, err := audit(ctx, reader, fallback, verifyMaxRecords)
		if err != nil {
			logrus.Fatalf("Read failed: %v", err)
		}

		out := cmd.OutOrStdout()
		writeSummary(out, result.summary)
		fmt.Fprintf(out, "Undecodable    : %d\n", result.undecodable)
		fmt.Fprintf(out, "Key mismatches : %d\n", result.keyMismatches)
		if !result.ok() {
			closeReader(reader)
			logrus.Fatalf("Stream check failed")
		}
	},
}

// closeReader closes r, logging any failure.
func closeReader(r io.Closer) {
	if err := r.Close(); err != nil {
		logrus.Warnf("Closing reader: %v", err)
	}
}

// messageSource is the subset of *kafka.Reader used by audit.
type messageSource interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// auditResult is the outcome of reading a topic back.
type auditResult struct {
	summary       *trace.TraceSummary
	undecodable   int
	keyMismatches int
}

func (r auditResult) ok() bool {
	return r.summary.Healthy() && r.undecodable == 0 && r.keyMismatches == 0
}

// audit reads records from src until limit is reached (0 = no limit), the
// source is exhausted or ctx expires, and summarizes per-device sequencing.
// Each message is decoded with the codec named by its content-type header,
// falling back to fallback when the header is missing or unknown.
func audit(ctx context.Context, src messageSource, fallback publish.Codec, limit int) (auditResult, error) {
	et := trace.NewEmissionTrace(trace.TraceConfig{})
	result := auditResult{}
	read := 0

	for limit == 0 || read < limit {
		msg, err := src.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return result, err
		}
		read++

		codec := fallback
		for _, h := range msg.Headers {
			if h.Key == publish.HeaderContentType {
				if c, ok := publish.CodecByContentType(string(h.Value)); ok {
					codec = c
				}
			}
		}
		rec, err := codec.Decode(msg.Value)
		if err != nil {
			logrus.Debugf("Offset %d: %v", msg.Offset, err)
			result.undecodable++
			continue
		}
		if len(msg.Key) > 0 && string(msg.Key) != rec.DeviceID {
			logrus.Debugf("Offset %d: key %q carries record for %s", msg.Offset, msg.Key, rec.DeviceID)
			result.keyMismatches++
		}
		et.Record(trace.EmissionRecord{
			DeviceID:  rec.DeviceID,
			Seq:       rec.Seq,
			EmittedAt: rec.EmittedAt(),
		})
	}

	result.summary = trace.Summarize(et)
	return result, nil
}

func init() {
	defaults := DefaultFeedConfig()
	verifyCmd.Flags().StringVar(&bootstrap, "bootstrap", defaults.Bootstrap, fmt.Sprintf("Kafka bootstrap servers, comma-separated [$%s]", EnvBootstrap))
	verifyCmd.Flags().StringVar(&topic, "topic", defaults.Topic, fmt.Sprintf("Topic to read [$%s]", EnvTopic))
	verifyCmd.Flags().StringVar(&format, "format", defaults.Format, fmt.Sprintf("Record format for messages without a content-type header [$%s]", EnvFormat))
	verifyCmd.Flags().StringVar(&verifyGroup, "group", "", "Consumer group ID (default: a fresh random group)")
	verifyCmd.Flags().IntVar(&verifyMaxRecords, "max-records", 0, "Stop after this many records (0 = read until the timeout)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 30*time.Second, "Overall read deadline")
	verifyCmd.Flags().BoolVar(&verifyFromLatest, "from-latest", false, "Start at the end of the topic instead of the beginning")
}
