// Package records archives finished submissions to a RecordSink.
package records

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// Sink kinds accepted by Open.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindFile   = "file"
	KindPubSub = "pubsub"
	KindGCS    = "gcs"
)

// Config selects and configures a sink.
type Config struct {
	Sink      string `mapstructure:"sink"`
	Path      string `mapstructure:"path"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Validate checks that the settings required by the chosen sink are present.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Sink)) {
	case "", KindNone, KindMemory:
	case KindFile:
		if c.Path == "" {
			return fmt.Errorf("records.path must be set for the file sink")
		}
	case KindPubSub:
		if c.ProjectID == "" || c.Topic == "" {
			return fmt.Errorf("records.project_id and records.topic must be set for the pubsub sink")
		}
	case KindGCS:
		if c.Bucket == "" {
			return fmt.Errorf("records.bucket must be set for the gcs sink")
		}
	default:
		return fmt.Errorf("unknown record sink %q", c.Sink)
	}
	return nil
}

// Open builds the sink named by cfg.Sink.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (downloader.RecordSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", KindNone:
		return Nop{}, nil
	case KindMemory:
		return NewMemory(), nil
	case KindFile:
		return OpenFile(cfg.Path)
	case KindPubSub:
		return OpenPubSub(ctx, cfg.ProjectID, cfg.Topic, logger.Named("pubsub"))
	case KindGCS:
		return OpenGCS(ctx, cfg.Bucket, cfg.Prefix, logger.Named("gcs"))
	default:
		return nil, fmt.Errorf("unknown record sink %q", cfg.Sink)
	}
}

// Nop discards records.
type Nop struct{}

// Write does nothing.
func (Nop) Write(context.Context, downloader.Record) error { return nil }

// Close does nothing.
func (Nop) Close(context.Context) error { return nil }

// objectName places a record under prefix/run/submission.json.
func objectName(prefix string, record downloader.Record) string {
	run := record.RunID
	if run == "" {
		run = "unknown-run"
	}
	return path.Join(strings.Trim(prefix, "/"), run, record.Submission.ID+".json")
}
