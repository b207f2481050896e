package records

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// GCS writes each record to its own object.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
	logger *zap.Logger
}

// OpenGCS creates a client via Application Default Credentials and verifies the bucket.
func OpenGCS(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close GCS client after bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucket, err)
	}
	sink := NewGCS(client, bucket, prefix, logger)
	sink.owned = true
	return sink, nil
}

// NewGCS wraps an existing client, which the caller keeps ownership of.
func NewGCS(client *storage.Client, bucket, prefix string, logger *zap.Logger) *GCS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Write uploads record as prefix/<run id>/<submission id>.json.
func (g *GCS) Write(ctx context.Context, record downloader.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Submission.ID, err)
	}
	name := objectName(g.prefix, record)
	wc := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write GCS object %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize GCS object %s: %w", name, err)
	}
	return nil
}

// Close releases the client when OpenGCS created it.
func (g *GCS) Close(context.Context) error {
	if !g.owned {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
