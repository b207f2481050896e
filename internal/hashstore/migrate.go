package hashstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Migrate copies the flat store into target once. It runs only when the flat
// store exists and target is empty; afterwards the flat files are retired.
// It reports whether a migration took place.
func Migrate(ctx context.Context, flat *FlatBackend, target Backend, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	_, targetHasData, err := target.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("inspect %s hash store: %w", target.Name(), err)
	}
	if targetHasData {
		logger.Debug("hash store migration skipped, target not empty", zap.String("target", target.Name()))
		return false, nil
	}
	snap, flatExists, err := flat.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("read flat hash store: %w", err)
	}
	if !flatExists {
		return false, nil
	}
	if err := target.Save(ctx, snap); err != nil {
		return false, fmt.Errorf("write %s hash store: %w", target.Name(), err)
	}
	if err := flat.Retire(); err != nil {
		return true, fmt.Errorf("retire flat hash store: %w", err)
	}
	logger.Info("hash store migrated",
		zap.String("from", flat.Name()),
		zap.String("to", target.Name()),
		zap.Int("records", snap.Len()),
	)
	return true, nil
}
