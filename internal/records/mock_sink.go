package records

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// MockSink is a testify mock of downloader.RecordSink.
type MockSink struct {
	mock.Mock
}

// Write records the call.
func (m *MockSink) Write(ctx context.Context, record downloader.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// Close records the call.
func (m *MockSink) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
