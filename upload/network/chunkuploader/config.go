package chunkuploader

import (
	"context"
	"time"

	"github.com/pixelport/go-imagepush/upload/retrypolicy"
)

// Config holds configuration for the chunk uploader.
type Config struct {
	// WaveConcurrency is the number of chunks uploaded in parallel. A wave does
	// not advance until every chunk in it has settled.
	// Default: 3
	WaveConcurrency int

	// MaxRetryPerChunk is the maximum number of attempts per chunk.
	// Default: 3
	MaxRetryPerChunk int

	// Online reports host connectivity for the retry policy.
	// Default: retrypolicy.AlwaysOnline
	Online retrypolicy.ConnectivityChecker

	// Progress is called after each wave with the number of settled chunks.
	Progress func(completed, total int)

	// Sleep waits out a backoff delay. Replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WaveConcurrency:  3,
		MaxRetryPerChunk: retrypolicy.MaxRetryCount,
		Online:           retrypolicy.AlwaysOnline,
		Sleep:            SleepContext,
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
