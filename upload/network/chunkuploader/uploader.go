package chunkuploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/pixelport/go-imagepush/upload/retrypolicy"
)

// Uploader pushes the chunks of one session through a ChunkSender in waves.
type Uploader struct {
	config Config
	sender ChunkSender
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader. Zero config fields fall back to defaults.
func New(config Config, sender ChunkSender, logger log.Logger) *Uploader {
	defaults := DefaultConfig()
	if config.WaveConcurrency <= 0 {
		config.WaveConcurrency = defaults.WaveConcurrency
	}
	if config.MaxRetryPerChunk <= 0 {
		config.MaxRetryPerChunk = defaults.MaxRetryPerChunk
	}
	if config.Online == nil {
		config.Online = defaults.Online
	}
	if config.Sleep == nil {
		config.Sleep = defaults.Sleep
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config: config,
		sender: sender,
		logger: logger,
		stats:  NewStats(),
	}
}

// Upload transfers all chunks of the session. Chunks go out in waves of
// Config.WaveConcurrency; every chunk of a wave must settle before the next
// wave starts. Any chunk failing beyond its retry budget aborts the whole
// session; partial success is never reported as completion.
func (u *Uploader) Upload(ctx context.Context, provider ChunkProvider, session Session) error {
	total := provider.NumChunks()
	if total != session.TotalChunks {
		return fmt.Errorf("chunk count mismatch: provider has %d chunks, session expects %d", total, session.TotalChunks)
	}
	if total == 0 {
		return fmt.Errorf("nothing to upload: session has no chunks")
	}

	for waveStart := 0; waveStart < total; waveStart += u.config.WaveConcurrency {
		waveEnd := waveStart + u.config.WaveConcurrency
		if waveEnd > total {
			waveEnd = total
		}

		g, waveCtx := errgroup.WithContext(ctx)
		for index := waveStart; index < waveEnd; index++ {
			index := index
			g.Go(func() error {
				return u.uploadChunkWithRetry(waveCtx, provider, session, index)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("chunked upload aborted: %w", err)
		}

		if u.config.Progress != nil {
			u.config.Progress(waveEnd, total)
		}
	}

	return nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

func (u *Uploader) uploadChunkWithRetry(ctx context.Context, provider ChunkProvider, session Session, index int) error {
	var lastErr error

	for attempt := 0; attempt < u.config.MaxRetryPerChunk; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("chunk %d upload cancelled: %w", index+1, ctx.Err())
		default:
		}

		u.logger.Debugf("Uploading chunk %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			index+1, session.TotalChunks, attempt+1, u.config.MaxRetryPerChunk,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		data, err := readChunk(provider, index)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", index+1, err)
		}

		start := time.Now()
		err = u.sender.SendChunk(ctx, session, index, data)
		if err == nil {
			u.stats.Record(time.Since(start))
			return nil
		}
		lastErr = err

		decision := retrypolicy.Decide(err, attempt+1, u.config.MaxRetryPerChunk, retrypolicy.StatusOf(err), u.config.Online())
		if !decision.Retry {
			return fmt.Errorf("chunk %d/%d failed after %d attempts (%s): %w",
				index+1, session.TotalChunks, attempt+1, decision.Reason, err)
		}

		u.logger.Warnf("Chunk %d attempt %d failed (%s), retrying in %v: %s",
			index+1, attempt+1, decision.Reason, decision.Delay.Round(time.Millisecond), err)
		if err := u.config.Sleep(ctx, decision.Delay); err != nil {
			return fmt.Errorf("chunk %d upload cancelled: %w", index+1, err)
		}
	}

	return fmt.Errorf("chunk %d/%d failed after %d attempts: %w",
		index+1, session.TotalChunks, u.config.MaxRetryPerChunk, lastErr)
}

func readChunk(provider ChunkProvider, index int) ([]byte, error) {
	reader, err := provider.GetChunk(index)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}
