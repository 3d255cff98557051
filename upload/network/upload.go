package network

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/pixelport/go-imagepush/upload/network/chunkuploader"
	"github.com/pixelport/go-imagepush/upload/retrypolicy"
)

// UploadParams describes one payload transfer to the storage endpoint.
type UploadParams struct {
	EndpointURL string
	AccountID   string
	TaskID      string

	Data        []byte
	Filename    string
	ContentType string
	Folder      string

	// MaxRetries bounds the single-shot retry loop. Default: retrypolicy.MaxRetryCount.
	MaxRetries int
	// Online reports host connectivity for the retry policy. Default: always online.
	Online retrypolicy.ConnectivityChecker
	// Reporter receives phase transitions right before each network call.
	Reporter PhaseReporter
	// Progress is called with settled/total chunk counts on the chunked path.
	Progress func(completed, total int)
	// Sleep waits out backoff delays. Replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p *UploadParams) applyDefaults() error {
	if p.EndpointURL == "" {
		return fmt.Errorf("endpoint URL is empty")
	}
	if p.AccountID == "" {
		return fmt.Errorf("account ID is empty")
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = retrypolicy.MaxRetryCount
	}
	if p.Online == nil {
		p.Online = retrypolicy.AlwaysOnline
	}
	if p.Sleep == nil {
		p.Sleep = chunkuploader.SleepContext
	}
	return nil
}

// DefaultUploader ...
type DefaultUploader struct {
	Logger log.Logger
}

// Upload transfers the payload. Payloads above the chunking threshold are
// split and uploaded in waves, everything else goes out as one request.
func (u DefaultUploader) Upload(ctx context.Context, params UploadParams) (Result, error) {
	if err := params.applyDefaults(); err != nil {
		return Result{}, err
	}
	logger := u.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	client := newAPIClient(params.EndpointURL, params.AccountID, params.TaskID, params.Reporter, logger)

	if len(params.Data) > chunkuploader.Threshold {
		logger.Debugf("Payload is %s, using chunked upload", units.HumanSizeWithPrecision(float64(len(params.Data)), 3))
		return uploadChunked(ctx, client, params, logger)
	}
	return uploadWithRetries(ctx, client, params, logger)
}

// uploadWithRetries is the single-shot path: one multipart POST per attempt,
// the retry policy consulted after every failure.
func uploadWithRetries(ctx context.Context, client *apiClient, params UploadParams, logger log.Logger) (Result, error) {
	payload := filePayload{
		data:        params.Data,
		filename:    params.Filename,
		contentType: params.ContentType,
		folder:      params.Folder,
	}
	return retryLoop(ctx, params.MaxRetries, params.Online, params.Sleep, logger,
		func(ctx context.Context) (UploadResponse, error) {
			return client.uploadFile(ctx, payload)
		})
}

// retryLoop drives one upload call through the retry policy. Error categories
// accumulate across attempts so the final diagnostic reflects the trend, not
// just the last error.
func retryLoop(
	ctx context.Context,
	maxRetries int,
	online retrypolicy.ConnectivityChecker,
	sleep func(ctx context.Context, d time.Duration) error,
	logger log.Logger,
	call func(ctx context.Context) (UploadResponse, error),
) (Result, error) {
	var history []retrypolicy.Category
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := call(ctx)
		if err == nil && resp.Success {
			return Result{URL: resp.URL, Path: resp.Path}, nil
		}
		if err == nil {
			err = fmt.Errorf("server rejected upload: %s", resp.Error)
		}
		lastErr = err
		lastStatus = retrypolicy.StatusOf(err)
		history = append(history, retrypolicy.Classify(err, lastStatus))

		decision := retrypolicy.Decide(err, attempt+1, maxRetries, lastStatus, online())
		if !decision.Retry {
			logger.Debugf("Upload attempt %d failed, not retrying: %s", attempt+1, decision.Reason)
			break
		}

		logger.Warnf("Upload attempt %d/%d failed (%s), retrying in %v: %s",
			attempt+1, maxRetries, decision.Reason, decision.Delay.Round(time.Millisecond), err)
		if err := sleep(ctx, decision.Delay); err != nil {
			return Result{}, fmt.Errorf("upload cancelled: %w", err)
		}
	}

	return Result{}, composeDiagnostic(lastErr, lastStatus, len(history), retrypolicy.Estimate(history, online()))
}

// uploadChunked is the chunked path: split, upload in waves, finalize, then
// fire-and-forget cleanup of the temporary per-chunk storage.
func uploadChunked(ctx context.Context, client *apiClient, params UploadParams, logger log.Logger) (Result, error) {
	chunks := chunkuploader.SplitBlob(params.Data, chunkuploader.ChunkSize)
	session := chunkuploader.NewSession(len(chunks))
	logger.Debugf("Session %s: %d chunks of %s", session.ID, session.TotalChunks,
		units.HumanSize(float64(session.ChunkSize)))

	engine := chunkuploader.New(chunkuploader.Config{
		MaxRetryPerChunk: params.MaxRetries,
		Online:           params.Online,
		Progress:         params.Progress,
		Sleep:            params.Sleep,
	}, chunkSender{client: client, folder: params.Folder}, logger)

	if err := engine.Upload(ctx, chunkuploader.NewByteSliceChunkProvider(chunks), session); err != nil {
		return Result{}, err
	}
	logger.Debugf("All chunks uploaded in %v (avg %v/chunk)",
		engine.Stats().TotalDuration().Round(time.Millisecond), engine.Stats().Average().Round(time.Millisecond))

	resp, err := client.finalizeChunks(ctx, session, params.Filename, params.Folder)
	if err != nil {
		return Result{}, fmt.Errorf("finalize chunked upload: %w", err)
	}
	if !resp.Success {
		return Result{}, fmt.Errorf("finalize chunked upload: server reported failure: %s", resp.Error)
	}

	go client.cleanupChunks(session.ID)

	return Result{URL: resp.URL, Path: resp.Path}, nil
}

// chunkSender adapts apiClient to chunkuploader.ChunkSender, carrying the
// destination folder of the session.
type chunkSender struct {
	client *apiClient
	folder string
}

func (s chunkSender) SendChunk(ctx context.Context, session chunkuploader.Session, index int, data []byte) error {
	return s.client.sendChunk(ctx, session, index, data, s.folder)
}

// composeDiagnostic builds the message surfaced after retries are exhausted.
// The observing layer shows it verbatim, so it carries the retry count, the
// inferred network condition and a status-specific hint.
func composeDiagnostic(lastErr error, status, attempts int, condition retrypolicy.Condition) error {
	hint := statusHint(status)
	if hint != "" {
		return fmt.Errorf("Failed after %d retries (network: %s): %w. %s", attempts, condition, lastErr, hint)
	}
	return fmt.Errorf("Failed after %d retries (network: %s): %w", attempts, condition, lastErr)
}

func statusHint(status int) string {
	switch {
	case status == 413:
		return "The image is too large for the endpoint."
	case status == 415:
		return "The image format is not accepted by the endpoint."
	case status == 429:
		return "The endpoint is rate limiting uploads, try again later."
	case status >= 500:
		return "Server is experiencing problems."
	default:
		return ""
	}
}
