package network

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/pixelport/go-imagepush/upload/network/chunkuploader"
	"github.com/pixelport/go-imagepush/upload/retrypolicy"
)

// URLUploadParams describes a server-side fetch: instead of pushing bytes,
// the endpoint is told where to download the image from.
type URLUploadParams struct {
	EndpointURL string
	AccountID   string
	TaskID      string

	ImageURL string
	Folder   string

	MaxRetries int
	Online     retrypolicy.ConnectivityChecker
	Reporter   PhaseReporter
	Sleep      func(ctx context.Context, d time.Duration) error
}

func (p *URLUploadParams) applyDefaults() error {
	if p.EndpointURL == "" {
		return fmt.Errorf("endpoint URL is empty")
	}
	if p.AccountID == "" {
		return fmt.Errorf("account ID is empty")
	}
	if p.ImageURL == "" {
		return fmt.Errorf("image URL is empty")
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

// UploadFromURL asks the endpoint to fetch the resource itself, with the same
// retry policy as the single-shot path.
func (u DefaultUploader) UploadFromURL(ctx context.Context, params URLUploadParams) (Result, error) {
	if err := params.applyDefaults(); err != nil {
		return Result{}, err
	}
	logger := u.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	client := newAPIClient(params.EndpointURL, params.AccountID, params.TaskID, params.Reporter, logger)
	return retryLoop(ctx, params.MaxRetries, params.Online, params.Sleep, logger,
		func(ctx context.Context) (UploadResponse, error) {
			return client.uploadFromURL(ctx, params.ImageURL, params.Folder)
		})
}
