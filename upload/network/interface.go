package network

import "context"

// Result is the outcome of a successful upload.
type Result struct {
	URL  string
	Path string
}

// Uploader is the transfer engine behind the orchestrator. The default
// implementation picks the single-shot or chunked path by payload size.
type Uploader interface {
	Upload(ctx context.Context, params UploadParams) (Result, error)
}

// URLUploader is the server-side fetch mode of the transfer engine.
type URLUploader interface {
	UploadFromURL(ctx context.Context, params URLUploadParams) (Result, error)
}
