package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/melbahja/got"
)

// FetchTimeout bounds a single remote fetch.
const FetchTimeout = 15 * time.Second

// Image is a resolved payload ready for upload.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Resolver turns a source reference into image bytes. Supported references
// are data: URLs, http(s) URLs and local file paths.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (Image, error)
}

// DefaultResolver ...
type DefaultResolver struct {
	logger log.Logger
	// httpClient is used for remote fetches. Defaults to a retrying client.
	httpClient *http.Client
}

// NewResolver ...
func NewResolver(logger log.Logger) DefaultResolver {
	return DefaultResolver{
		logger:     logger,
		httpClient: retryhttp.NewClient(logger).StandardClient(),
	}
}

// Resolve ...
func (r DefaultResolver) Resolve(ctx context.Context, reference string) (Image, error) {
	switch {
	case reference == "":
		return Image{}, fmt.Errorf("source reference is empty")
	case strings.HasPrefix(reference, "data:"):
		return r.resolveDataURL(reference)
	case strings.HasPrefix(reference, "http://"), strings.HasPrefix(reference, "https://"):
		return r.resolveRemote(ctx, reference)
	default:
		return r.resolveFile(reference)
	}
}

// resolveDataURL decodes an RFC 2397 data URL. Only base64 payloads are
// accepted, the percent-encoded form is not produced by image pickers.
func (r DefaultResolver) resolveDataURL(reference string) (Image, error) {
	meta, payload, found := strings.Cut(strings.TrimPrefix(reference, "data:"), ",")
	if !found {
		return Image{}, fmt.Errorf("malformed data URL: missing payload separator")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return Image{}, fmt.Errorf("malformed data URL: only base64 encoding is supported")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data URL payload: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("data URL payload is empty")
	}

	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return Image{
		Data:        data,
		Filename:    generatedFilename(data, contentType),
		ContentType: contentType,
	}, nil
}

// resolveRemote downloads the resource to a temporary file and reads it back.
func (r DefaultResolver) resolveRemote(ctx context.Context, reference string) (Image, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	dest, err := os.CreateTemp("", "imagepush-fetch-")
	if err != nil {
		return Image{}, fmt.Errorf("create temp file: %w", err)
	}
	if err := dest.Close(); err != nil {
		return Image{}, fmt.Errorf("close temp file: %w", err)
	}
	defer func() {
		if err := os.Remove(dest.Name()); err != nil {
			r.logger.Warnf("Failed to remove temp file %s: %s", dest.Name(), err)
		}
	}()

	r.logger.Debugf("Fetching %s", reference)
	if err := r.downloadFile(fetchCtx, reference, dest.Name()); err != nil {
		return Image{}, fmt.Errorf("fetch %s: %w", reference, err)
	}

	data, err := os.ReadFile(dest.Name())
	if err != nil {
		return Image{}, fmt.Errorf("read fetched file: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("fetched resource is empty")
	}

	return Image{
		Data:        data,
		Filename:    remoteFilename(reference, data),
		ContentType: mimetype.Detect(data).String(),
	}, nil
}

func (r DefaultResolver) downloadFile(ctx context.Context, url, dest string) error {
	downloader := got.New()
	downloader.Client = r.httpClient

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

func (r DefaultResolver) resolveFile(reference string) (Image, error) {
	data, err := os.ReadFile(reference)
	if err != nil {
		return Image{}, fmt.Errorf("read source file: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("source file %s is empty", reference)
	}

	return Image{
		Data:        data,
		Filename:    filepath.Base(reference),
		ContentType: mimetype.Detect(data).String(),
	}, nil
}

// remoteFilename derives a filename from the URL path, falling back to a
// generated name when the path carries none.
func remoteFilename(reference string, data []byte) string {
	if parsed, err := url.Parse(reference); err == nil {
		if name := path.Base(parsed.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return generatedFilename(data, mimetype.Detect(data).String())
}

func generatedFilename(data []byte, contentType string) string {
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = extensionFor(contentType)
	}
	return fmt.Sprintf("image-%s%s", uuid.NewString()[:8], ext)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
