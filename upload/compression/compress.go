package compression

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// Compressor shrinks image payloads before upload where the format allows it.
type Compressor struct {
	logger  log.Logger
	quality int
}

// NewCompressor ...
func NewCompressor(quality int, logger log.Logger) Compressor {
	if quality <= 0 {
		quality = DefaultQuality
	}
	return Compressor{logger: logger, quality: quality}
}

// Compress re-encodes JPEG payloads at the configured quality. Payloads in
// any other format, and re-encodes that come out larger than the original,
// pass through untouched.
func (c Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	if c.quality >= 100 {
		return data, nil
	}
	if !mimetype.Detect(data).Is("image/jpeg") {
		return data, nil
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format != "jpeg" {
		return data, nil
	}

	buffer := &bytes.Buffer{}
	if err := jpeg.Encode(buffer, decoded, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	if buffer.Len() >= len(data) {
		c.logger.Debugf("Re-encode grew the payload (%s -> %s), keeping the original",
			units.HumanSize(float64(len(data))), units.HumanSize(float64(buffer.Len())))
		return data, nil
	}

	c.logger.Debugf("Compressed %s -> %s at quality %d",
		units.HumanSize(float64(len(data))), units.HumanSize(float64(buffer.Len())), c.quality)
	return buffer.Bytes(), nil
}
