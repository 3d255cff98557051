// Package chunkuploader splits large payloads into fixed-size chunks and
// uploads them in bounded-concurrency waves, each chunk independently retried.
package chunkuploader

import (
	"context"
	"io"

	"github.com/google/uuid"
)

const (
	// ChunkSize is the fixed chunk size of a session.
	ChunkSize = 1 * 1024 * 1024
	// Threshold is the payload size above which the chunked path is used.
	Threshold = 2 * 1024 * 1024
)

// Session groups the chunks of one transfer. It exists only for the duration
// of the upload; the remote side correlates stored chunks by Session.ID.
type Session struct {
	ID          string
	TotalChunks int
	ChunkSize   int
}

// NewSession ...
func NewSession(totalChunks int) Session {
	return Session{
		ID:          uuid.NewString(),
		TotalChunks: totalChunks,
		ChunkSize:   ChunkSize,
	}
}

// ChunkSender performs one chunk transfer. It must not retry; retrying is the
// uploader's responsibility.
type ChunkSender interface {
	SendChunk(ctx context.Context, session Session, index int, data []byte) error
}

// ChunkProvider provides chunk data for upload.
// GetChunk may be called multiple times for the same index (retries).
type ChunkProvider interface {
	NumChunks() int
	GetChunk(index int) (io.Reader, error)
}

// SplitBlob slices data into contiguous chunks of chunkSize. The last chunk
// may be shorter; concatenating the chunks in index order reproduces data.
func SplitBlob(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
