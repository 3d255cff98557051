package chunkuploader

import (
	"bytes"
	"fmt"
	"io"
)

// ByteSliceChunkProvider serves the chunks of an in-memory payload, typically
// produced by SplitBlob.
type ByteSliceChunkProvider struct {
	chunks [][]byte
}

// NewByteSliceChunkProvider ...
func NewByteSliceChunkProvider(chunks [][]byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{chunks: chunks}
}

// NumChunks ...
func (p *ByteSliceChunkProvider) NumChunks() int {
	return len(p.chunks)
}

// GetChunk returns a reader over the chunk at index. Safe to call repeatedly
// for the same index.
func (p *ByteSliceChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.chunks) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.chunks))
	}
	return bytes.NewReader(p.chunks[index]), nil
}
