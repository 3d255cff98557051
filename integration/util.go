//go:build integration
// +build integration

package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

// payloadOfSize builds a deterministic high-entropy payload so chunked
// uploads cannot be accidentally deduplicated server-side.
func payloadOfSize(size int) []byte {
	data := make([]byte, size)
	seed := uint64(0x9E3779B97F4A7C15)
	for i := range data {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		data[i] = byte(seed)
	}
	return data
}

// endpointConfig reads the live endpoint settings, skipping the test when
// they are not provided.
func endpointConfig(t *testing.T) (endpointURL, accountID string) {
	endpointURL = os.Getenv("IMAGEPUSH_ENDPOINT_URL")
	accountID = os.Getenv("IMAGEPUSH_ACCOUNT_ID")
	if endpointURL == "" || accountID == "" {
		t.Skip("IMAGEPUSH_ENDPOINT_URL and IMAGEPUSH_ACCOUNT_ID are required for integration tests")
	}
	return endpointURL, accountID
}
