package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantSleep(ctx context.Context, d time.Duration) error { return nil }

func testParams(serverURL string, data []byte) UploadParams {
	return UploadParams{
		EndpointURL: serverURL,
		AccountID:   "acc-123",
		TaskID:      "task-1",
		Data:        data,
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Sleep:       instantSleep,
	}
}

func TestUpload_SingleShot_SuccessFirstAttempt(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)

		require.NoError(t, r.ParseMultipartForm(4*1024*1024))
		assert.Equal(t, "acc-123", r.FormValue("cloudflareId"))
		assert.Empty(t, r.FormValue("action"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.jpg", header.Filename)

		fmt.Fprint(w, `{"success":true,"url":"https://x/y.jpg","path":"y.jpg"}`)
	}))
	defer server.Close()

	result, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, []byte("jpeg-bytes")))

	require.NoError(t, err)
	assert.Equal(t, "https://x/y.jpg", result.URL)
	assert.Equal(t, int32(1), requestCount)
}

func TestUpload_SingleShot_ExhaustsRetriesOn503(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, []byte("jpeg-bytes")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed after 3 retries")
	assert.Contains(t, err.Error(), "Server is experiencing problems.")
	assert.Equal(t, int32(3), requestCount)
}

func TestUpload_SingleShot_PermanentErrorNotRetried(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, []byte("jpeg-bytes")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(1), requestCount, "permanent errors must not be retried")
}

func TestUpload_SingleShot_ServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"invalid folder name"}`)
	}))
	defer server.Close()

	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, []byte("jpeg-bytes")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid folder name")
}

func TestUpload_RateLimitHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, []byte("jpeg-bytes")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiting")
}

// chunkServer fakes the worker's chunk endpoints: it stores chunks per
// session and validates the stored count at finalize time.
type chunkServer struct {
	mu       sync.Mutex
	chunks   map[string]map[int][]byte
	cleanups []string

	failFinalize bool
	dropChunk    int
}

func newChunkServer() *chunkServer {
	return &chunkServer{chunks: map[string]map[int][]byte{}, dropChunk: -1}
}

func (s *chunkServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(4*1024*1024))

		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.FormValue("action") {
		case "upload_chunk":
			sessionID := r.FormValue("sessionId")
			index, err := strconv.Atoi(r.FormValue("chunkIndex"))
			require.NoError(t, err)
			total, err := strconv.Atoi(r.FormValue("totalChunks"))
			require.NoError(t, err)

			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			file.Close()

			if s.chunks[sessionID] == nil {
				s.chunks[sessionID] = map[int][]byte{}
			}
			if index != s.dropChunk {
				s.chunks[sessionID][index] = data
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "chunkIndex": index,
				"totalChunks": total, "sessionId": sessionID,
			})
		case "finalize_chunked_upload":
			sessionID := r.FormValue("sessionId")
			total, err := strconv.Atoi(r.FormValue("totalChunks"))
			require.NoError(t, err)

			if s.failFinalize || len(s.chunks[sessionID]) != total {
				fmt.Fprint(w, `{"success":false,"error":"incomplete chunk set"}`)
				return
			}
			fmt.Fprintf(w, `{"success":true,"url":"https://x/%s","path":"%s"}`,
				r.FormValue("filename"), r.FormValue("filename"))
		case "cleanup_chunks":
			s.cleanups = append(s.cleanups, r.FormValue("sessionId"))
			fmt.Fprint(w, `{"success":true}`)
		default:
			t.Errorf("unexpected action %q", r.FormValue("action"))
		}
	}
}

func TestUpload_Chunked_EndToEnd(t *testing.T) {
	cs := newChunkServer()
	server := httptest.NewServer(cs.handler(t))
	defer server.Close()

	// 5 MiB payload -> 5 chunks of 1 MiB, uploaded in waves of 3+2.
	data := make([]byte, 5*1024*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	params := testParams(server.URL, data)
	var progress []int
	params.Progress = func(completed, total int) { progress = append(progress, completed) }

	result, err := DefaultUploader{}.Upload(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, "https://x/photo.jpg", result.URL)
	assert.Equal(t, []int{3, 5}, progress)

	cs.mu.Lock()
	require.Len(t, cs.chunks, 1)
	for _, stored := range cs.chunks {
		require.Len(t, stored, 5)
		var joined []byte
		for i := 0; i < 5; i++ {
			joined = append(joined, stored[i]...)
		}
		assert.Equal(t, data, joined, "reassembled chunks must reproduce the payload")
	}
	cs.mu.Unlock()

	assert.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return len(cs.cleanups) == 1
	}, 2*time.Second, 10*time.Millisecond, "cleanup is fired after successful finalize")
}

func TestUpload_Chunked_FinalizeFailsOnMissingChunk(t *testing.T) {
	cs := newChunkServer()
	cs.dropChunk = 2
	server := httptest.NewServer(cs.handler(t))
	defer server.Close()

	data := make([]byte, 3*1024*1024)
	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, data))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete chunk set")

	cs.mu.Lock()
	assert.Empty(t, cs.cleanups, "no cleanup after failed finalize")
	cs.mu.Unlock()
}

func TestUpload_SmallPayloadStaysSingleShot(t *testing.T) {
	var sawChunkAction int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(4*1024*1024))
		if r.FormValue("action") != "" {
			atomic.AddInt32(&sawChunkAction, 1)
		}
		fmt.Fprint(w, `{"success":true,"url":"https://x/y.jpg"}`)
	}))
	defer server.Close()

	// 2 MiB sits exactly at the threshold and must not be chunked.
	data := make([]byte, 2*1024*1024)
	_, err := DefaultUploader{}.Upload(context.Background(), testParams(server.URL, data))

	require.NoError(t, err)
	assert.Equal(t, int32(0), sawChunkAction)
}

func TestUpload_ParamValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UploadParams)
	}{
		{name: "missing endpoint", mutate: func(p *UploadParams) { p.EndpointURL = "" }},
		{name: "missing account id", mutate: func(p *UploadParams) { p.AccountID = "" }},
		{name: "empty payload", mutate: func(p *UploadParams) { p.Data = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams("https://worker.example.dev", []byte("x"))
			tt.mutate(&params)

			_, err := DefaultUploader{}.Upload(context.Background(), params)
			assert.Error(t, err)
		})
	}
}
