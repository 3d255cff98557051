package network

import (
	"context"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseUploadResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    UploadResponse
		wantErr bool
	}{
		{
			name: "strict JSON",
			body: `{"success":true,"url":"https://img.example.dev/cat.jpg","path":"cat.jpg"}`,
			want: UploadResponse{Success: true, URL: "https://img.example.dev/cat.jpg", Path: "cat.jpg"},
		},
		{
			name: "strict JSON failure",
			body: `{"success":false,"error":"missing file field"}`,
			want: UploadResponse{Success: false, Error: "missing file field"},
		},
		{
			name: "truncated body with success marker and URL",
			body: `{"success":true,"url":"https://img.example.dev/dog.png`,
			want: UploadResponse{Success: true, URL: "https://img.example.dev/dog.png"},
		},
		{
			name: "near-JSON with trailing garbage",
			body: `ok "success":true https://img.example.dev/x.gif rest of log line`,
			want: UploadResponse{Success: true, URL: "https://img.example.dev/x.gif"},
		},
		{
			name:    "unparseable without success marker",
			body:    `<html>502 Bad Gateway</html>`,
			wantErr: true,
		},
		{
			name:    "unparseable success marker without URL",
			body:    `"success":true but nothing else`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseUploadResponse([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{Status: 503, Body: "upstream unavailable"}

	assert.Equal(t, "HTTP 503: upstream unavailable", err.Error())
	assert.Equal(t, 503, err.StatusCode())
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
	}{
		{
			name:   "valid id",
			status: http.StatusOK,
			body:   `{"success":true,"message":"ok","workerInfo":{"idValidation":{"provided":true,"valid":true}}}`,
		},
		{
			name:    "invalid id",
			status:  http.StatusOK,
			body:    `{"success":true,"message":"ok","workerInfo":{"idValidation":{"provided":true,"valid":false}}}`,
			wantErr: "invalid account id",
		},
		{
			name:    "rejected probe",
			status:  http.StatusOK,
			body:    `{"success":false,"message":"maintenance"}`,
			wantErr: "maintenance",
		},
		{
			name:    "server error",
			status:  http.StatusBadRequest,
			body:    `bad id`,
			wantErr: "HTTP 400",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := retryhttp.NewClient(log.NewLogger())
			client.RetryMax = 0
			httpmock.ActivateNonDefault(client.HTTPClient)
			defer httpmock.DeactivateAndReset()

			httpmock.RegisterResponder(http.MethodGet, "https://worker.example.dev/upload",
				httpmock.NewStringResponder(tt.status, tt.body))

			err := Probe(context.Background(), client, "https://worker.example.dev/upload", "acc-123", log.NewLogger())
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
