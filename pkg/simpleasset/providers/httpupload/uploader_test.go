package httpupload_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/httpupload"
)

func request(body string) simpleasset.UploadRequest {
	return simpleasset.UploadRequest{
		AssetID:   uuid.New(),
		MediaType: simpleasset.MediaTypeVideo,
		MimeType:  "video/mp4",
		Size:      int64(len(body)),
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func newUploader(t *testing.T, url string, idField string) *httpupload.Uploader {
	t.Helper()
	u, err := httpupload.New(httpupload.Config{
		Provider:   "sora",
		Endpoint:   url,
		Token:      "secret",
		IDField:    idField,
		MediaTypes: []simpleasset.MediaType{simpleasset.MediaTypeVideo, simpleasset.MediaTypeImage},
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	require.NoError(t, err)
	return u
}

func TestUploadSendsMultipartAndReadsNestedID(t *testing.T) {
	var gotAuth, gotBody, gotMedia string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotMedia = r.FormValue("media_type")
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		raw, _ := io.ReadAll(f)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"asset_id": "sora_abc"}})
	}))
	defer srv.Close()

	u := newUploader(t, srv.URL, "data.asset_id")
	id, err := u.Upload(context.Background(), request("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "sora_abc", id)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "video-bytes", gotBody)
	assert.Equal(t, "video", gotMedia)
}

func TestUploadNumericID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": 9007199254740993}`)
	}))
	defer srv.Close()

	id, err := newUploader(t, srv.URL, "").Upload(context.Background(), request("x"))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", id)
}

func TestUploadStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, simpleasset.ErrProviderRejectedUpload},
		{"payment required", http.StatusPaymentRequired, simpleasset.ErrProviderRejectedUpload},
		{"forbidden", http.StatusForbidden, simpleasset.ErrProviderRejectedUpload},
		{"quota", http.StatusTooManyRequests, simpleasset.ErrProviderRejectedUpload},
		{"unsupported media", http.StatusUnsupportedMediaType, simpleasset.ErrUnsupportedMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = io.Copy(io.Discard, r.Body)
				http.Error(w, "no", tt.status)
			}))
			defer srv.Close()

			_, err := newUploader(t, srv.URL, "").Upload(context.Background(), request("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var pe *simpleasset.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, int32(1), calls.Load(), "refusals are not retried")
		})
	}
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"sora_1"}`)
	}))
	defer srv.Close()

	id, err := newUploader(t, srv.URL, "").Upload(context.Background(), request("x"))
	require.NoError(t, err)
	assert.Equal(t, "sora_1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newUploader(t, srv.URL, "").Upload(context.Background(), request("x"))
	var pe *simpleasset.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadMissingIDField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	_, err := newUploader(t, srv.URL, "data.asset_id").Upload(context.Background(), request("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.asset_id")
}

func TestAccepts(t *testing.T) {
	u := newUploader(t, "http://example.invalid", "")
	assert.True(t, u.Accepts(simpleasset.MediaTypeVideo))
	assert.False(t, u.Accepts(simpleasset.MediaTypeModel3D))
	assert.Equal(t, simpleasset.ProviderID("sora"), u.Provider())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := httpupload.New(httpupload.Config{Provider: "Bad ID", Endpoint: "http://x"})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidProviderID)

	_, err = httpupload.New(httpupload.Config{Provider: "sora"})
	assert.Error(t, err)
}
