package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-group/aoi-extract/internal/resilience"
)

func testFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{})
}

func testRetry() resilience.Policy {
	return resilience.Policy{
		Attempts:  3,
		BaseDelay: 1 * time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
		Growth:    2.0,
	}
}

func TestDownload_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.Header.Get("User-Agent"), "aoi-extract")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	body, err := testFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownload_ServerErrorIsSingleShotAndTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "one Download call must issue exactly one request")
}

func TestDownload_CallerPolicyControlsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher()
	body, err := resilience.DoVal(context.Background(), testRetry(), func(ctx context.Context) (io.ReadCloser, error) {
		return f.Download(ctx, srv.URL)
	})
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPost_SendsBodyAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "data=[out:json];", string(body))
		_, _ = w.Write([]byte(`{"elements":[]}`))
	}))
	defer srv.Close()

	body, err := testFetcher().Post(context.Background(), srv.URL,
		"application/x-www-form-urlencoded", []byte("data=[out:json];"))
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.JSONEq(t, `{"elements":[]}`, string(data))
}

func TestPost_RetriesWithFullBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "query", string(body), "retry must resend the full body")
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	f := testFetcher()
	body, err := resilience.DoVal(context.Background(), testRetry(), func(ctx context.Context) (io.ReadCloser, error) {
		return f.Post(ctx, srv.URL, "text/plain", []byte("query"))
	})
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.bin")
	n, err := testFetcher().DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))
}

func TestAdaptiveLimiter_Tunes(t *testing.T) {
	al := NewAdaptiveLimiter(10, 10)

	al.OnRateLimit()
	assert.InDelta(t, 5.0, float64(al.Limit()), 0.001)

	// Floor at a quarter of the initial rate.
	for i := 0; i < 10; i++ {
		al.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(al.Limit()), 0.001)

	// Cap at twice the initial rate.
	for i := 0; i < 20; i++ {
		al.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(al.Limit()), 0.001)
}
