// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vanta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vulnwatch/vulnsync/internal/testcontext"
)

// sleepRecorder replaces the client's backoff sleep so retry tests finish
// instantly.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (rec *sleepRecorder) Sleep(ctx context.Context, duration time.Duration) bool {
	rec.mu.Lock()
	rec.slept = append(rec.slept, duration)
	rec.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func (rec *sleepRecorder) Durations() []time.Duration {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]time.Duration(nil), rec.slept...)
}

func newTestClient(t *testing.T, server *httptest.Server, config Config) (*Client, *sleepRecorder) {
	config.BaseURL = server.URL
	config.AuthURL = server.URL + "/oauth/token"
	if config.SafetyMargin == 0 {
		config.SafetyMargin = 1
	}

	client := New(zaptest.NewLogger(t), config, "test-client-id", "test-client-secret")
	rec := &sleepRecorder{}
	client.sleep = rec.Sleep
	return client, rec
}

func serveToken(w http.ResponseWriter, token string) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": token,
		"expires_in":   3600,
	})
}

func servePage(w http.ResponseWriter, records []string, endCursor string) {
	data := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		data = append(data, json.RawMessage(record))
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"results": map[string]interface{}{
			"data": data,
			"pageInfo": map[string]interface{}{
				"hasNextPage": endCursor != "",
				"endCursor":   endCursor,
			},
		},
	})
}

func TestAuthExchange(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var mu sync.Mutex
	var authPayload map[string]string
	var authHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&authPayload)
		mu.Unlock()
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()
		servePage(w, []string{`{"id":"v-1"}`}, "")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	var batches [][]json.RawMessage
	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "test-client-id", authPayload["client_id"])
	require.Equal(t, "test-client-secret", authPayload["client_secret"])
	require.Equal(t, "vanta-api.all:read", authPayload["scope"])
	require.Equal(t, "client_credentials", authPayload["grant_type"])
	require.Equal(t, "Bearer token-1", authHeader)
}

func TestAuthSharedInFlight(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var authCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		time.Sleep(20 * time.Millisecond)
		serveToken(w, "token-1")
	})
	handlePage := func(w http.ResponseWriter, r *http.Request) {
		servePage(w, []string{`{"id":"r"}`}, "")
	}
	mux.HandleFunc("/v1/vulnerabilities", handlePage)
	mux.HandleFunc("/v1/vulnerability-remediations", handlePage)
	mux.HandleFunc("/v1/vulnerable-assets", handlePage)
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	noop := func(ctx context.Context, batch []json.RawMessage) error { return nil }
	ctx.Go(func() error { return client.Vulnerabilities(ctx, nil, noop) })
	ctx.Go(func() error { return client.Remediations(ctx, nil, noop) })
	ctx.Go(func() error { return client.VulnerableAssets(ctx, nil, noop) })
	require.NoError(t, ctx.Wait())

	// callers arriving while an exchange is pending share its result
	require.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
}

func TestReauthenticateOn401(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var authCalls, listCalls int32
	var mu sync.Mutex
	var retriedWith string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, fmt.Sprintf("token-%d", atomic.AddInt32(&authCalls, 1)))
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&listCalls, 1) == 1 {
			w.Header().Set("x-request-id", "req-401")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		retriedWith = r.Header.Get("Authorization")
		mu.Unlock()
		servePage(w, []string{`{"id":"v-1"}`}, "")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, rec := newTestClient(t, server, Config{})

	delivered := 0
	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error {
		delivered += len(batch)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
	mu.Lock()
	require.Equal(t, "Bearer token-2", retriedWith)
	mu.Unlock()
	// a 401 retries immediately, without burning a backoff sleep
	require.Empty(t, rec.Durations())
}

func TestAuthFailed(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error {
		t.Fatal("no batch expected")
		return nil
	})
	require.Error(t, err)
	require.True(t, ErrAuth.Has(err))
	require.Contains(t, err.Error(), "invalid_client")
	require.NotContains(t, err.Error(), "test-client-secret")
}

func TestRetryBackoffOn5xx(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var listCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&listCalls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		servePage(w, []string{`{"id":"v-1"}`}, "")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, rec := newTestClient(t, server, Config{
		Retry: RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, MaxRetries: 5},
	})

	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&listCalls))
	// 2^attempt times the initial interval
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.Durations())
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var listCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&listCalls, 1) {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			// no hint present
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			servePage(w, []string{`{"id":"v-1"}`}, "")
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, rec := newTestClient(t, server, Config{})

	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
	require.NoError(t, err)
	// hint plus one second, with a 60s default when the header is absent
	require.Equal(t, []time.Duration{3 * time.Second, 61 * time.Second}, rec.Durations())
}

func TestFailFastOnClientError(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var listCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		w.Header().Set("x-amzn-requestid", "req-404")
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, rec := newTestClient(t, server, Config{})

	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&listCalls))
	require.Empty(t, rec.Durations())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "req-404", apiErr.RequestID)
}

func TestExhaustionClasses(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	{ // Ensure persistent server errors surface as a pagination failure
		mux := http.NewServeMux()
		mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			serveToken(w, "token-1")
		})
		mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("x-request-id", "req-503")
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		// page size 1 cannot degrade further
		client, _ := newTestClient(t, server, Config{
			PageSize: 1,
			Retry:    RetryConfig{MaxRetries: 2},
		})

		err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
		require.Error(t, err)
		require.True(t, ErrPagination.Has(err))
		require.True(t, ErrExhausted.Has(err))
		require.Contains(t, err.Error(), "/v1/vulnerabilities")
		require.Contains(t, err.Error(), "req-503")
	}

	{ // Ensure persistent 429s surface as rate limit exhaustion
		mux := http.NewServeMux()
		mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			serveToken(w, "token-1")
		})
		mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client, _ := newTestClient(t, server, Config{
			Retry: RetryConfig{MaxRetries: 2},
		})

		err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
		require.Error(t, err)
		require.True(t, ErrRateLimited.Has(err))
	}
}

func TestPageSizeDegradation(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var mu sync.Mutex
	var sizes []int
	failures := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		mu.Lock()
		sizes = append(sizes, size)
		failures++
		fail := failures <= 7
		mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("pageCursor") == "" {
			servePage(w, []string{`{"id":"v-1"}`}, "next")
			return
		}
		servePage(w, []string{`{"id":"v-2"}`}, "")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{
		PageSize: 4,
		Retry:    RetryConfig{MaxRetries: 5},
	})

	delivered := 0
	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error {
		delivered += len(batch)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	mu.Lock()
	defer mu.Unlock()
	// five attempts at the original size, then the degraded size takes over
	require.Equal(t, []int{4, 4, 4, 4, 4, 2, 2, 2, 2}, sizes)
	// the walk continues at the degraded size after the first success
	require.LessOrEqual(t, sizes[len(sizes)-1], 2)
}

func TestPaginateWalk(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var mu sync.Mutex
	var cursors []string
	var dateFilters []string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerability-remediations", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cursors = append(cursors, r.URL.Query().Get("pageCursor"))
		dateFilters = append(dateFilters, r.URL.Query().Get("remediatedAfterDate"))
		mu.Unlock()

		switch r.URL.Query().Get("pageCursor") {
		case "":
			servePage(w, []string{`{"id":"r-1"}`, `{"id":"r-2"}`}, "c-1")
		case "c-1":
			// a valid empty page only advances the cursor
			servePage(w, nil, "c-2")
		default:
			servePage(w, []string{`{"id":"r-3"}`}, "")
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	var batchSizes []int
	err := client.Remediations(ctx, Filters{"remediatedAfterDate": "2024-01-01"}, func(ctx context.Context, batch []json.RawMessage) error {
		batchSizes = append(batchSizes, len(batch))
		return nil
	})
	require.NoError(t, err)

	// empty pages are never delivered
	require.Equal(t, []int{2, 1}, batchSizes)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"", "c-1", "c-2"}, cursors)
	require.Equal(t, []string{"2024-01-01", "2024-01-01", "2024-01-01"}, dateFilters)
}

func TestPaginateCallbackError(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		servePage(w, []string{`{"id":"v-1"}`}, "more")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	boom := errors.New("flush failed")
	err := client.Vulnerabilities(ctx, nil, func(ctx context.Context, batch []json.RawMessage) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestPaginateCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		serveToken(w, "token-1")
	})
	mux.HandleFunc("/v1/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _ := newTestClient(t, server, Config{})

	cctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := client.Vulnerabilities(cctx, nil, func(ctx context.Context, batch []json.RawMessage) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
