// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vanta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// ErrExhausted is returned when a request runs out of retry attempts.
	ErrExhausted = errs.Class("request exhausted")
	// ErrRateLimited is returned when the API keeps responding 429 until the
	// retry budget is spent.
	ErrRateLimited = errs.Class("rate limited")
)

// requestIDHeaders are checked in order for a request id to attach to errors
// and logs.
var requestIDHeaders = []string{"x-amzn-requestid", "x-amz-cf-id", "x-request-id"}

func requestID(header http.Header) string {
	for _, name := range requestIDHeaders {
		if id := header.Get(name); id != "" {
			return id
		}
	}
	return ""
}

// APIError is a terminal response from the API. Status 0 means the request
// never produced a response.
type APIError struct {
	Status    int
	RequestID string
	Body      string
}

func (apiErr *APIError) Error() string {
	return fmt.Sprintf("status %d (request id %q): %s", apiErr.Status, apiErr.RequestID, apiErr.Body)
}

// excerpt trims a response body for use in error messages.
func excerpt(body []byte) string {
	const max = 256
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > max {
		return trimmed[:max] + "..."
	}
	return trimmed
}

// retryAfter returns how long a 429 response asks us to wait. The documented
// hint is in whole seconds; one extra second avoids shaving the window.
func retryAfter(header http.Header) time.Duration {
	seconds := int64(60)
	if hint := header.Get("Retry-After"); hint != "" {
		if parsed, err := strconv.ParseInt(hint, 10, 64); err == nil && parsed >= 0 {
			seconds = parsed
		}
	}
	return time.Duration(seconds+1) * time.Second
}

// getJSON issues an authenticated GET with rate limiting and the retry
// policy, returning the response body.
//
// A 401 forces one re-authentication, a 429 honors the Retry-After hint,
// server and transport errors back off exponentially, and any other client
// error fails immediately. Cancellation propagates without retry.
func (client *Client) getJSON(ctx context.Context, endpoint string, query url.Values) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	var last *APIError
	reauthenticated := false
	force := false

	for attempt := 0; attempt < client.config.Retry.MaxRetries; attempt++ {
		token, err := client.bearerToken(ctx, force)
		if err != nil {
			return nil, err
		}
		force = false

		if err := client.apiLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		status, header, body, err := client.get(ctx, endpoint, query, token)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			last = &APIError{Body: err.Error()}
			client.log.Debug("request failed, backing off",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !client.backoff(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		switch {
		case status == http.StatusOK:
			return body, nil

		case status == http.StatusUnauthorized:
			if reauthenticated {
				return nil, ErrAuth.New("request unauthorized after refreshing the access token (request id %q)",
					requestID(header))
			}
			reauthenticated, force = true, true
			last = &APIError{Status: status, RequestID: requestID(header), Body: excerpt(body)}

		case status == http.StatusTooManyRequests:
			last = &APIError{Status: status, RequestID: requestID(header), Body: excerpt(body)}
			wait := retryAfter(header)
			client.log.Debug("rate limited by the api",
				zap.String("endpoint", endpoint),
				zap.Duration("wait", wait),
				zap.String("request_id", last.RequestID))
			if !client.sleep(ctx, wait) {
				return nil, ctx.Err()
			}

		case status >= 500:
			last = &APIError{Status: status, RequestID: requestID(header), Body: excerpt(body)}
			client.log.Debug("server error, backing off",
				zap.String("endpoint", endpoint),
				zap.Int("status", status),
				zap.Int("attempt", attempt),
				zap.String("request_id", last.RequestID))
			if !client.backoff(ctx, attempt) {
				return nil, ctx.Err()
			}

		default:
			// remaining 4xx responses are not retryable
			return nil, Error.Wrap(&APIError{Status: status, RequestID: requestID(header), Body: excerpt(body)})
		}
	}

	if last != nil && last.Status == http.StatusTooManyRequests {
		return nil, ErrRateLimited.Wrap(last)
	}
	return nil, ErrExhausted.Wrap(last)
}

// backoff sleeps 2^attempt times the initial interval, capped at the
// configured maximum. It reports whether the sleep completed.
func (client *Client) backoff(ctx context.Context, attempt int) bool {
	backoff := client.config.Retry.InitialBackoff << uint(attempt)
	if backoff > client.config.Retry.MaxBackoff || backoff <= 0 {
		backoff = client.config.Retry.MaxBackoff
	}
	return client.sleep(ctx, backoff)
}

// get performs one bare request and reads the full response.
func (client *Client) get(ctx context.Context, endpoint string, query url.Values, token string) (status int, header http.Header, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.config.BaseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { err = errs.Combine(err, resp.Body.Close()) }()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}
