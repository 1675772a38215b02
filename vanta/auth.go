// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vanta

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrAuth is returned when the client cannot obtain a usable access token.
var ErrAuth = errs.Class("vanta auth")

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// bearerToken returns a valid access token, exchanging credentials when the
// cached token is missing or expires within the refresh skew. With force set
// the cached token is discarded first.
//
// Concurrent callers share a single in-flight exchange so a fleet of
// paginated fetches cannot stampede the token endpoint.
func (client *Client) bearerToken(ctx context.Context, force bool) (string, error) {
	client.mu.Lock()
	if force {
		client.token = ""
	}
	if client.token != "" && time.Until(client.expiresAt) > tokenRefreshSkew {
		token := client.token
		client.mu.Unlock()
		return token, nil
	}
	client.mu.Unlock()

	token, err, _ := client.authFlight.Do("token", func() (interface{}, error) {
		return client.exchangeToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// exchangeToken runs the OAuth client-credentials exchange and caches the
// result.
func (client *Client) exchangeToken(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := client.authLimiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":     client.clientID,
		"client_secret": client.clientSecret,
		"scope":         authScope,
		"grant_type":    authGrantType,
	})
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", ErrAuth.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", ErrAuth.New("token request failed: status %d, request id %q, body: %s",
			resp.StatusCode, requestID(resp.Header), excerpt(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", ErrAuth.Wrap(err)
	}
	if token.AccessToken == "" {
		return "", ErrAuth.New("token response carried no access token")
	}

	ttl := time.Duration(token.ExpiresIn) * time.Second
	if token.ExpiresIn <= 0 {
		ttl = defaultTokenTTL
	}

	client.mu.Lock()
	client.token = token.AccessToken
	client.expiresAt = time.Now().Add(ttl)
	client.mu.Unlock()

	client.log.Debug("access token refreshed", zap.Duration("ttl", ttl))
	return token.AccessToken, nil
}
