// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package vanta implements the authenticated, rate limited, paginated client
// for the Vanta vulnerability API.
package vanta

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vulnwatch/vulnsync/internal/sync2"
	"github.com/vulnwatch/vulnsync/vanta/ratelimit"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the vanta client.
	Error = errs.Class("vanta")
)

// Production endpoints. Tests point BaseURL and AuthURL at local servers.
const (
	// DefaultBaseURL is the production API address.
	DefaultBaseURL = "https://api.vanta.com"
	// DefaultAuthURL is the production OAuth token endpoint.
	DefaultAuthURL = "https://api.vanta.com/oauth/token"

	authScope     = "vanta-api.all:read"
	authGrantType = "client_credentials"

	// defaultTokenTTL applies when a token response carries no expires_in.
	defaultTokenTTL = 3300 * time.Second
	// tokenRefreshSkew is how close to expiry a token is refreshed.
	tokenRefreshSkew = 60 * time.Second

	endpointVulnerabilities = "/v1/vulnerabilities"
	endpointRemediations    = "/v1/vulnerability-remediations"
	// The older /v1/assets endpoint is deprecated upstream and returns 404;
	// asset correlation data lives on /v1/vulnerable-assets.
	endpointVulnerableAssets = "/v1/vulnerable-assets"
)

// RetryConfig configures the exponential backoff schedule for failed
// requests.
type RetryConfig struct {
	InitialBackoff time.Duration `help:"duration of the first retry interval" default:"1s"`
	MaxBackoff     time.Duration `help:"maximum duration of any retry interval" default:"1m0s"`
	MaxRetries     int           `help:"maximum number of attempts for a single request" default:"5"`
}

// Config configures the vanta API client.
type Config struct {
	BaseURL        string        `help:"base url of the vanta api" default:"https://api.vanta.com"`
	AuthURL        string        `help:"oauth token endpoint of the vanta api" default:"https://api.vanta.com/oauth/token"`
	RequestTimeout time.Duration `help:"timeout for a single api request" default:"2m0s"`
	PageSize       int           `help:"records requested per page, 100 is the api maximum" default:"100"`
	SafetyMargin   float64       `help:"fraction of the documented rate limits to use" default:"0.9"`

	Retry RetryConfig
}

// Filters are passed through untouched as query parameters of a listing.
type Filters map[string]string

// BatchFunc handles one non-empty page of raw records. The next page is not
// requested until it returns.
type BatchFunc func(ctx context.Context, batch []json.RawMessage) error

// Client talks to the Vanta API.
//
// All listing endpoints share one bearer token, the documented rate limits
// and the retry policy. A Client is safe for concurrent use.
type Client struct {
	log    *zap.Logger
	config Config

	clientID     string
	clientSecret string

	http *http.Client

	authLimiter *ratelimit.Limiter
	apiLimiter  *ratelimit.Limiter

	authFlight singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	// sleep is stubbed out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, duration time.Duration) bool
}

// New creates a client for the given credentials. Credential values are held
// in memory only and never logged.
func New(log *zap.Logger, config Config, clientID, clientSecret string) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.AuthURL == "" {
		config.AuthURL = DefaultAuthURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if config.PageSize <= 0 || config.PageSize > 100 {
		config.PageSize = 100
	}
	if config.Retry.InitialBackoff <= 0 {
		config.Retry.InitialBackoff = time.Second
	}
	if config.Retry.MaxBackoff <= 0 {
		config.Retry.MaxBackoff = time.Minute
	}
	if config.Retry.MaxRetries <= 0 {
		config.Retry.MaxRetries = 5
	}

	return &Client{
		log:    log,
		config: config,

		clientID:     clientID,
		clientSecret: clientSecret,

		http: &http.Client{Timeout: config.RequestTimeout},

		authLimiter: ratelimit.ForClass(ratelimit.Auth, config.SafetyMargin),
		apiLimiter:  ratelimit.ForClass(ratelimit.API, config.SafetyMargin),

		sleep: sync2.Sleep,
	}
}

// Vulnerabilities streams all vulnerability records page by page.
func (client *Client) Vulnerabilities(ctx context.Context, filters Filters, fn BatchFunc) error {
	return client.paginate(ctx, endpointVulnerabilities, filters, fn)
}

// Remediations streams the historical vulnerability remediation records. An
// incremental sync passes a remediatedAfterDate filter.
func (client *Client) Remediations(ctx context.Context, filters Filters, fn BatchFunc) error {
	return client.paginate(ctx, endpointRemediations, filters, fn)
}

// VulnerableAssets streams the asset correlation records.
func (client *Client) VulnerableAssets(ctx context.Context, filters Filters, fn BatchFunc) error {
	return client.paginate(ctx, endpointVulnerableAssets, filters, fn)
}
