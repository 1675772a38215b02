// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package ratelimit paces outgoing requests below the documented Vanta API
// limits.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"golang.org/x/time/rate"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the ratelimit package.
	Error = errs.Class("ratelimit")
)

// Class identifies one of the documented Vanta rate limit buckets.
type Class string

// Documented limit classes.
const (
	Auth            Class = "auth"
	API             Class = "api"
	Management      Class = "management"
	Auditor         Class = "auditor"
	AuditorWrite    Class = "auditor-write"
	AuditorEvidence Class = "auditor-evidence"
)

// Window is the period the documented request limits apply to.
const Window = time.Minute

// DefaultSafetyMargin is the fraction of a documented limit the client
// allows itself to use, leaving headroom for other API consumers.
const DefaultSafetyMargin = 0.9

// maxRequests per Window for each class, as documented by Vanta.
var maxRequests = map[Class]int{
	Auth:            5,
	API:             20,
	Management:      50,
	Auditor:         250,
	AuditorWrite:    10,
	AuditorEvidence: 600,
}

// Config configures a single limiter.
type Config struct {
	MaxRequests  int           `help:"documented request limit for the window" default:"20"`
	Window       time.Duration `help:"period the request limit applies to" default:"1m0s"`
	SafetyMargin float64       `help:"fraction of the documented limit to actually use" default:"0.9"`
}

// Limiter is a token bucket keeping request throughput below a documented
// API limit.
//
// The bucket starts full at the effective limit, refills continuously at
// effective-limit-per-window and never holds more than the effective limit.
// The effective limit is floor(max requests * safety margin), at least 1.
type Limiter struct {
	class   Class
	limiter *rate.Limiter
	limit   int
}

// New creates a limiter from a config.
func New(config Config) *Limiter {
	return newLimiter("", config)
}

// ForClass creates a limiter for one of the documented classes. An unknown
// class gets the general api limits.
func ForClass(class Class, safetyMargin float64) *Limiter {
	max, ok := maxRequests[class]
	if !ok {
		max = maxRequests[API]
	}
	return newLimiter(class, Config{
		MaxRequests:  max,
		Window:       Window,
		SafetyMargin: safetyMargin,
	})
}

func newLimiter(class Class, config Config) *Limiter {
	margin := config.SafetyMargin
	if margin <= 0 || margin > 1 {
		margin = DefaultSafetyMargin
	}
	window := config.Window
	if window <= 0 {
		window = Window
	}

	limit := int(math.Floor(float64(config.MaxRequests) * margin))
	if limit < 1 {
		limit = 1
	}

	return &Limiter{
		class:   class,
		limiter: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
		limit:   limit,
	}
}

// Class returns the class the limiter was built for.
func (limiter *Limiter) Class() Class { return limiter.class }

// Limit returns the effective request limit per window.
func (limiter *Limiter) Limit() int { return limiter.limit }

// Wait blocks until a token is available. Waiters are served in arrival
// order. It fails only when the context is canceled or its deadline cannot
// accommodate the wait.
func (limiter *Limiter) Wait(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := limiter.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return Error.Wrap(err)
	}
	return nil
}

// Allow reports whether a request could proceed right now without waiting,
// consuming a token when it can.
func (limiter *Limiter) Allow() bool {
	return limiter.limiter.Allow()
}
