// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"time"
)

// Sleep pauses for the duration or until the context is canceled, whichever
// happens first. It reports whether the full duration elapsed.
func Sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
