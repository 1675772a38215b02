// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync"
)

// Fence allows multiple goroutines to wait for something to be released.
//
// The zero value is usable. A fence can be released only once.
type Fence struct {
	setup    sync.Once
	release  sync.Once
	done     chan struct{}
	released bool
	mu       sync.Mutex
}

func (fence *Fence) init() {
	fence.setup.Do(func() {
		fence.done = make(chan struct{})
	})
}

// Release releases everyone waiting on the fence.
func (fence *Fence) Release() {
	fence.init()
	fence.release.Do(func() {
		fence.mu.Lock()
		fence.released = true
		fence.mu.Unlock()
		close(fence.done)
	})
}

// Wait blocks until the fence is released or the context is canceled.
// It reports whether the fence was released.
func (fence *Fence) Wait(ctx context.Context) bool {
	fence.init()
	select {
	case <-fence.done:
		return true
	case <-ctx.Done():
		return fence.Released()
	}
}

// Released reports whether the fence has been released.
func (fence *Fence) Released() bool {
	fence.mu.Lock()
	defer fence.mu.Unlock()
	return fence.released
}

// Done returns a channel that is closed when the fence is released.
func (fence *Fence) Done() <-chan struct{} {
	fence.init()
	return fence.done
}
