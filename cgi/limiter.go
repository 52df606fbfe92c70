package cgi

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxProcesses is the limiter capacity used when a Handler isn't
// given an explicit one.
const DefaultMaxProcesses = 4

// Limiter is a fleet-wide gate admitting at most N concurrent request
// handlings. A Permit's lifetime spans both the child's execution and the
// streaming of its response body, so a slow client draining a response
// still counts against N.
//
// Limiter is safe for concurrent use. The zero value is not usable; build
// one with NewLimiter. Cloning a Handler (or constructing another one
// around the same Descriptor) never duplicates a permit — every acquirer
// must go through Acquire independently.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter builds a Limiter with the given capacity. A non-positive
// capacity is treated as DefaultMaxProcesses.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultMaxProcesses
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(capacity))}
}

// Acquire blocks until a permit is available or ctx is done. On success the
// returned Permit must eventually be released by calling its Release
// method exactly once (Release is idempotent beyond the first call).
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: l.sem}, nil
}

// Permit is an unforgeable token drawn from a Limiter's counting pool. Its
// lifetime bounds the lifetime of both the child process and the
// response-body stream returned to the HTTP codec; a common mistake is to
// release it when the handler function returns instead of when the
// response body finishes draining, which undercounts in-flight work.
type Permit struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the permit to its Limiter. Calling Release more than
// once, or on a nil Permit, is a no-op.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.sem.Release(1)
	})
}
