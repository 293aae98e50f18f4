package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles a byte stream to a sustained rate using the token
// bucket algorithm from golang.org/x/time/rate.
//
// One token equals one byte. The bucket holds up to one second worth of
// budget, so a transfer may burst briefly after an idle period but never
// exceeds the sustained rate over time.
//
// A Limiter is either owned by a single session (upload/download limiter)
// or shared by every session (the server-wide limits); all methods are
// safe for concurrent use either way.
type Limiter struct {
	mu      sync.Mutex
	bps     int64
	limiter *rate.Limiter
}

// maxChunk bounds a single WaitN so slow limits still wake up often
// enough to observe context cancellation promptly.
const maxChunk = 4096

// New creates a Limiter capped at bytesPerSecond. A rate <= 0 means
// unlimited: Acquire returns immediately.
func New(bytesPerSecond int64) *Limiter {
	return &Limiter{
		bps:     bytesPerSecond,
		limiter: newBucket(bytesPerSecond),
	}
}

func newBucket(bps int64) *rate.Limiter {
	if bps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bps), int(min(bps, int64(1<<30))))
}

// Acquire blocks until n bytes of budget are available or the context is
// cancelled. Requests larger than the bucket are split into chunks so a
// single oversized read cannot stall forever.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()

	if lim.Limit() == rate.Inf {
		return nil
	}

	for n > 0 {
		chunk := n
		if chunk > maxChunk {
			chunk = maxChunk
		}
		if burst := lim.Burst(); chunk > burst && burst > 0 {
			chunk = burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetLimit replaces the sustained rate. The byte budget is reset so a
// lowered limit takes effect immediately instead of after the old burst
// drains. Negative rates are ignored; 0 means unlimited.
func (l *Limiter) SetLimit(bytesPerSecond int64) {
	if bytesPerSecond < 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bytesPerSecond == l.bps {
		return
	}
	l.bps = bytesPerSecond
	l.limiter = newBucket(bytesPerSecond)
}

// Limit returns the current sustained rate in bytes per second (0 =
// unlimited).
func (l *Limiter) Limit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bps
}
