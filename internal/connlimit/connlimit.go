package connlimit

import (
	"sync"
)

// Limiter gates session admission: it enforces the server-wide cap on
// concurrent authenticated connections and tracks per-user counts for the
// admin surface.
//
// Every successful TryAcquire must be paired with exactly one Release;
// the FTP worker does this when the control connection ends.
type Limiter struct {
	mu          sync.Mutex
	globalLimit int
	total       int
	perUser     map[string]int
}

// New creates a Limiter with the given global cap. A cap <= 0 is treated
// as 1 so a misconfigured server still accepts a single session.
func New(globalLimit int) *Limiter {
	if globalLimit <= 0 {
		globalLimit = 1
	}
	return &Limiter{
		globalLimit: globalLimit,
		perUser:     make(map[string]int),
	}
}

// TryAcquire claims a connection slot for username. It returns false,
// without claiming anything, when the global cap is reached.
func (l *Limiter) TryAcquire(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.globalLimit {
		return false
	}
	l.total++
	l.perUser[username]++
	return true
}

// Release returns a previously acquired slot. Calling it without a
// matching TryAcquire is a bug; counters are clamped at zero to keep a
// double release from corrupting admission for everyone else.
func (l *Limiter) Release(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total > 0 {
		l.total--
	}
	if n := l.perUser[username]; n > 1 {
		l.perUser[username] = n - 1
	} else {
		delete(l.perUser, username)
	}
}

// SetMaxConnections replaces the global cap at runtime. Values below 1
// are ignored. Sessions already admitted are unaffected.
func (l *Limiter) SetMaxConnections(max int) {
	if max < 1 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalLimit = max
}

// MaxConnections returns the current global cap.
func (l *Limiter) MaxConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalLimit
}

// Active returns the number of currently admitted sessions.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// ActiveUsers returns the number of distinct users with at least one
// admitted session.
func (l *Limiter) ActiveUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perUser)
}

// UserConnections returns the number of admitted sessions for one user.
func (l *Limiter) UserConnections(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perUser[username]
}

// Snapshot returns a copy of the per-user connection counts.
func (l *Limiter) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.perUser))
	for user, n := range l.perUser {
		out[user] = n
	}
	return out
}
