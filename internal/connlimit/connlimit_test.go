package connlimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsGlobalLimit(t *testing.T) {
	l := New(2)

	require.True(t, l.TryAcquire("alice"))
	require.True(t, l.TryAcquire("bob"))
	assert.False(t, l.TryAcquire("carol"), "third session must be rejected")
	assert.Equal(t, 2, l.Active())

	l.Release("alice")
	assert.True(t, l.TryAcquire("carol"), "slot freed by release must be reusable")
}

func TestReleasePairing(t *testing.T) {
	l := New(10)

	require.True(t, l.TryAcquire("alice"))
	require.True(t, l.TryAcquire("alice"))
	assert.Equal(t, 2, l.UserConnections("alice"))
	assert.Equal(t, 1, l.ActiveUsers())

	l.Release("alice")
	assert.Equal(t, 1, l.UserConnections("alice"))

	l.Release("alice")
	assert.Equal(t, 0, l.UserConnections("alice"))
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, l.ActiveUsers())
}

func TestSetMaxConnections(t *testing.T) {
	l := New(1)
	require.True(t, l.TryAcquire("alice"))
	require.False(t, l.TryAcquire("bob"))

	l.SetMaxConnections(2)
	assert.True(t, l.TryAcquire("bob"))

	// Values below 1 are ignored.
	l.SetMaxConnections(0)
	assert.Equal(t, 2, l.MaxConnections())
}

// TestConcurrentAcquireRelease verifies that the cap is never exceeded
// under concurrency and that counters return to zero once every acquired
// slot is released.
func TestConcurrentAcquireRelease(t *testing.T) {
	const limit = 8
	const workers = 64

	l := New(limit)

	var wg sync.WaitGroup
	acquired := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := string(rune('a' + id%4))
			if l.TryAcquire(user) {
				if l.Active() > limit {
					t.Errorf("active count %d exceeded limit %d", l.Active(), limit)
				}
				acquired <- user
			}
		}(i)
	}
	wg.Wait()
	close(acquired)

	n := 0
	for user := range acquired {
		n++
		l.Release(user)
	}
	assert.LessOrEqual(t, n, limit)
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, l.ActiveUsers())
}
