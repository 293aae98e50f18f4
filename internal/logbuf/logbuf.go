package logbuf

import (
	"container/list"
	"sync"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
)

// Ring keeps the most recent server log lines in memory so they can be
// served back over the LOGS command and the admin API without touching
// disk. Oldest lines are dropped once the capacity is reached.
type Ring struct {
	mu    sync.Mutex
	lines *list.List
	max   int
}

const defaultCapacity = 2000

// New returns a ring holding up to max lines. max <= 0 uses the default
// capacity of 2000 lines.
func New(max int) *Ring {
	if max <= 0 {
		max = defaultCapacity
	}
	return &Ring{lines: list.New(), max: max}
}

// Append records a log line, stamped with the current time, and mirrors
// it to the process logger.
func (r *Ring) Append(message string) {
	line := "[" + time.Now().UTC().Format(time.RFC3339) + "] " + message
	logger.Info("%s", message)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines.PushBack(line)
	for r.lines.Len() > r.max {
		r.lines.Remove(r.lines.Front())
	}
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, r.lines.Len())
	for e := r.lines.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Len reports the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines.Len()
}
