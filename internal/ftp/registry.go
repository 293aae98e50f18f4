package ftp

import (
	"net"
	"sync"
	"time"
)

// SessionInfo is a point-in-time view of one live control connection,
// exposed to the admin API.
type SessionInfo struct {
	Username    string    `json:"username"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

type registryEntry struct {
	conn        net.Conn
	session     *Session
	connectedAt time.Time
}

// Registry tracks live control connections so the admin surface can
// inspect them and a shutdown can drop them all.
type Registry struct {
	mu      sync.Mutex
	entries map[net.Conn]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[net.Conn]*registryEntry)}
}

func (r *Registry) register(conn net.Conn, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[conn] = &registryEntry{conn: conn, session: s, connectedAt: time.Now()}
}

func (r *Registry) unregister(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, conn)
}

// Snapshot returns the current connections. Anonymous sessions report
// an empty username.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, SessionInfo{
			Username:    e.session.username,
			RemoteAddr:  e.conn.RemoteAddr().String(),
			State:       e.session.state.String(),
			ConnectedAt: e.connectedAt,
		})
	}
	return out
}

// DisconnectAll force-closes every control connection.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[net.Conn]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.conn.Close()
	}
}
