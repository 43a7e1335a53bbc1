package chat

import (
	"sort"
	"sync"
	"time"
)

// Conn is the send side of one live client connection.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Entry is one registered client. Snapshot hands out copies.
type Entry struct {
	ClientID string
	Lang     string
	Conn     Conn
	Since    time.Time
}

// Registry maps client ids to their current connection. At most one entry
// exists per id; registering again supersedes the old handle.
type Registry struct {
	mu       sync.RWMutex
	byClient map[string]*Entry
	clock    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{byClient: make(map[string]*Entry), clock: time.Now}
}

// Register inserts or overwrites the entry for clientID and returns the
// handle it superseded, if any.
func (r *Registry) Register(clientID string, c Conn, lang string) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byClient[clientID]; ok && old.Conn != c {
		prev = old.Conn
	}
	r.byClient[clientID] = &Entry{ClientID: clientID, Lang: lang, Conn: c, Since: r.clock()}
	return prev
}

// Unregister removes clientID only while c is still its registered handle.
// A stale handle from a reconnect race is a no-op and reports false.
func (r *Registry) Unregister(clientID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byClient[clientID]
	if !ok || e.Conn != c {
		return false
	}
	delete(r.byClient, clientID)
	return true
}

func (r *Registry) Get(clientID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot is a point-in-time copy ordered by connect time, safe to iterate
// while connections come and go.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.byClient))
	for _, e := range r.byClient {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.byClient
	r.byClient = make(map[string]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.Conn.Close()
	}
}
