package session

import (
	"sort"
	"sync"

	"github.com/cascadeview/backend/internal/types"
)

// Registry maps session identifiers to live sessions. The mapping is
// copy-on-write: discovery replaces it wholesale at the end of each
// scan cycle, so concurrent readers always observe either the fully-old
// or fully-new set, never a partial one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session with the given identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns the current mapping. Callers must treat it as read-only;
// it is never mutated after publication.
func (r *Registry) All() map[string]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Replace atomically publishes the next mapping and returns the
// sessions present before but absent now, which the caller must tear
// down.
func (r *Registry) Replace(next map[string]*Session) []*Session {
	if next == nil {
		next = make(map[string]*Session)
	}

	r.mu.Lock()
	prev := r.sessions
	r.sessions = next
	r.mu.Unlock()

	var evicted []*Session
	for id, s := range prev {
		if _, ok := next[id]; !ok {
			evicted = append(evicted, s)
		}
	}
	return evicted
}

// Infos lists session summaries ordered by discovery-time preference
// rank (descending), then title for stability.
func (r *Registry) Infos() []types.SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		ri, rj := sessions[i].Rank(), sessions[j].Rank()
		if ri != rj {
			return ri > rj
		}
		return sessions[i].ID < sessions[j].ID
	})

	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}
