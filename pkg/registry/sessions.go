package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// SessionRegistry is the process-wide session list plus list-wide
// mutex: no two live sessions share a name, a session marked
// destroyed is no longer discoverable by name, and the list-empty
// condition is broadcast to waiters.
//
// A Go slice plus map substitutes for the intrusive doubly-linked
// list; the broadcast-on-empty behavior is a sync.Cond over the same
// mutex, used by daemon shutdown to wait for session draining.
type SessionRegistry struct {
	mu       sync.Mutex
	empty    *sync.Cond
	byName   map[string]*Session
	byID     map[uuid.UUID]*Session
	UIDBufs  *BufferRegistry
	PIDBufs  *BufferRegistry
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	r := &SessionRegistry{
		byName:  make(map[string]*Session),
		byID:    make(map[uuid.UUID]*Session),
		UIDBufs: NewUIDBufferRegistry(),
		PIDBufs: NewPIDBufferRegistry(),
	}
	r.empty = sync.NewCond(&r.mu)
	return r
}

// Create allocates and inserts a new session. Fails with SessionExists if name is
// already discoverable.
func (r *SessionRegistry) Create(name string, out Output, mode CreationMode, creator Credentials) (*Session, *errkind.Error) {
	if !ValidSessionName(name) {
		return nil, errkind.New("registry.Create", errkind.SessionInvalidNameChars)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, errkind.New("registry.Create", errkind.SessionExists)
	}

	s := newSession(name, out, mode, creator)
	r.byName[name] = s
	r.byID[s.ID] = s
	return s, nil
}

// Lookup returns the named session if it is discoverable.
func (r *SessionRegistry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	if s.GetState() == StateDestroyed {
		return nil, false
	}
	return s, true
}

// LookupByID returns the session with id, regardless of state (used by
// internal components that already hold a pinned reference).
func (r *SessionRegistry) LookupByID(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// List returns every discoverable (non-destroyed) session.
func (r *SessionRegistry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		if s.GetState() != StateDestroyed {
			out = append(out, s)
		}
	}
	return out
}

// Len reports the number of discoverable sessions.
func (r *SessionRegistry) Len() int {
	return len(r.List())
}

// MarkDestroyed transitions s to StateDestroyed and removes it from
// the by-name index, making it no longer discoverable, but keeps the
// by-ID entry until Finalize so in-flight pinned readers can still
// resolve it.
func (r *SessionRegistry) MarkDestroyed(s *Session) {
	r.mu.Lock()
	s.setState(StateDestroyed)
	delete(r.byName, s.Name)
	r.mu.Unlock()
}

// Finalize removes the by-ID entry once refcount has drained to zero,
// and broadcasts to WaitUntilEmpty waiters if the list is now empty.
// Returns false (and does nothing) if readers are still pinning s.
func (r *SessionRegistry) Finalize(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.refCount() > 0 {
		return false
	}
	delete(r.byID, s.ID)
	if len(r.byID) == 0 {
		r.empty.Broadcast()
	}
	return true
}

// WaitUntilEmpty blocks until the session list is empty, used during
// daemon shutdown.
func (r *SessionRegistry) WaitUntilEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.byID) > 0 {
		r.empty.Wait()
	}
}
