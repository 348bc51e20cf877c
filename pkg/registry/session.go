// Package registry implements the session / domain / channel
// registries: a process-wide session list guarded by one mutex,
// reference-counted session handles, and the per-session
// domain/channel/event tree. Lookups are linear over a small working
// set, the same tradeoff tracee makes in its own event-scope
// filtering, which walks a small map of filter scopes per event
// rather than indexing it.
package registry

import (
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// State is the session lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateActive
	StateInactive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// CreationMode is the session's creation mode.
type CreationMode int

const (
	ModeNormal CreationMode = iota
	ModeLive
	ModeSnapshot
)

// Credentials identifies the session's creator.
type Credentials struct {
	UID int
	GID int
}

// MaxSessionNameLen bounds session names.
const MaxSessionNameLen = 255

// Output describes where a session's trace data is written: either a
// local path or a relay URL, never both.
type Output struct {
	LocalPath string
	RelayURL  string
}

// RotationSchedule is one entry of a session's rotation schedule set
//; the concrete schedule kinds live in pkg/rotation, this is
// just the registry-visible handle.
type RotationSchedule struct {
	ID       uuid.UUID
	Periodic *time.Duration // nil if size-based
	SizeMiB  *uint64        // nil if time-based
}

// Session is the named container of domains, channels, and event
// rules that a tracing run is scoped to.
type Session struct {
	mu sync.RWMutex

	ID      uuid.UUID
	Name    string
	Output  Output
	Mode    CreationMode
	Creator Credentials
	State   State

	domains map[DomainKind]*Domain

	rotationSchedules []RotationSchedule
	rotationPending   bool

	refcount  int32
	createdAt time.Time
}

// ValidSessionName reports whether name satisfies tracee's
// restricted-character-set and length requirements: non-empty,
// at most MaxSessionNameLen bytes, and composed of letters, digits,
// '-', '_', or '.'.
func ValidSessionName(name string) bool {
	if name == "" || len(name) > MaxSessionNameLen {
		return false
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func newSession(name string, out Output, mode CreationMode, creator Credentials) *Session {
	return &Session{
		ID:        uuid.New(),
		Name:      name,
		Output:    out,
		Mode:      mode,
		Creator:   creator,
		State:     StateCreated,
		domains:   make(map[DomainKind]*Domain),
		refcount:  1,
		createdAt: time.Now(),
	}
}

// Ref pins the session so a long-running command can hold it without
// blocking the session-list lock.
func (s *Session) Ref() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

// Unref releases a pin. It never frees the session itself — that only
// happens through SessionRegistry.MarkDestroyed and Finalize — it only tracks
// outstanding readers so destroy can wait for them.
func (s *Session) Unref() {
	s.mu.Lock()
	s.refcount--
	s.mu.Unlock()
}

func (s *Session) refCount() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refcount
}

// GetState returns the session's current lifecycle state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.State = st
	s.mu.Unlock()
}

// Activate transitions the session to active, the state start-trace
// puts it in once the per-domain tracer handshake succeeds.
func (s *Session) Activate() { s.setState(StateActive) }

// Deactivate transitions the session to inactive, the state
// stop-trace leaves it in, and the only state start-trace accepts
// from again.
func (s *Session) Deactivate() { s.setState(StateInactive) }

// Domain returns the session's Domain sub-container for kind,
// creating it if absent.
func (s *Session) Domain(kind DomainKind) *Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[kind]
	if !ok {
		d = newDomain(kind)
		s.domains[kind] = d
	}
	return d
}

// LookupDomain returns the session's Domain for kind without creating
// it, and whether it exists.
func (s *Session) LookupDomain(kind DomainKind) (*Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[kind]
	return d, ok
}

// Domains returns a snapshot slice of the session's domains.
func (s *Session) Domains() []*Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	return out
}

// AddRotationSchedule appends a rotation schedule, rejecting a
// duplicate periodic/size definition.
func (s *Session) AddRotationSchedule(sched RotationSchedule) *errkind.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rotationSchedules {
		sameKind := (existing.Periodic != nil) == (sched.Periodic != nil)
		if sameKind {
			return errkind.New("registry.AddRotationSchedule", errkind.RotationScheduleSet)
		}
	}
	s.rotationSchedules = append(s.rotationSchedules, sched)
	return nil
}

// RotationSchedules returns a snapshot of the session's schedules.
func (s *Session) RotationSchedules() []RotationSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RotationSchedule, len(s.rotationSchedules))
	copy(out, s.rotationSchedules)
	return out
}

// RemoveRotationSchedule removes the schedule entry identified by id,
// reporting whether one was found. Used to roll back AddRotationSchedule
// when a subsequent step (wiring the periodic timer) fails.
func (s *Session) RemoveRotationSchedule(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sched := range s.rotationSchedules {
		if sched.ID == id {
			s.rotationSchedules = append(s.rotationSchedules[:i], s.rotationSchedules[i+1:]...)
			return true
		}
	}
	return false
}

// TryBeginRotation reports whether a rotation may start now, setting
// the in-flight flag if so. At most one rotation may be in flight per
// session; new requests are rejected with ROTATION_PENDING.
func (s *Session) TryBeginRotation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotationPending {
		return false
	}
	s.rotationPending = true
	return true
}

// EndRotation clears the in-flight flag.
func (s *Session) EndRotation() {
	s.mu.Lock()
	s.rotationPending = false
	s.mu.Unlock()
}
