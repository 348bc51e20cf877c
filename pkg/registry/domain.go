package registry

import (
	"sync"

	"github.com/opentrace/sessiond/pkg/eventrule"
)

// DomainKind is an alias of eventrule.Domain, so the two are the same
// type and need no conversion.
type DomainKind = eventrule.Domain

// BufferingPolicy is the user-space-only buffer scoping: per-UID or
// per-PID, applicable only to user-space domains.
type BufferingPolicy int

const (
	BufferingUnset BufferingPolicy = iota
	BufferingPerUID
	BufferingPerPID
)

// Domain is the sub-container attached to a session for one of the
// five tracing back-ends.
type Domain struct {
	mu sync.RWMutex

	Kind     DomainKind
	Buffering BufferingPolicy // only meaningful for Kind == DomainUST

	channels map[string]*Channel
}

func newDomain(kind DomainKind) *Domain {
	d := &Domain{Kind: kind, channels: make(map[string]*Channel)}
	if kind == eventrule.DomainUST {
		d.Buffering = BufferingPerUID
	}
	return d
}

// GetOrCreateChannel returns the named channel, creating it with
// default attributes if absent, and whether it was newly created.
func (d *Domain) GetOrCreateChannel(name string) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[name]; ok {
		return ch, false
	}
	ch := newChannel(name)
	d.channels[name] = ch
	return ch, true
}

// Channel returns the named channel and whether it exists.
func (d *Domain) Channel(name string) (*Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

// RemoveChannel deletes the named channel, returning whether it existed.
func (d *Domain) RemoveChannel(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[name]; !ok {
		return false
	}
	delete(d.channels, name)
	return true
}

// Channels returns a snapshot slice of the domain's channels.
func (d *Domain) Channels() []*Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}
