// Package erroraccounting allocates the bounded pool of error-counter
// indices shared between triggers registered on the notification
// subsystem and the in-kernel/user-space tracers that increment them.
// One index is handed out per registered trigger; the pool never
// grows past its configured bound.
package erroraccounting

import (
	"sync"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/logger"
)

// MinBuckets and MaxBuckets bound the accepted nb_bucket value. The
// upper bound is carried over from the source literally: the bound
// check there rejects anything >= 65535, which this keeps as-is
// rather than "fixing" to a round power of two — see DESIGN.md.
const (
	MinBuckets = 1
	MaxBuckets = 65534
)

// kernelGroup is the opaque wiring handed back by RegisterKernel; it
// stands in for the in-kernel counter-group file descriptor the real
// tracer would ioctl against.
type kernelGroup struct {
	fd int
}

// Pool is the fixed-size bucket pool of tracee's "Event-Notifier
// Counter Table". It must be initialized once, before any trigger
// registration, and torn down only after every trigger referencing it
// has unregistered.
type Pool struct {
	mu        sync.Mutex
	nbBuckets int
	free      []int // free index stack, LIFO reuse
	inUse     map[int]uint64 // index -> simulated discard count
	kernel    *kernelGroup
	initDone  bool
}

// New validates nbBuckets against [MinBuckets, MaxBuckets] and
// constructs an uninitialized-but-valid pool. The daemon-context
// default comes from the `event-notifier-error-number-of-bucket`
// option, itself bound-checked the same way at the config
// layer.
func New(nbBuckets int) (*Pool, *errkind.Error) {
	if nbBuckets < MinBuckets || nbBuckets > MaxBuckets {
		return nil, errkind.New("erroraccounting.New", errkind.Invalid)
	}
	p := &Pool{
		nbBuckets: nbBuckets,
		inUse:     make(map[int]uint64, nbBuckets),
		initDone:  true,
	}
	p.free = make([]int, nbBuckets)
	for i := 0; i < nbBuckets; i++ {
		p.free[i] = nbBuckets - 1 - i
	}
	return p, nil
}

// Allocate hands out one free index, failing with
// EventNotifierNoIndexAvailable once the pool is exhausted.
func (p *Pool) Allocate() (int, *errkind.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initDone {
		return 0, errkind.New("erroraccounting.Allocate", errkind.EventNotifierErrorAccountingNotInit)
	}
	if len(p.free) == 0 {
		return 0, errkind.New("erroraccounting.Allocate", errkind.EventNotifierNoIndexAvailable)
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = 0
	return idx, nil
}

// Free releases idx back to the pool, making it available to a
// subsequent Allocate.
func (p *Pool) Free(idx int) *errkind.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inUse[idx]; !ok {
		return errkind.New("erroraccounting.Free", errkind.EventNotifierNotFound)
	}
	delete(p.inUse, idx)
	p.free = append(p.free, idx)
	return nil
}

// RegisterKernel wires the in-kernel counter group identified by fd.
// Called once the kernel tracer exposes the event-notifier group file
// descriptor; a second call replaces the wiring and is logged, since
// the in-kernel group is expected to be stable for the daemon's
// lifetime.
func (p *Pool) RegisterKernel(fd int) *errkind.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initDone {
		return errkind.New("erroraccounting.RegisterKernel", errkind.EventNotifierErrorAccountingNotInit)
	}
	if p.kernel != nil {
		logger.Warn("replacing kernel error-counter group", "old_fd", p.kernel.fd, "new_fd", fd)
	}
	p.kernel = &kernelGroup{fd: fd}
	return nil
}

// GetCount reads the current discard count for idx. In the absence of
// a live kernel counter group this returns the last-recorded
// in-process value, which Bump advances (the notification thread
// calls it for each delivered trigger).
func (p *Pool) GetCount(idx int) (uint64, *errkind.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.inUse[idx]
	if !ok {
		return 0, errkind.New("erroraccounting.GetCount", errkind.EventNotifierNotFound)
	}
	return count, nil
}

// Bump advances idx's discard count, simulating a kernel or
// user-space tracer incrementing the shared counter. Exported for use
// by the notification subsystem's delivery path and by tests.
func (p *Pool) Bump(idx int, delta uint64) *errkind.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.inUse[idx]
	if !ok {
		return errkind.New("erroraccounting.Bump", errkind.EventNotifierNotFound)
	}
	p.inUse[idx] = count + delta
	return nil
}

// InUse reports the number of currently-allocated indices, which by
// invariant equals the number of registered triggers.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Capacity reports the pool's configured nb_bucket bound.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nbBuckets
}

// Teardown clears the pool. Callers must ensure every trigger has
// already unregistered (and thus Free'd its index) before calling
// this; it does not itself verify that, mirroring the source's
// ordering contract enforced by the supervisor's join order rather
// than by the pool itself.
func (p *Pool) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse = make(map[int]uint64)
	p.free = nil
	p.kernel = nil
	p.initDone = false
}
