// Package appreg implements the application-registration pipeline: a
// listener stage accepts tracer registrations, a queue hands them to
// a dispatch stage which consults the buffer registry and hands the
// live socket to manage-apps, which then watches it for I/O errors
// that imply the app has died. The stage split and the
// channel-per-stage wiring follow tracee's event pipeline
// (decodeEvents → processEvents → sinkEvents, each stage a goroutine
// reading one channel and writing another), generalized from a fixed
// perf-event pipeline to this three-stage registration pipeline.
package appreg

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/logger"
	"github.com/opentrace/sessiond/pkg/metrics"
	"github.com/opentrace/sessiond/pkg/registry"
)

// Registration is one pending tracer registration moving through the
// pipeline: the peer's credentials plus the live connection that
// manage-apps eventually takes ownership of.
type Registration struct {
	UID  int
	PID  int
	Conn net.Conn
}

// PeerCredentials reads the kernel-verified uid/pid of the process on
// the other end of a unix-domain connection via SO_PEERCRED, used to
// authenticate a registering tracer without trusting anything the
// tracer claims.
func PeerCredentials(conn net.Conn) (uid int, pid int, err error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, errkind.New("appreg.PeerCredentials", errkind.Unsupported)
	}
	raw, rerr := uc.SyscallConn()
	if rerr != nil {
		return 0, 0, errkind.Wrap("appreg.PeerCredentials", errkind.IOFailure, rerr)
	}
	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil {
		return 0, 0, errkind.Wrap("appreg.PeerCredentials", errkind.IOFailure, ctlErr)
	}
	if credErr != nil {
		return 0, 0, errkind.Wrap("appreg.PeerCredentials", errkind.IOFailure, credErr)
	}
	return int(cred.Uid), int(cred.Pid), nil
}

// Queue is the wait-free-flavored MPSC hop between the listener and
// dispatch stages.
// A buffered Go channel already wakes a blocked receiver on send, so
// the futex-wake step a raw queue would need is simply channel
// send/receive; there is no separate wake primitive to model.
type Queue struct {
	items chan Registration
}

// NewQueue creates a Queue with the given backlog capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{items: make(chan Registration, capacity)}
}

// Enqueue offers r to the queue without blocking, reporting whether it
// was accepted. A full queue drop is the caller's to count.
func (q *Queue) Enqueue(r Registration) bool {
	select {
	case q.items <- r:
		return true
	default:
		return false
	}
}

// Dequeue blocks for the next registration until ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Registration, bool) {
	select {
	case r := <-q.items:
		return r, true
	case <-ctx.Done():
		return Registration{}, false
	}
}

// Len reports the queue's current backlog, used for
// pkg/metrics.RegQueueDepth.
func (q *Queue) Len() int { return len(q.items) }

// ManageApps owns the adopted sockets of live registered apps and
// watches each for the I/O error that means the app died.
type ManageApps struct {
	mu    sync.Mutex
	conns map[uint64]net.Conn
	log   *logger.Logger
}

// NewManageApps constructs an empty ManageApps set.
func NewManageApps() *ManageApps {
	return &ManageApps{conns: make(map[uint64]net.Conn), log: logger.Named("appreg.manage-apps")}
}

// Adopt takes ownership of reg's connection under handle, starting a
// goroutine that reads from it until it errors or the app closes it,
// at which point onDeath is invoked so the caller can unregister the
// app from the buffer registry. Adopt is the handoff point 
// anchors its visibility guarantee to: the caller must not insert into
// the buffer registry until Adopt returns nil.
func (m *ManageApps) Adopt(handle uint64, reg Registration, onDeath func()) error {
	m.mu.Lock()
	if _, exists := m.conns[handle]; exists {
		m.mu.Unlock()
		return errkind.New("appreg.ManageApps.Adopt", errkind.AlreadyExists)
	}
	m.conns[handle] = reg.Conn
	m.mu.Unlock()

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := reg.Conn.Read(buf); err != nil {
				m.mu.Lock()
				delete(m.conns, handle)
				m.mu.Unlock()
				m.log.Debug("registered app connection closed", "uid", reg.UID, "pid", reg.PID)
				onDeath()
				return
			}
		}
	}()
	return nil
}

// Len reports the number of apps currently monitored.
func (m *ManageApps) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Drop forcibly closes and removes handle, used when dispatch must
// roll back a registration that failed after the manage-apps handoff
// but before it was fully committed.
func (m *ManageApps) Drop(handle uint64) {
	m.mu.Lock()
	conn, ok := m.conns[handle]
	delete(m.conns, handle)
	m.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// KeySpace selects which of the two global buffer registries (by-UID
// or by-PID) and which key within it a registration belongs to,
// mirroring a session's per-session buffering-policy configuration.
type KeySpace struct {
	Registry *registry.BufferRegistry
	Key      int
}

// Pipeline wires the listener → queue → dispatch → manage-apps stages
// together.
type Pipeline struct {
	queue      *Queue
	manageApps *ManageApps
	limiter    *rate.Limiter
	met        *metrics.Metrics
	log        *logger.Logger

	// nextHandle is a pipeline-local monitoring handle for ManageApps'
	// connection set. It is independent of the AppToken.SessionHandle
	// the buffer registry mints on insert — the two namespaces never
	// need to agree, ManageApps only needs a key to find the
	// connection again on rollback.
	nextHandle uint64
}

// New constructs a Pipeline. acceptsPerSecond/burst throttle the
// listener stage.
func New(acceptsPerSecond float64, burst int, met *metrics.Metrics) *Pipeline {
	return &Pipeline{
		queue:      NewQueue(1024),
		manageApps: NewManageApps(),
		limiter:    rate.NewLimiter(rate.Limit(acceptsPerSecond), burst),
		met:        met,
		log:        logger.Named("appreg"),
	}
}

// Queue exposes the MPSC queue for the listener stage to feed.
func (p *Pipeline) Queue() *Queue { return p.queue }

// ManageApps exposes the adopted-connection set, mainly for tests and
// supervisor teardown accounting.
func (p *Pipeline) ManageApps() *ManageApps { return p.manageApps }

// Submit is the listener stage: throttles accepted registrations and
// hands them to the queue, counting drops either way.
func (p *Pipeline) Submit(reg Registration) bool {
	if !p.limiter.Allow() {
		p.bump(p.met, func(m *metrics.Metrics) { m.RegDroppedTotal.Inc() })
		return false
	}
	ok := p.queue.Enqueue(reg)
	if !ok {
		p.bump(p.met, func(m *metrics.Metrics) { m.RegDroppedTotal.Inc() })
	}
	if p.met != nil {
		p.met.RegQueueDepth.Set(float64(p.queue.Len()))
	}
	return ok
}

// Dispatch runs the dispatch stage until ctx is cancelled: dequeue,
// resolve the registration's key space, hand the socket to
// manage-apps, and only then materialize the app in the buffer
// registry. If the manage-apps
// handoff fails, or channel materialization fails afterward, the
// partial state is rolled back before any caller-visible signal.
func (p *Pipeline) Dispatch(ctx context.Context, resolve func(Registration) KeySpace) {
	for {
		reg, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if p.met != nil {
			p.met.RegQueueDepth.Set(float64(p.queue.Len()))
		}
		p.dispatchOne(reg, resolve)
	}
}

func (p *Pipeline) dispatchOne(reg Registration, resolve func(Registration) KeySpace) {
	ks := resolve(reg)
	handle := atomic.AddUint64(&p.nextHandle, 1)

	var rolledBack atomic.Bool
	onDeath := func() {
		if !rolledBack.Load() {
			ks.Registry.Remove(ks.Key)
		}
	}
	if err := p.manageApps.Adopt(handle, reg, onDeath); err != nil {
		p.log.Warn("registration handoff to manage-apps failed", "uid", reg.UID, "pid", reg.PID, "error", err)
		p.bump(p.met, func(m *metrics.Metrics) { m.RegRollbacksTotal.Inc() })
		_ = reg.Conn.Close()
		return
	}

	if _, created := ks.Registry.GetOrCreate(ks.Key, reg.UID); !created {
		// Already registered under this key: the handoff we just made
		// is redundant, roll it back without touching the existing entry.
		rolledBack.Store(true)
		p.manageApps.Drop(handle)
		p.bump(p.met, func(m *metrics.Metrics) { m.RegRollbacksTotal.Inc() })
		return
	}

	p.log.Info("application registered", "uid", reg.UID, "pid", reg.PID, "key", ks.Key)
}

func (p *Pipeline) bump(m *metrics.Metrics, f func(*metrics.Metrics)) {
	if m != nil {
		f(m)
	}
}
