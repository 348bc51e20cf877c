// Package supervisor owns the daemon's long-lived worker goroutines
// and enforces a strict join order during shutdown: workers and
// teardown steps run in the order they were registered. It recasts tracee's eBPF-event pipeline shape
// (decodeEvents/processEvents/sinkEvents, joined with
// WaitForPipeline/MergeErrors) as a goroutine-supervision pipeline: a
// quit signal broadcast to every worker's select loop, per-stage
// error channels merged with a fan-in, and a single shutdown call
// that blocks until every stage has drained — generalized from a
// fixed perf-event pipeline to a named, ordered list of teardown
// steps.
package supervisor

import (
	"context"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/logger"
	"github.com/opentrace/sessiond/pkg/metrics"
)

// Worker is a long-lived goroutine the supervisor starts at bring-up
// and joins at shutdown. Run blocks until ctx is cancelled or the
// worker hits a fatal error; it must return promptly once ctx.Done()
// fires.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// TeardownStep is one entry of the ordered shutdown sequence. Fn may
// block.
type TeardownStep struct {
	Name string
	Fn   func() error
}

// joinStep is one entry of the single combined bring-up/shutdown
// sequence: either a worker join (cancel + wait for its goroutine to
// exit) or a plain teardown func, recorded in the exact order its
// registering call (Spawn or AddTeardownStep) happened. Shutdown walks
// this one list in that order, so a worker registered between two
// teardown steps joins between them instead of all workers joining
// before any step runs.
type joinStep struct {
	name   string
	worker *registeredWorker // nil for a plain teardown step
	fn     func() error      // nil for a worker step
}

// Supervisor sequences worker bring-up and the exact interleaved join
// order at shutdown. The quit pipe is a real unix.Pipe when available
// (so a poll-driven worker can select on its read end alongside
// socket fds), and Broadcast also closes an in-memory chan struct{}
// that workers can select on through Quit. A worker started by Spawn
// additionally has its own context cancelled when Shutdown reaches its
// join step.
type Supervisor struct {
	mu    sync.Mutex
	steps []joinStep

	quitReadFd, quitWriteFd int
	quitCh                  chan struct{}
	quitOnce                sync.Once

	wg  sync.WaitGroup
	log *logger.Logger
	met *metrics.Metrics
}

type registeredWorker struct {
	Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Supervisor. met may be nil in tests that don't
// care about join-latency observability.
func New(met *metrics.Metrics) *Supervisor {
	s := &Supervisor{
		quitCh: make(chan struct{}),
		log:    logger.Named("supervisor"),
		met:    met,
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err == nil {
		s.quitReadFd, s.quitWriteFd = fds[0], fds[1]
	} else {
		s.quitReadFd, s.quitWriteFd = -1, -1
	}
	return s
}

// Spawn registers and starts a named worker, recording its join as
// the next entry of the single combined shutdown sequence — in
// between whichever AddTeardownStep calls precede and follow it. This
// lets a caller interleave worker joins and teardown steps freely to
// match an arbitrary required join order instead of always joining
// every worker before any step runs.
func (s *Supervisor) Spawn(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	rw := &registeredWorker{
		Worker: Worker{Name: name, Run: run},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.steps = append(s.steps, joinStep{name: name, worker: rw})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rw.done)
		if err := run(ctx); err != nil {
			s.log.Error("worker exited with error", "worker", name, "error", err)
		}
	}()
}

// AddTeardownStep appends a step to the single combined shutdown
// sequence, at the position this call happens relative to other
// AddTeardownStep and Spawn calls (see Spawn).
func (s *Supervisor) AddTeardownStep(name string, fn func() error) {
	s.mu.Lock()
	s.steps = append(s.steps, joinStep{name: name, fn: fn})
	s.mu.Unlock()
}

// Broadcast writes to the quit pipe and closes the in-memory channel,
// signaling every worker's select loop in one call.
func (s *Supervisor) Broadcast() {
	s.quitOnce.Do(func() {
		close(s.quitCh)
		if s.quitWriteFd >= 0 {
			_, _ = unix.Write(s.quitWriteFd, []byte{0})
		}
	})
}

// Quit returns the channel every worker should select on alongside
// its own I/O to observe the shutdown broadcast.
func (s *Supervisor) Quit() <-chan struct{} {
	return s.quitCh
}

// Shutdown broadcasts quit, then walks the single combined sequence
// of worker joins and teardown steps in exact registration order —
// a worker registered between two AddTeardownStep calls joins between
// them, not before every step runs. Each step's latency is recorded to
// pkg/metrics.WorkerJoinSeconds. The first error encountered does not
// abort the sequence — skipping a step risks use-after-free of shared
// handles more than a single step's failure does — but every error is
// collected and returned via errkind's multi-cause Wrap at the end.
func (s *Supervisor) Shutdown() *errkind.Error {
	s.Broadcast()

	var failed *multierror.Error

	for _, step := range s.orderedSteps() {
		var fn func() error
		if step.worker != nil {
			w := step.worker
			fn = func() error {
				w.cancel()
				<-w.done
				return nil
			}
		} else {
			fn = step.fn
		}
		if err := s.timed(step.name, fn); err != nil {
			failed = multierror.Append(failed, err)
		}
	}

	s.wg.Wait()

	if s.quitReadFd >= 0 {
		_ = unix.Close(s.quitReadFd)
	}
	if s.quitWriteFd >= 0 {
		_ = unix.Close(s.quitWriteFd)
	}

	if err := failed.ErrorOrNil(); err != nil {
		return errkind.Wrap("supervisor.Shutdown", errkind.IOFailure, err)
	}
	return nil
}

func (s *Supervisor) orderedSteps() []joinStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]joinStep, len(s.steps))
	copy(out, s.steps)
	return out
}

func (s *Supervisor) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.met != nil {
		s.met.WorkerJoinSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.log.Error("teardown step failed", "step", name, "error", err)
	} else {
		s.log.Debug("teardown step complete", "step", name)
	}
	return err
}
