// Package rotation implements the rotation & timer component: a
// timer thread that translates wall-clock or size-based
// schedules into rotation jobs posted onto a shared queue, and a
// rotation thread that drains the queue, requests a rotation point,
// and acknowledges completion. At most one rotation may be in flight
// per session.
package rotation

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/logger"
	"github.com/opentrace/sessiond/pkg/registry"
)

// Job is one rotation request posted to the shared queue, whether
// triggered by the timer thread or an on-demand rotate-session
// command. It carries the session handle directly rather than an id
// to resolve later, so the rotation thread never has to re-look-up a
// session that could have been destroyed and recreated under the same
// name in between.
type Job struct {
	Session     *registry.Session
	SessionName string
	OnDemand    bool
	done        chan error
}

// jobQueueSize bounds the shared queue between the timer thread and
// the rotation thread; a backlog this deep means rotations are being
// requested faster than the consumer can service rotation points.
const jobQueueSize = 64

// Consumer performs the actual rotation point handover: rename the
// trace-chunk directories and report completion. It is the on-wire
// RPC to consumer daemons, an external collaborator this package
// leaves out of scope; this package only sequences calls to it.
type Consumer interface {
	Rotate(ctx context.Context, sessionName string) error
}

// Engine owns the timer thread (cron-scheduled periodic rotations)
// and the rotation thread (drains Job from the shared queue).
type Engine struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[string]cron.EntryID // sessionID -> cron entry, for cancel on session destroy
	jobs     chan Job
	consumer Consumer
	quit     chan struct{}
	wg       sync.WaitGroup
	log      *logger.Logger
}

// New constructs an Engine bound to consumer, the external rotation
// point provider.
func New(consumer Consumer) *Engine {
	return &Engine{
		cron:     cron.New(cron.WithSeconds()),
		entries:  make(map[string]cron.EntryID),
		jobs:     make(chan Job, jobQueueSize),
		consumer: consumer,
		quit:     make(chan struct{}),
		log:      logger.Named("rotation"),
	}
}

// SchedulePeriodic registers a cron-spec-driven rotation timer for
// session, replacing any existing periodic entry for it. cronSpec uses
// robfig/cron's 6-field (with-seconds) syntax. Each firing goes
// through the same TryBeginRotation/EndRotation in-flight gate as
// RequestRotation, so a periodic firing racing an on-demand rotation
// (or another periodic firing still in flight) is skipped rather than
// double-enqueued.
func (e *Engine) SchedulePeriodic(session *registry.Session, cronSpec string) *errkind.Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := session.ID.String()
	if existing, ok := e.entries[id]; ok {
		e.cron.Remove(existing)
		delete(e.entries, id)
	}

	entryID, err := e.cron.AddFunc(cronSpec, func() {
		if !session.TryBeginRotation() {
			e.log.Debug("periodic rotation skipped, one already in flight", "session", session.Name)
			return
		}
		e.enqueue(Job{Session: session, SessionName: session.Name, OnDemand: false})
	})
	if err != nil {
		return errkind.Wrap("rotation.SchedulePeriodic", errkind.RotationInvalidSchedule, err)
	}
	e.entries[id] = entryID
	return nil
}

// CancelSchedule removes session's periodic rotation timer, if any,
// used when a session is destroyed.
func (e *Engine) CancelSchedule(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.entries[sessionID]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, sessionID)
	}
}

// RequestRotation enqueues an on-demand rotation for session, failing
// with RotationPending if one is already in flight. The returned channel receives the rotation's
// eventual result.
func (e *Engine) RequestRotation(session *registry.Session) (<-chan error, *errkind.Error) {
	if !session.TryBeginRotation() {
		return nil, errkind.New("rotation.RequestRotation", errkind.RotationPending)
	}

	done := make(chan error, 1)
	job := Job{Session: session, SessionName: session.Name, OnDemand: true, done: done}

	select {
	case e.jobs <- job:
		return done, nil
	default:
		session.EndRotation()
		return nil, errkind.New("rotation.RequestRotation", errkind.RotationNotAvailable)
	}
}

func (e *Engine) enqueue(job Job) {
	select {
	case e.jobs <- job:
	default:
		job.Session.EndRotation()
		e.log.Warn("rotation job queue full, dropping scheduled rotation", "session", job.SessionName)
	}
}

// Run starts the cron scheduler and the rotation-thread consumer loop,
// draining jobs until Stop is called.
func (e *Engine) Run() {
	e.cron.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.quit:
				return
			case job := <-e.jobs:
				e.process(job)
			}
		}
	}()
}

func (e *Engine) process(job Job) {
	err := e.consumer.Rotate(context.Background(), job.SessionName)
	if err != nil {
		e.log.Error("rotation failed", "session", job.SessionName, "error", err)
	} else {
		e.log.Info("rotation complete", "session", job.SessionName)
	}

	job.Session.EndRotation()

	if job.OnDemand && job.done != nil {
		job.done <- err
		close(job.done)
	}
}

// Stop stops the cron scheduler and the rotation-thread consumer loop,
// and waits for it to drain.
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	close(e.quit)
	e.wg.Wait()
}
