// Package notification implements the notification subsystem: a
// handle owning the read ends of the three channel-monitor pipes
// (kernel, 32-bit user-space, 64-bit user-space) and the table of
// registered triggers. It is the only component allowed to emit
// notifications externally.
package notification

import (
	"sync"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/erroraccounting"
	"github.com/opentrace/sessiond/pkg/eventrule"
	"github.com/opentrace/sessiond/pkg/logger"
)

// Action is the trigger's externally-visible side effect. The engine
// only carries the tag and an opaque payload; the payload's semantics
// belong to whichever consumer (notification client, rotation
// scheduler) the action targets.
type Action struct {
	Kind    string
	Payload map[string]string
}

// TriggerKey identifies a trigger uniquely: name is unique per owner
// uid.
type TriggerKey struct {
	OwnerUID int
	Name     string
}

// Trigger binds an event-rule condition to an action and owns one
// error-counter index for the lifetime of its registration.
type Trigger struct {
	Key       TriggerKey
	Condition eventrule.Rule
	Action    Action

	bucketIdx int
}

// monitorEvent is what a channel-monitor pipe carries: a fired
// notification for whichever trigger matched.
type monitorEvent struct {
	triggerName string
	ownerUID    int
}

// Handle is the process-wide notification subsystem instance.
// Exactly one should exist per daemon-context.
type Handle struct {
	mu       sync.Mutex
	triggers map[TriggerKey]*Trigger
	buckets  *erroraccounting.Pool

	kernelPipe  chan monitorEvent
	ust32Pipe   chan monitorEvent
	ust64Pipe   chan monitorEvent

	quit chan struct{}
	wg   sync.WaitGroup
	log  *logger.Logger
}

// pipeBacklog bounds each channel-monitor pipe; a full pipe means the
// kernel/user-space side is producing notifications faster than this
// subsystem can drain them, which is logged rather than blocking the
// tracer-side producer indefinitely.
const pipeBacklog = 256

// New constructs a Handle backed by buckets, the shared error-counter
// pool.
func New(buckets *erroraccounting.Pool) *Handle {
	h := &Handle{
		triggers:   make(map[TriggerKey]*Trigger),
		buckets:    buckets,
		kernelPipe: make(chan monitorEvent, pipeBacklog),
		ust32Pipe:  make(chan monitorEvent, pipeBacklog),
		ust64Pipe:  make(chan monitorEvent, pipeBacklog),
		quit:       make(chan struct{}),
		log:        logger.Named("notification"),
	}
	return h
}

// RegisterTrigger validates uniqueness, allocates an error-counter
// index, and inserts the trigger.
func (h *Handle) RegisterTrigger(key TriggerKey, cond eventrule.Rule, action Action) (*Trigger, *errkind.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.triggers[key]; exists {
		return nil, errkind.New("notification.RegisterTrigger", errkind.EventNotifierExists)
	}

	idx, err := h.buckets.Allocate()
	if err != nil {
		return nil, err
	}

	t := &Trigger{Key: key, Condition: cond, Action: action, bucketIdx: idx}
	h.triggers[key] = t
	h.log.Info("trigger registered", "owner_uid", key.OwnerUID, "name", key.Name, "bucket", idx)
	return t, nil
}

// UnregisterTrigger removes the trigger and frees its error-counter
// index.
func (h *Handle) UnregisterTrigger(key TriggerKey) *errkind.Error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.triggers[key]
	if !ok {
		return errkind.New("notification.UnregisterTrigger", errkind.EventNotifierNotFound)
	}
	delete(h.triggers, key)
	if err := h.buckets.Free(t.bucketIdx); err != nil {
		h.log.Warn("bucket free failed on trigger unregister", "name", key.Name, "error", err)
	}
	return nil
}

// UnregisterAllForRule removes every trigger whose condition is
// structurally equal to rule, used when a session destroy tears down
// the event rule a trigger was bound to.
func (h *Handle) UnregisterAllForRule(rule eventrule.Rule) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for key, t := range h.triggers {
		if eventrule.Equal(t.Condition, rule) {
			delete(h.triggers, key)
			if err := h.buckets.Free(t.bucketIdx); err != nil {
				h.log.Warn("bucket free failed on rule teardown", "name", key.Name, "error", err)
			}
			removed++
		}
	}
	return removed
}

// ListTriggers returns every trigger owned by uid.
func (h *Handle) ListTriggers(uid int) []*Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Trigger, 0, len(h.triggers))
	for key, t := range h.triggers {
		if key.OwnerUID == uid {
			out = append(out, t)
		}
	}
	return out
}

// AllTriggers returns every registered trigger regardless of owner,
// used by shutdown teardown to unregister whatever remains.
func (h *Handle) AllTriggers() []*Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Trigger, 0, len(h.triggers))
	for _, t := range h.triggers {
		out = append(out, t)
	}
	return out
}

// Lookup returns the trigger for key, if registered.
func (h *Handle) Lookup(key TriggerKey) (*Trigger, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.triggers[key]
	return t, ok
}

// monitorSource selects which of the three channel-monitor pipes a
// newly-exposed tracer fd feeds.
type monitorSource int

const (
	SourceKernel monitorSource = iota
	SourceUST32
	SourceUST64
)

// AddTracerEventSource records a freshly-exposed kernel or user-space
// event-notifier fd by logging it. The fd is not read or polled;
// events reach the monitor pipes only through Deliver.
func (h *Handle) AddTracerEventSource(src monitorSource, fd int) {
	h.log.Info("tracer event source added", "source", src, "fd", fd)
}

// Deliver posts a fired notification for triggerName/ownerUID onto the
// pipe matching src without blocking: if the pipe is at capacity the
// notification is dropped and a warning is logged. The trigger's
// discard counter is bumped later, when Run drains the event.
func (h *Handle) Deliver(src monitorSource, ownerUID int, triggerName string) {
	ev := monitorEvent{triggerName: triggerName, ownerUID: ownerUID}
	var pipe chan monitorEvent
	switch src {
	case SourceKernel:
		pipe = h.kernelPipe
	case SourceUST32:
		pipe = h.ust32Pipe
	default:
		pipe = h.ust64Pipe
	}

	select {
	case pipe <- ev:
	default:
		h.log.Warn("channel-monitor pipe full, dropping notification", "source", src, "trigger", triggerName)
	}
}

// Run drains all three channel-monitor pipes until Stop is called,
// bumping each delivered trigger's error-counter index. This is the
// notification thread joined during shutdown teardown.
func (h *Handle) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.quit:
				return
			case ev := <-h.kernelPipe:
				h.account(ev)
			case ev := <-h.ust32Pipe:
				h.account(ev)
			case ev := <-h.ust64Pipe:
				h.account(ev)
			}
		}
	}()
}

func (h *Handle) account(ev monitorEvent) {
	h.mu.Lock()
	t, ok := h.triggers[TriggerKey{OwnerUID: ev.ownerUID, Name: ev.triggerName}]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := h.buckets.Bump(t.bucketIdx, 1); err != nil {
		h.log.Warn("bucket bump failed", "trigger", ev.triggerName, "error", err)
	}
}

// Stop signals the notification thread to exit and waits for it to
// drain.
func (h *Handle) Stop() {
	close(h.quit)
	h.wg.Wait()
}
