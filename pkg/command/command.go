// Package command implements the client command engine: one function
// per client command, each checking session-state preconditions
// before mutating the registry/notification/rotation state, with
// reverse-order rollback on partial failure.
package command

import (
	"context"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/eventrule"
	"github.com/opentrace/sessiond/pkg/logger"
	"github.com/opentrace/sessiond/pkg/metrics"
	"github.com/opentrace/sessiond/pkg/notification"
	"github.com/opentrace/sessiond/pkg/registry"
	"github.com/opentrace/sessiond/pkg/rotation"
	"github.com/opentrace/sessiond/pkg/sessionstore"
)

// Engine is the command engine: it holds no state of its own beyond
// references to the components a command needs, mirroring tracee's
// daemon-context design note.
type Engine struct {
	Sessions      *registry.SessionRegistry
	Notifications *notification.Handle
	Rotations     *rotation.Engine
	Metrics       *metrics.Metrics
	log           *logger.Logger
}

// New constructs a command Engine over the given components.
func New(sessions *registry.SessionRegistry, notif *notification.Handle, rot *rotation.Engine, m *metrics.Metrics) *Engine {
	return &Engine{Sessions: sessions, Notifications: notif, Rotations: rot, Metrics: m, log: logger.Named("command")}
}

// instrument wraps a command body with latency/error-count metrics,
// the same client-thread-facing shape every command function below
// shares.
func (e *Engine) instrument(name string, fn func() *errkind.Error) *errkind.Error {
	start := time.Now()
	err := fn()
	if e.Metrics != nil {
		e.Metrics.CommandsTotal.WithLabelValues(name).Inc()
		e.Metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			e.Metrics.CommandErrorsTotal.WithLabelValues(name, err.Kind.String()).Inc()
		}
	}
	return err
}

// CreateSession allocates and inserts a new session.
func (e *Engine) CreateSession(name string, out registry.Output, mode registry.CreationMode, creator registry.Credentials) (s *registry.Session, rerr *errkind.Error) {
	_ = e.instrument("create-session", func() *errkind.Error {
		var err *errkind.Error
		s, err = e.Sessions.Create(name, out, mode, creator)
		rerr = err
		return err
	})
	return s, rerr
}

// DestroySession unregisters all triggers attached to the session,
// stops its trace if active, detaches it from the registry, and frees
// it once references drop.
func (e *Engine) DestroySession(name string) *errkind.Error {
	return e.instrument("destroy-session", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(name)
		if !ok {
			return errkind.New("command.DestroySession", errkind.NoSession)
		}

		if s.GetState() == registry.StateActive {
			if err := stopTraceState(s); err != nil {
				return err
			}
		}

		e.Rotations.CancelSchedule(s.ID.String())

		removed := 0
		for _, d := range s.Domains() {
			for _, ch := range d.Channels() {
				for _, rule := range ch.Rules() {
					removed += e.Notifications.UnregisterAllForRule(rule)
				}
				ch.DetachAll()
			}
		}
		e.log.Info("session destroy cascaded trigger teardown", "session", name, "triggers_removed", removed)

		e.Sessions.MarkDestroyed(s)
		s.Unref()
		e.Sessions.Finalize(s)
		return nil
	})
}

// EnableChannel creates (if absent) and enables a channel in domain
// kind.
func (e *Engine) EnableChannel(sessionName string, kind eventrule.Domain, channelName string, attr registry.Attr) (*registry.Channel, *errkind.Error) {
	var ch *registry.Channel
	err := e.instrument("enable-channel", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.EnableChannel", errkind.NoSession)
		}
		d := s.Domain(kind)
		c, _ := d.GetOrCreateChannel(channelName)
		c.Attr = attr
		c.Enabled = true
		ch = c
		return nil
	})
	return ch, err
}

// DisableChannel flips a channel's enabled bit off without removing
// it.
func (e *Engine) DisableChannel(sessionName string, kind eventrule.Domain, channelName string) *errkind.Error {
	return e.instrument("disable-channel", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.DisableChannel", errkind.NoSession)
		}
		d, ok := s.LookupDomain(kind)
		if !ok {
			return errkind.New("command.DisableChannel", errkind.NoDomain)
		}
		ch, ok := d.Channel(channelName)
		if !ok {
			return errkind.New("command.DisableChannel", errkind.ChannelNotFound)
		}
		ch.Enabled = false
		return nil
	})
}

// AddContext appends a context field to a channel.
func (e *Engine) AddContext(sessionName string, kind eventrule.Domain, channelName string, field registry.ContextField) *errkind.Error {
	return e.instrument("add-context", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.AddContext", errkind.NoSession)
		}
		d, ok := s.LookupDomain(kind)
		if !ok {
			return errkind.New("command.AddContext", errkind.NoDomain)
		}
		ch, ok := d.Channel(channelName)
		if !ok {
			return errkind.New("command.AddContext", errkind.ChannelNotFound)
		}
		if !ch.AddContext(field) {
			return errkind.New("command.AddContext", errkind.AlreadyExists)
		}
		return nil
	})
}

// EnableEventRule validates rule, attaches it to the channel (if not
// already attached), generates filter bytecode under the session
// creator's credentials, and sets the channel-local enable bit.
func (e *Engine) EnableEventRule(sessionName string, kind eventrule.Domain, channelName string, rule eventrule.Rule, compiler eventrule.FilterCompiler) *errkind.Error {
	return e.instrument("enable-event-rule", func() *errkind.Error {
		if !rule.Validate() {
			return errkind.New("command.EnableEventRule", errkind.EventRuleInvalid)
		}

		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.EnableEventRule", errkind.NoSession)
		}
		d, ok := s.LookupDomain(kind)
		if !ok {
			return errkind.New("command.EnableEventRule", errkind.NoDomain)
		}
		ch, ok := d.Channel(channelName)
		if !ok {
			return errkind.New("command.EnableEventRule", errkind.ChannelNotFound)
		}

		attached := ch.AttachRule(rule)

		creds := eventrule.Credentials{UID: s.Creator.UID, GID: s.Creator.GID}
		if _, err := eventrule.GenerateFilterBytecode(context.Background(), rule, creds, compiler); err != nil {
			if attached {
				ch.DetachRule(rule)
			}
			if ee, ok := err.(*errkind.Error); ok {
				return ee
			}
			return errkind.Wrap("command.EnableEventRule", errkind.FilterCompileFailed, err)
		}

		ch.SetRuleEnabled(rule, true)
		return nil
	})
}

// DisableEventRule clears a rule's channel-local enable bit without
// detaching it.
func (e *Engine) DisableEventRule(sessionName string, kind eventrule.Domain, channelName string, rule eventrule.Rule) *errkind.Error {
	return e.instrument("disable-event-rule", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.DisableEventRule", errkind.NoSession)
		}
		d, ok := s.LookupDomain(kind)
		if !ok {
			return errkind.New("command.DisableEventRule", errkind.NoDomain)
		}
		ch, ok := d.Channel(channelName)
		if !ok {
			return errkind.New("command.DisableEventRule", errkind.ChannelNotFound)
		}
		if !ch.SetRuleEnabled(rule, false) {
			return errkind.New("command.DisableEventRule", errkind.EventRuleNotFound)
		}
		return nil
	})
}

// RegisterTrigger hands a trigger definition to the notification
// subsystem, which allocates its error-counter index.
func (e *Engine) RegisterTrigger(ownerUID int, name string, cond eventrule.Rule, action notification.Action) (*notification.Trigger, *errkind.Error) {
	var t *notification.Trigger
	err := e.instrument("register-trigger", func() *errkind.Error {
		var rerr *errkind.Error
		t, rerr = e.Notifications.RegisterTrigger(notification.TriggerKey{OwnerUID: ownerUID, Name: name}, cond, action)
		return rerr
	})
	return t, err
}

// UnregisterTrigger removes a trigger and frees its error-counter
// index.
func (e *Engine) UnregisterTrigger(ownerUID int, name string) *errkind.Error {
	return e.instrument("unregister-trigger", func() *errkind.Error {
		return e.Notifications.UnregisterTrigger(notification.TriggerKey{OwnerUID: ownerUID, Name: name})
	})
}

// ListTriggers is a read-only walk of the trigger table scoped to uid
//.
func (e *Engine) ListTriggers(ownerUID int) []*notification.Trigger {
	return e.Notifications.ListTriggers(ownerUID)
}

// ListSessions is a read-only walk of discoverable sessions.
func (e *Engine) ListSessions() []*registry.Session {
	return e.Sessions.List()
}

// ListChannels is a read-only walk of a session's channels in domain
// kind.
func (e *Engine) ListChannels(sessionName string, kind eventrule.Domain) ([]*registry.Channel, *errkind.Error) {
	s, ok := e.Sessions.Lookup(sessionName)
	if !ok {
		return nil, errkind.New("command.ListChannels", errkind.NoSession)
	}
	d, ok := s.LookupDomain(kind)
	if !ok {
		return nil, errkind.New("command.ListChannels", errkind.NoDomain)
	}
	return d.Channels(), nil
}

// ListEvents is a read-only walk of a channel's attached event rules,
// projected to their legacy surface-event form.
func (e *Engine) ListEvents(sessionName string, kind eventrule.Domain, channelName string) ([]eventrule.SurfaceEvent, *errkind.Error) {
	s, ok := e.Sessions.Lookup(sessionName)
	if !ok {
		return nil, errkind.New("command.ListEvents", errkind.NoSession)
	}
	d, ok := s.LookupDomain(kind)
	if !ok {
		return nil, errkind.New("command.ListEvents", errkind.NoDomain)
	}
	ch, ok := d.Channel(channelName)
	if !ok {
		return nil, errkind.New("command.ListEvents", errkind.ChannelNotFound)
	}
	out := make([]eventrule.SurfaceEvent, 0, len(ch.Rules()))
	for _, r := range ch.Rules() {
		out = append(out, eventrule.GenerateSurfaceEvent(r))
	}
	return out, nil
}

// RotateSession requests an on-demand rotation.
func (e *Engine) RotateSession(sessionName string) (<-chan error, *errkind.Error) {
	var done <-chan error
	err := e.instrument("rotate-session", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.RotateSession", errkind.NoSession)
		}
		var rerr *errkind.Error
		done, rerr = e.Rotations.RequestRotation(s)
		return rerr
	})
	return done, err
}

// SetRotationSchedule attaches a periodic or size-based schedule to a
// session. If the session-level schedule registers but wiring the
// cron timer fails, the registered schedule is rolled back so the two
// stay consistent; any failure of that rollback itself is aggregated
// with the original error via rollbackErrors rather than swallowed.
func (e *Engine) SetRotationSchedule(sessionName string, sched registry.RotationSchedule, cronSpec string) *errkind.Error {
	return e.instrument("set-rotation-schedule", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.SetRotationSchedule", errkind.NoSession)
		}
		if err := s.AddRotationSchedule(sched); err != nil {
			return err
		}
		if sched.Periodic != nil && cronSpec != "" {
			if err := e.Rotations.SchedulePeriodic(s, cronSpec); err != nil {
				var rollbackErr error
				if !s.RemoveRotationSchedule(sched.ID) {
					rollbackErr = errkind.New("command.SetRotationSchedule", errkind.RotationScheduleNotSet)
				}
				return errkind.Wrap("command.SetRotationSchedule", err.Kind, rollbackErrors(err, rollbackErr))
			}
		}
		return nil
	})
}

// StartTrace transitions a session from created/inactive to active
//.
func (e *Engine) StartTrace(sessionName string) *errkind.Error {
	return e.instrument("start-trace", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.StartTrace", errkind.NoSession)
		}
		switch s.GetState() {
		case registry.StateActive:
			return errkind.New("command.StartTrace", errkind.SessionBusy)
		case registry.StateDestroyed:
			return errkind.New("command.StartTrace", errkind.NoSession)
		}
		return startTraceState(s)
	})
}

// StopTrace transitions an active session to inactive; start requires *inactive*, so this is the only path
// back to a startable state.
func (e *Engine) StopTrace(sessionName string) *errkind.Error {
	return e.instrument("stop-trace", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.StopTrace", errkind.NoSession)
		}
		if s.GetState() != registry.StateActive {
			return errkind.New("command.StopTrace", errkind.SessionNotStarted)
		}
		return stopTraceState(s)
	})
}

// LoadSession delegates to the external config subsystem.
func (e *Engine) LoadSession(path string, creator registry.Credentials) (*registry.Session, *errkind.Error) {
	var s *registry.Session
	err := e.instrument("load-session", func() *errkind.Error {
		var rerr *errkind.Error
		s, rerr = sessionstore.LoadInto(e.Sessions, creator, path)
		return rerr
	})
	return s, err
}

// SaveSession delegates to the external config subsystem.
func (e *Engine) SaveSession(path string, sessionName string) *errkind.Error {
	return e.instrument("save-session", func() *errkind.Error {
		s, ok := e.Sessions.Lookup(sessionName)
		if !ok {
			return errkind.New("command.SaveSession", errkind.NoSession)
		}
		return sessionstore.Save(path, s)
	})
}

// startTraceState drives the per-domain tracer handshake for
// start-trace. The actual kernel/consumer handshake (kernel-module
// loading and ioctl plumbing, on-wire RPC to consumer daemons) is an
// external collaborator this engine leaves out of scope; this
// sequences the session's own state transition, which is this
// engine's half of the contract.
func startTraceState(s *registry.Session) *errkind.Error {
	s.Activate()
	return nil
}

// stopTraceState is startTraceState's inverse for stop-trace.
func stopTraceState(s *registry.Session) *errkind.Error {
	s.Deactivate()
	return nil
}

// rollbackErrors aggregates a reverse-order rollback's own failures
// via hashicorp/go-multierror, attempting every rollback step before
// returning instead of stopping at the first failure.
func rollbackErrors(errs ...error) error {
	var result *multierror.Error
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}
