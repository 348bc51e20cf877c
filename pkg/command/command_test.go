package command

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/erroraccounting"
	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/eventrule"
	"github.com/opentrace/sessiond/pkg/notification"
	"github.com/opentrace/sessiond/pkg/registry"
	"github.com/opentrace/sessiond/pkg/rotation"
)

type nopConsumer struct{}

func (nopConsumer) Rotate(ctx context.Context, sessionName string) error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	pool, err := erroraccounting.New(64)
	require.Nil(t, err)
	return New(registry.NewSessionRegistry(), notification.New(pool), rotation.New(nopConsumer{}), nil)
}

func TestCreateAndDestroySessionCascadesTeardown(t *testing.T) {
	e := newTestEngine(t)

	s, err := e.CreateSession("s1", registry.Output{LocalPath: "/tmp/s1"}, registry.ModeNormal, registry.Credentials{UID: 1000})
	require.Nil(t, err)

	ch, err := e.EnableChannel(s.Name, eventrule.DomainUST, "chan0", registry.Attr{})
	require.Nil(t, err)
	require.True(t, ch.Enabled)

	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	eventrule.SetPattern(rule, "my_event_*")
	require.Nil(t, e.EnableEventRule(s.Name, eventrule.DomainUST, "chan0", rule, eventrule.NullCompiler{}))

	trig, terr := e.RegisterTrigger(1000, "t1", rule, notification.Action{Kind: "stop-trace"})
	require.Nil(t, terr)
	require.NotNil(t, trig)
	require.Len(t, e.ListTriggers(1000), 1)

	require.Nil(t, e.StartTrace(s.Name))
	require.Equal(t, registry.StateActive, s.GetState())

	require.Nil(t, e.DestroySession(s.Name))

	_, ok := e.Sessions.Lookup(s.Name)
	require.False(t, ok)
	require.Empty(t, e.ListTriggers(1000))
}

func TestDestroySessionUnknownFails(t *testing.T) {
	e := newTestEngine(t)
	err := e.DestroySession("missing")
	require.NotNil(t, err)
	require.Equal(t, errkind.NoSession, err.Kind)
}

func TestStartTraceRejectsAlreadyActive(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.CreateSession("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})
	require.Nil(t, e.StartTrace(s.Name))
	err := e.StartTrace(s.Name)
	require.NotNil(t, err)
	require.Equal(t, errkind.SessionBusy, err.Kind)
}

func TestStopTraceRejectsNotStarted(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.CreateSession("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})
	err := e.StopTrace(s.Name)
	require.NotNil(t, err)
	require.Equal(t, errkind.SessionNotStarted, err.Kind)
}

func TestEnableEventRuleRollsBackOnCompileFailure(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.CreateSession("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})
	_, err := e.EnableChannel(s.Name, eventrule.DomainUST, "chan0", registry.Attr{})
	require.Nil(t, err)

	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	eventrule.SetPattern(rule, "my_event_*")
	eventrule.SetFilter(rule, "size >= 1024")

	failing := failingCompiler{}
	rerr := e.EnableEventRule(s.Name, eventrule.DomainUST, "chan0", rule, failing)
	require.NotNil(t, rerr)

	dom, _ := s.LookupDomain(eventrule.DomainUST)
	ch, _ := dom.Channel("chan0")
	require.Empty(t, ch.Rules())
}

type failingCompiler struct{}

func (failingCompiler) Compile(ctx context.Context, creds eventrule.Credentials, filterExpr string) ([]byte, error) {
	return nil, errkind.New("test.failingCompiler", errkind.FilterCompileFailed)
}

func TestListEventsProjectsSurfaceEvents(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.CreateSession("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})
	_, err := e.EnableChannel(s.Name, eventrule.DomainUST, "chan0", registry.Attr{})
	require.Nil(t, err)

	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	eventrule.SetPattern(rule, "my_event_*")
	require.Nil(t, e.EnableEventRule(s.Name, eventrule.DomainUST, "chan0", rule, eventrule.NullCompiler{}))

	events, eerr := e.ListEvents(s.Name, eventrule.DomainUST, "chan0")
	require.Nil(t, eerr)
	require.Len(t, events, 1)
}

func TestSetRotationScheduleRollsBackOnInvalidCronSpec(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.CreateSession("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})

	dur := time.Hour
	sched := registry.RotationSchedule{ID: uuid.New(), Periodic: &dur}

	err := e.SetRotationSchedule(s.Name, sched, "not-a-valid-cron-spec")
	require.NotNil(t, err)
	require.Equal(t, errkind.RotationInvalidSchedule, err.Kind)
	require.Empty(t, s.RotationSchedules())
}

func TestRotateSessionRequiresSession(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RotateSession("missing")
	require.NotNil(t, err)
	require.Equal(t, errkind.NoSession, err.Kind)
}
