package rotation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/registry"
)

type fakeConsumer struct {
	calls int32
}

func (f *fakeConsumer) Rotate(ctx context.Context, sessionName string) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

func newTestSession(t *testing.T) *registry.Session {
	t.Helper()
	r := registry.NewSessionRegistry()
	s, err := r.Create("s1", registry.Output{LocalPath: "/tmp/s1"}, registry.ModeNormal, registry.Credentials{})
	require.Nil(t, err)
	return s
}

func TestRequestRotationRejectsWhilePending(t *testing.T) {
	consumer := &fakeConsumer{}
	e := New(consumer)
	s := newTestSession(t)

	_, err := e.RequestRotation(s)
	require.Nil(t, err)

	_, err = e.RequestRotation(s)
	require.NotNil(t, err)
	require.Equal(t, errkind.RotationPending, err.Kind)
}

func TestOnDemandRotationCompletesAndClearsPending(t *testing.T) {
	consumer := &fakeConsumer{}
	e := New(consumer)
	s := newTestSession(t)
	e.Run()
	defer e.Stop()

	done, err := e.RequestRotation(s)
	require.Nil(t, err)

	select {
	case rerr := <-done:
		require.NoError(t, rerr)
	case <-time.After(time.Second):
		t.Fatal("rotation did not complete")
	}

	require.Eventually(t, func() bool {
		return s.TryBeginRotation()
	}, time.Second, 10*time.Millisecond)
	s.EndRotation()

	require.Equal(t, int32(1), atomic.LoadInt32(&consumer.calls))
}

func TestSchedulePeriodicReplacesExistingEntry(t *testing.T) {
	consumer := &fakeConsumer{}
	e := New(consumer)
	s := newTestSession(t)

	require.Nil(t, e.SchedulePeriodic(s, "*/1 * * * * *"))
	require.Nil(t, e.SchedulePeriodic(s, "*/2 * * * * *"))
	require.Len(t, e.entries, 1)
}

func TestPeriodicRotationSkippedWhileOneInFlight(t *testing.T) {
	consumer := &fakeConsumer{}
	e := New(consumer)
	s := newTestSession(t)
	e.Run()
	defer e.Stop()

	require.True(t, s.TryBeginRotation())
	require.Nil(t, e.SchedulePeriodic(s, "*/1 * * * * *"))

	// The schedule fires at least once a second; long enough for several
	// firings to have hit the in-flight gate while the rotation started
	// above is still marked pending.
	time.Sleep(2500 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&consumer.calls))

	s.EndRotation()
}

func TestCancelScheduleRemovesEntry(t *testing.T) {
	consumer := &fakeConsumer{}
	e := New(consumer)
	s := newTestSession(t)

	require.Nil(t, e.SchedulePeriodic(s, "*/1 * * * * *"))
	e.CancelSchedule(s.ID.String())
	require.Len(t, e.entries, 0)
}
