package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/metrics"
)

func TestSpawnedWorkersExitOnBroadcast(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	exited := make(chan struct{})

	s.Spawn("client-thread", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
		case <-s.Quit():
		}
		close(exited)
		return nil
	})

	<-started
	s.Broadcast()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe broadcast")
	}
}

func TestShutdownRunsStepsInRegistrationOrder(t *testing.T) {
	s := New(nil)
	var mu sync.Mutex
	var order []string

	record := func(name string) func() error {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.AddTeardownStep("wait-for-session-destruction", record("wait-for-session-destruction"))
	s.AddTeardownStep("unregister-triggers", record("unregister-triggers"))
	s.AddTeardownStep("rcu-barrier", record("rcu-barrier"))
	s.AddTeardownStep("session-registry-cleanup", record("session-registry-cleanup"))

	require.Nil(t, s.Shutdown())
	require.Equal(t, []string{
		"wait-for-session-destruction",
		"unregister-triggers",
		"rcu-barrier",
		"session-registry-cleanup",
	}, order)
}

func TestShutdownAggregatesStepErrors(t *testing.T) {
	s := New(nil)
	s.AddTeardownStep("kernel-module-unload", func() error { return errors.New("unload failed") })
	s.AddTeardownStep("hash-table-cleanup", func() error { return nil })

	err := s.Shutdown()
	require.NotNil(t, err)
}

func TestShutdownJoinsWorkersBeforeReturning(t *testing.T) {
	s := New(nil)
	var joined int32
	s.Spawn("app-registration", func(ctx context.Context) error {
		<-ctx.Done()
		joined = 1
		return nil
	})

	require.Nil(t, s.Shutdown())
	require.EqualValues(t, 1, joined)
}

func TestShutdownInterleavesWorkerJoinsAndSteps(t *testing.T) {
	s := New(nil)
	var mu sync.Mutex
	var order []string
	record := func(name string) func() error {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.Spawn("client-thread", func(ctx context.Context) error {
		<-ctx.Done()
		record("client-thread")()
		return nil
	})
	s.AddTeardownStep("wait-for-session-destruction", record("wait-for-session-destruction"))
	s.AddTeardownStep("unregister-remaining-triggers", record("unregister-remaining-triggers"))
	s.Spawn("app-registration-dispatch", func(ctx context.Context) error {
		<-ctx.Done()
		record("app-registration-dispatch")()
		return nil
	})
	s.Spawn("orphaned-thread-list", func(ctx context.Context) error {
		<-ctx.Done()
		record("orphaned-thread-list")()
		return nil
	})
	s.AddTeardownStep("rcu-barrier", record("rcu-barrier"))

	require.Nil(t, s.Shutdown())
	require.Equal(t, []string{
		"client-thread",
		"wait-for-session-destruction",
		"unregister-remaining-triggers",
		"app-registration-dispatch",
		"orphaned-thread-list",
		"rcu-barrier",
	}, order)
}

func TestShutdownRecordsWorkerJoinMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.NewWithRegistry(reg)
	s := New(met)
	s.Spawn("orphaned-thread-list", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	require.Nil(t, s.Shutdown())

	mfs, err := reg.Gather()
	require.Nil(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "sessiond_worker_join_seconds" {
			found = true
		}
	}
	require.True(t, found)
}
