// Command sessiond is the tracing-session daemon's entrypoint: it
// loads configuration, wires every collaborator via
// internal/daemonctx, starts the long-lived workers, and waits for
// SIGINT/SIGTERM to run the strict shutdown join order.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentrace/sessiond/internal/config"
	"github.com/opentrace/sessiond/internal/daemonctx"
	"github.com/opentrace/sessiond/pkg/appreg"
	"github.com/opentrace/sessiond/pkg/logger"
	"github.com/opentrace/sessiond/pkg/metrics"
	"github.com/opentrace/sessiond/pkg/supervisor"
)

func main() {
	cfg, err := config.Load(os.Getenv("SESSIOND_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if verr := cfg.Validate(os.Geteuid() != 0); verr != nil {
		logger.Fatal("invalid configuration", "error", verr)
	}
	if initErr := logger.Init("", cfg.Verbose, cfg.Background); initErr != nil {
		logger.Fatal("failed to initialize logger", "error", initErr)
	}
	defer logger.Sync()

	met := metrics.New()
	dc, err := daemonctx.New(cfg, met, logOnlyConsumer{})
	if err != nil {
		logger.Fatal("failed to wire daemon collaborators", "error", err)
	}

	dc.Notifications.Run()
	dc.Rotations.Run()

	sup := supervisor.New(met)
	registerJoinOrder(sup, dc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, starting join-ordered teardown")
	if shutdownErr := sup.Shutdown(); shutdownErr != nil {
		logger.Error("shutdown completed with errors", "error", shutdownErr)
		os.Exit(1)
	}
	logger.Info("sessiond shut down cleanly")
}

// registerJoinOrder registers every worker and teardown step on sup in
// the exact interleaved sequence the twelve-step join order requires:
// client thread, then two registry-teardown steps, then the
// app-registration and orphaned-thread-list workers, then the
// remaining seven teardown steps. Calls happen in this order (not
// "all workers, then all steps") because Shutdown joins/runs a single
// combined sequence in registration order. Steps with no concrete
// collaborator in this port (kernel-module unload, hash-table cleanup
// — both require kernel-tracer integration this core leaves out of
// scope) are no-ops, kept so the ordering itself is always the
// full twelve steps, not a subset.
func registerJoinOrder(sup *supervisor.Supervisor, dc *daemonctx.Context) {
	// 1. Client thread: the control-socket frame listener/decoder is
	// the external wire-format boundary this core leaves to its
	// callers to implement; this placeholder only carries the
	// join-order slot so Shutdown's ordering is exercised end to end
	// even before that listener exists.
	sup.Spawn("client-thread", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	// 2. Wait for destruction of all sessions.
	sup.AddTeardownStep("wait-for-session-destruction", func() error {
		dc.Sessions.WaitUntilEmpty()
		return nil
	})

	// 3. Unregister all remaining triggers.
	sup.AddTeardownStep("unregister-remaining-triggers", func() error {
		for _, t := range dc.Notifications.AllTriggers() {
			_ = dc.Notifications.UnregisterTrigger(t.Key)
		}
		return nil
	})

	// 4. App registration thread.
	sup.Spawn("app-registration", func(ctx context.Context) error {
		// Per-session buffering policy (by-uid vs by-pid) is resolved
		// from the target session's registry.Domain once the client
		// wire protocol identifies it; defaulting to by-pid here keeps
		// every registration individually addressable until that
		// lookup is wired in.
		dc.AppRegistry.Dispatch(ctx, func(r appreg.Registration) appreg.KeySpace {
			return appreg.KeySpace{Registry: dc.BuffersByPID, Key: r.PID}
		})
		return nil
	})

	// 5. Orphaned thread list: the catch-all group for worker
	// goroutines with no dedicated subsystem of their own (e.g. a
	// future background health check); this placeholder only carries
	// the join-order slot, matching the client-thread stand-in above.
	sup.Spawn("orphaned-thread-list", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	// 6. RCU quiescence barrier.
	sup.AddTeardownStep("rcu-quiescence-barrier", func() error {
		// The Go port's RWMutex-guarded registries have no epoch to
		// quiesce; this step exists so the ordering contract (a barrier
		// between the registry-owning workers joining and their data
		// structures being torn down) stays visible and testable.
		return nil
	})

	// 7. Session-registry data cleanup.
	sup.AddTeardownStep("session-registry-cleanup", func() error {
		for _, s := range dc.Sessions.List() {
			dc.Sessions.MarkDestroyed(s)
		}
		return nil
	})

	// 8. Notification thread join.
	sup.AddTeardownStep("notification-thread-join", func() error {
		dc.Notifications.Stop()
		return nil
	})

	// 9. Event-notifier error-accounting teardown.
	sup.AddTeardownStep("event-notifier-error-accounting-teardown", func() error {
		dc.ErrorBuckets.Teardown()
		return nil
	})

	// 10. Kernel-module unload (only if root and kernel not disabled).
	sup.AddTeardownStep("kernel-module-unload", func() error {
		if dc.Config.NoKernel || os.Geteuid() != 0 {
			return nil
		}
		logger.Debug("kernel-module unload skipped: no kernel integration in this port")
		return nil
	})

	// 11. Hash-table cleanup thread (must run last to handle deferred
	// deletes); this port has no deferred-delete hash table of its own,
	// the step is kept for ordering parity.
	sup.AddTeardownStep("hash-table-cleanup", func() error {
		return nil
	})

	// 12. Rotation thread handle destroy (and, transitively, the
	// rotation-timer queue it owns).
	sup.AddTeardownStep("rotation-and-pipe-handles", func() error {
		dc.Rotations.Stop()
		return nil
	})
}

// logOnlyConsumer is the rotation.Consumer production wiring point:
// the real consumer-daemon RPC is an external collaborator left out
// of scope, the same boundary eventrule.NullCompiler stands in for
// on the filter-compiler side.
type logOnlyConsumer struct{}

func (logOnlyConsumer) Rotate(ctx context.Context, sessionName string) error {
	logger.Info("rotation requested (no consumer wired)", "session", sessionName)
	return nil
}
