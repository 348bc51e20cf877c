// Package daemonctx bundles the daemon's process-wide collaborators
// into a single value threaded through every worker at construction,
// instead of reaching for package-level singletons. Every worker in pkg/supervisor, pkg/appreg, pkg/command,
// pkg/notification, and pkg/rotation is handed the slice of this
// struct it actually needs, not the whole thing, keeping the
// dependency explicit at each call site.
package daemonctx

import (
	"github.com/opentrace/sessiond/internal/config"
	"github.com/opentrace/sessiond/pkg/appreg"
	"github.com/opentrace/sessiond/pkg/command"
	"github.com/opentrace/sessiond/pkg/erroraccounting"
	"github.com/opentrace/sessiond/pkg/metrics"
	"github.com/opentrace/sessiond/pkg/notification"
	"github.com/opentrace/sessiond/pkg/registry"
	"github.com/opentrace/sessiond/pkg/rotation"
)

// Context is the daemon-wide collaborator bundle. Fields are
// constructed once at startup by New and never replaced afterward;
// concurrent access safety is each field's own responsibility (they
// are themselves mutex-guarded where it matters).
type Context struct {
	Config *config.Config

	Sessions      *registry.SessionRegistry
	BuffersByUID  *registry.BufferRegistry
	BuffersByPID  *registry.BufferRegistry
	ErrorBuckets  *erroraccounting.Pool
	Notifications *notification.Handle
	Rotations     *rotation.Engine
	AppRegistry   *appreg.Pipeline
	Commands      *command.Engine
	Metrics       *metrics.Metrics
}

// New wires every collaborator from cfg and met, in the dependency
// order each constructor needs: the registries and the error-bucket
// pool, then notification (which needs the error-bucket pool), then
// rotation, then the command engine (which needs all of the above),
// then the application-registration pipeline
// (independent of the command engine, shares only the buffer
// registries). met is constructed by the caller (main wires one
// Prometheus registry for the whole process; tests wire an isolated
// one) rather than by this function, so repeated calls within one
// process never collide on duplicate collector registration.
func New(cfg *config.Config, met *metrics.Metrics, rotationConsumer rotation.Consumer) (*Context, error) {
	sessions := registry.NewSessionRegistry()
	buffersByUID := registry.NewUIDBufferRegistry()
	buffersByPID := registry.NewPIDBufferRegistry()

	buckets, err := erroraccounting.New(cfg.EventNotifierErrorNumberOfBucket)
	if err != nil {
		return nil, err
	}

	notif := notification.New(buckets)
	rot := rotation.New(rotationConsumer)
	cmds := command.New(sessions, notif, rot, met)
	reg := appreg.New(defaultAcceptsPerSecond, defaultAcceptBurst, met)

	return &Context{
		Config:        cfg,
		Sessions:      sessions,
		BuffersByUID:  buffersByUID,
		BuffersByPID:  buffersByPID,
		ErrorBuckets:  buckets,
		Notifications: notif,
		Rotations:     rot,
		AppRegistry:   reg,
		Commands:      cmds,
		Metrics:       met,
	}, nil
}

// defaultAcceptsPerSecond/defaultAcceptBurst throttle the
// application-registration listener stage (see pkg/appreg.New); no
// rate is mandated upstream, this is this daemon's default.
const (
	defaultAcceptsPerSecond = 500
	defaultAcceptBurst      = 100
)
