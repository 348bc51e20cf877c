package daemonctx

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/internal/config"
	"github.com/opentrace/sessiond/pkg/metrics"
)

type nopConsumer struct{}

func (nopConsumer) Rotate(ctx context.Context, sessionName string) error { return nil }

func TestNewWiresEveryCollaborator(t *testing.T) {
	cfg := &config.Config{EventNotifierErrorNumberOfBucket: 64, AgentTCPPort: 5345}
	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	dc, err := New(cfg, met, nopConsumer{})
	require.Nil(t, err)

	require.NotNil(t, dc.Sessions)
	require.NotNil(t, dc.BuffersByUID)
	require.NotNil(t, dc.BuffersByPID)
	require.NotNil(t, dc.ErrorBuckets)
	require.NotNil(t, dc.Notifications)
	require.NotNil(t, dc.Rotations)
	require.NotNil(t, dc.AppRegistry)
	require.NotNil(t, dc.Commands)
	require.NotNil(t, dc.Metrics)
	require.Equal(t, 64, dc.ErrorBuckets.Capacity())
}

func TestNewRejectsInvalidBucketCount(t *testing.T) {
	cfg := &config.Config{EventNotifierErrorNumberOfBucket: 0}
	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	_, err := New(cfg, met, nopConsumer{})
	require.NotNil(t, err)
}
