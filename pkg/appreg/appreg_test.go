package appreg

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/registry"
)

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	q := NewQueue(2)
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()

	require.True(t, q.Enqueue(Registration{UID: 1, Conn: c1}))
	require.True(t, q.Enqueue(Registration{UID: 2, Conn: c2}))
	require.False(t, q.Enqueue(Registration{UID: 3, Conn: c1})) // queue full

	ctx := context.Background()
	r1, ok := q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, 1, r1.UID)

	r2, ok := q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, 2, r2.UID)
}

func TestDequeueUnblocksOnContextCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	require.False(t, ok)
}

func TestDispatchMaterializesAfterManageAppsHandoff(t *testing.T) {
	p := New(1000, 1000, nil)
	buf := registry.NewPIDBufferRegistry()

	client, server := net.Pipe()
	defer client.Close()

	p.Submit(Registration{UID: 1000, PID: 42, Conn: server})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Dispatch(ctx, func(r Registration) KeySpace { return KeySpace{Registry: buf, Key: r.PID} })
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := buf.Lookup(42)
		return ok
	}, time.Second, time.Millisecond)

	require.Equal(t, 1, p.ManageApps().Len())
	cancel()
	<-done
}

func TestManageAppsUnregistersOnConnectionClose(t *testing.T) {
	p := New(1000, 1000, nil)
	buf := registry.NewPIDBufferRegistry()

	client, server := net.Pipe()
	p.Submit(Registration{UID: 1000, PID: 7, Conn: server})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Dispatch(ctx, func(r Registration) KeySpace { return KeySpace{Registry: buf, Key: r.PID} })

	require.Eventually(t, func() bool {
		_, ok := buf.Lookup(7)
		return ok
	}, time.Second, time.Millisecond)

	require.Nil(t, client.Close())

	require.Eventually(t, func() bool {
		_, ok := buf.Lookup(7)
		return !ok
	}, time.Second, time.Millisecond)
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	p := New(1000, 1000, nil)
	p.queue = NewQueue(1)

	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	require.True(t, p.Submit(Registration{UID: 1, Conn: c1}))
	require.False(t, p.Submit(Registration{UID: 2, Conn: c2}))
}
