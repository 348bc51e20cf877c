package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/erroraccounting"
	"github.com/opentrace/sessiond/pkg/eventrule"
)

func newTestHandle(t *testing.T, nbBuckets int) (*Handle, *erroraccounting.Pool) {
	t.Helper()
	pool, err := erroraccounting.New(nbBuckets)
	require.Nil(t, err)
	return New(pool), pool
}

func TestRegisterUnregisterFreesIndex(t *testing.T) {
	h, pool := newTestHandle(t, 2)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)

	key := TriggerKey{OwnerUID: 1000, Name: "t1"}
	_, err := h.RegisterTrigger(key, rule, Action{Kind: "notify"})
	require.Nil(t, err)
	require.Equal(t, 1, pool.InUse())

	require.Nil(t, h.UnregisterTrigger(key))
	require.Equal(t, 0, pool.InUse())
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	h, _ := newTestHandle(t, 2)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	key := TriggerKey{OwnerUID: 1000, Name: "t1"}

	_, err := h.RegisterTrigger(key, rule, Action{})
	require.Nil(t, err)

	_, err = h.RegisterTrigger(key, rule, Action{})
	require.NotNil(t, err)
	require.Equal(t, errkind.EventNotifierExists, err.Kind)
}

func TestExhaustionSurfacesFromSharedPool(t *testing.T) {
	h, _ := newTestHandle(t, 1)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)

	_, err := h.RegisterTrigger(TriggerKey{OwnerUID: 1, Name: "a"}, rule, Action{})
	require.Nil(t, err)

	_, err = h.RegisterTrigger(TriggerKey{OwnerUID: 1, Name: "b"}, rule, Action{})
	require.NotNil(t, err)
	require.Equal(t, errkind.EventNotifierNoIndexAvailable, err.Kind)
}

func TestUnregisterAllForRuleCascades(t *testing.T) {
	h, pool := newTestHandle(t, 4)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	other := eventrule.NewTracepoint(eventrule.DomainUST)
	eventrule.SetPattern(other, "other_*")

	_, err := h.RegisterTrigger(TriggerKey{OwnerUID: 1, Name: "a"}, rule, Action{})
	require.Nil(t, err)
	_, err = h.RegisterTrigger(TriggerKey{OwnerUID: 1, Name: "b"}, other, Action{})
	require.Nil(t, err)

	removed := h.UnregisterAllForRule(rule)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, pool.InUse())

	_, ok := h.Lookup(TriggerKey{OwnerUID: 1, Name: "a"})
	require.False(t, ok)
	_, ok = h.Lookup(TriggerKey{OwnerUID: 1, Name: "b"})
	require.True(t, ok)
}

func TestListTriggersScopedToOwner(t *testing.T) {
	h, _ := newTestHandle(t, 4)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)

	_, err := h.RegisterTrigger(TriggerKey{OwnerUID: 1, Name: "a"}, rule, Action{})
	require.Nil(t, err)
	_, err = h.RegisterTrigger(TriggerKey{OwnerUID: 2, Name: "b"}, rule, Action{})
	require.Nil(t, err)

	require.Len(t, h.ListTriggers(1), 1)
	require.Len(t, h.ListTriggers(2), 1)
	require.Len(t, h.ListTriggers(3), 0)
	require.Len(t, h.AllTriggers(), 2)
}

func TestDeliverBumpsBucketCount(t *testing.T) {
	h, pool := newTestHandle(t, 2)
	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	key := TriggerKey{OwnerUID: 1, Name: "a"}

	trig, err := h.RegisterTrigger(key, rule, Action{})
	require.Nil(t, err)

	h.Run()
	defer h.Stop()

	h.Deliver(SourceKernel, key.OwnerUID, key.Name)

	require.Eventually(t, func() bool {
		count, gerr := pool.GetCount(trig.bucketIdx)
		return gerr == nil && count == 1
	}, time.Second, 10*time.Millisecond)
}
