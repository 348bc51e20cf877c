package erroraccounting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/errkind"
)

func TestExhaustionAndReuse(t *testing.T) {
	p, err := New(2)
	require.Nil(t, err)

	a, aerr := p.Allocate()
	require.Nil(t, aerr)
	_, berr := p.Allocate()
	require.Nil(t, berr)

	_, cerr := p.Allocate()
	require.NotNil(t, cerr)
	require.Equal(t, errkind.EventNotifierNoIndexAvailable, cerr.Kind)

	require.Nil(t, p.Free(a))

	_, derr := p.Allocate()
	require.Nil(t, derr)

	require.Equal(t, 2, p.InUse())
}

func TestRejectsOutOfRangeBucketCount(t *testing.T) {
	_, err := New(0)
	require.NotNil(t, err)

	_, err = New(MaxBuckets + 1)
	require.NotNil(t, err)

	_, err = New(MaxBuckets)
	require.Nil(t, err)
}

func TestFreeUnknownIndexFails(t *testing.T) {
	p, err := New(1)
	require.Nil(t, err)
	require.NotNil(t, p.Free(42))
}

func TestGetCountAndBump(t *testing.T) {
	p, err := New(4)
	require.Nil(t, err)

	idx, aerr := p.Allocate()
	require.Nil(t, aerr)

	count, gerr := p.GetCount(idx)
	require.Nil(t, gerr)
	require.Equal(t, uint64(0), count)

	require.Nil(t, p.Bump(idx, 5))
	count, gerr = p.GetCount(idx)
	require.Nil(t, gerr)
	require.Equal(t, uint64(5), count)
}

func TestRegisterKernelTwiceReplaces(t *testing.T) {
	p, err := New(1)
	require.Nil(t, err)
	require.Nil(t, p.RegisterKernel(3))
	require.Nil(t, p.RegisterKernel(4))
}

func TestTeardownClearsState(t *testing.T) {
	p, err := New(2)
	require.Nil(t, err)
	_, aerr := p.Allocate()
	require.Nil(t, aerr)
	require.Equal(t, 1, p.InUse())

	p.Teardown()
	require.Equal(t, 0, p.InUse())

	_, allocErr := p.Allocate()
	require.NotNil(t, allocErr)
	require.Equal(t, errkind.EventNotifierErrorAccountingNotInit, allocErr.Kind)
}
