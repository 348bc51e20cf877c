package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/eventrule"
)

func TestSessionNameUniqueAmongDiscoverable(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Create("s1", Output{LocalPath: "/tmp/s1"}, ModeNormal, Credentials{})
	require.Nil(t, err)

	_, err = r.Create("s1", Output{LocalPath: "/tmp/s1"}, ModeNormal, Credentials{})
	require.NotNil(t, err)
	require.Equal(t, errkind.SessionExists, err.Kind)
}

func TestDestroyedSessionNotDiscoverableButNameFreed(t *testing.T) {
	r := NewSessionRegistry()
	s, err := r.Create("s1", Output{LocalPath: "/tmp/s1"}, ModeNormal, Credentials{})
	require.Nil(t, err)

	r.MarkDestroyed(s)
	_, ok := r.Lookup("s1")
	require.False(t, ok)

	// name is free again for a new session
	_, err = r.Create("s1", Output{LocalPath: "/tmp/s1"}, ModeNormal, Credentials{})
	require.Nil(t, err)
}

func TestWaitUntilEmptyUnblocksOnFinalize(t *testing.T) {
	r := NewSessionRegistry()
	s, err := r.Create("s1", Output{}, ModeNormal, Credentials{})
	require.Nil(t, err)

	done := make(chan struct{})
	go func() {
		r.WaitUntilEmpty()
		close(done)
	}()

	r.MarkDestroyed(s)
	s.Unref() // drop the creation-time refcount of 1
	require.True(t, r.Finalize(s))

	<-done
}

func TestInvalidSessionNameRejected(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Create("", Output{}, ModeNormal, Credentials{})
	require.NotNil(t, err)

	_, err = r.Create("bad name!", Output{}, ModeNormal, Credentials{})
	require.NotNil(t, err)
}

func TestChannelRuleAttachDetach(t *testing.T) {
	r := NewSessionRegistry()
	s, _ := r.Create("s1", Output{}, ModeNormal, Credentials{})
	dom := s.Domain(eventrule.DomainUST)
	ch, created := dom.GetOrCreateChannel("chan0")
	require.True(t, created)
	require.Empty(t, ch.Rules())

	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	require.True(t, ch.AttachRule(rule))
	require.False(t, ch.AttachRule(rule))
	require.Len(t, ch.Rules(), 1)
	require.True(t, ch.DetachRule(rule))
	require.Empty(t, ch.Rules())
}
