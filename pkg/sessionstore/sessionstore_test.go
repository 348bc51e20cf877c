package sessionstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentrace/sessiond/pkg/eventrule"
	"github.com/opentrace/sessiond/pkg/registry"
)

func buildTestSession(t *testing.T) *registry.Session {
	t.Helper()
	reg := registry.NewSessionRegistry()
	s, err := reg.Create("s1", registry.Output{LocalPath: "/tmp/s1"}, registry.ModeNormal, registry.Credentials{UID: 1000})
	require.Nil(t, err)

	dom := s.Domain(eventrule.DomainUST)
	ch, created := dom.GetOrCreateChannel("chan0")
	require.True(t, created)
	ch.AddContext(registry.ContextField{Name: "vpid"})

	rule := eventrule.NewTracepoint(eventrule.DomainUST)
	eventrule.SetPattern(rule, "my_event_*")
	eventrule.SetFilter(rule, "size >= 1024")
	eventrule.AddExclusion(rule, "my_event_test1")
	require.True(t, ch.AttachRule(rule))
	require.True(t, ch.SetRuleEnabled(rule, true))

	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := buildTestSession(t)
	path := filepath.Join(t.TempDir(), "s1.yaml")

	require.Nil(t, Save(path, s))

	snap, err := Load(path)
	require.Nil(t, err)
	require.Equal(t, "s1", snap.Name)
	require.Len(t, snap.Domains, 1)
	require.Len(t, snap.Domains[0].Channels, 1)
	require.Len(t, snap.Domains[0].Channels[0].Rules, 1)

	rdto := snap.Domains[0].Channels[0].Rules[0]
	require.Equal(t, "tracepoint", rdto.Type)
	require.Equal(t, "my_event_*", rdto.Pattern)
	require.True(t, rdto.EnabledOnCh)
	require.Equal(t, []string{"my_event_test1"}, rdto.Exclusions)
}

func TestMaterializeRebuildsChannelAndRule(t *testing.T) {
	s := buildTestSession(t)
	path := filepath.Join(t.TempDir(), "s1.yaml")
	require.Nil(t, Save(path, s))

	reg := registry.NewSessionRegistry()
	restored, err := LoadInto(reg, registry.Credentials{UID: 1000}, path)
	require.Nil(t, err)
	require.Equal(t, "s1", restored.Name)

	dom, ok := restored.LookupDomain(eventrule.DomainUST)
	require.True(t, ok)
	ch, ok := dom.Channel("chan0")
	require.True(t, ok)

	rules := ch.Rules()
	require.Len(t, rules, 1)
	tp, ok := rules[0].(*eventrule.Tracepoint)
	require.True(t, ok)
	require.Equal(t, "my_event_*", tp.Pattern)
	require.Equal(t, []string{"my_event_test1"}, tp.Exclusions)
	require.Len(t, ch.EnabledRules(), 1)
}

func TestMaterializeRejectsDuplicateName(t *testing.T) {
	s := buildTestSession(t)
	path := filepath.Join(t.TempDir(), "s1.yaml")
	require.Nil(t, Save(path, s))

	reg := registry.NewSessionRegistry()
	_, err := reg.Create("s1", registry.Output{}, registry.ModeNormal, registry.Credentials{})
	require.Nil(t, err)

	_, lerr := LoadInto(reg, registry.Credentials{}, path)
	require.NotNil(t, lerr)
}
