package eventrule

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 1: round-trip a UST tracepoint rule with
// pattern, filter, log-level, and three exclusions.
func TestRoundTripTracepointRule(t *testing.T) {
	r := NewTracepoint(DomainUST)
	require.Equal(t, StatusOK, SetPattern(r, "my_event_*"))
	require.Equal(t, StatusOK, SetFilter(r, "msg_id == 23 && size >= 2048"))
	require.Equal(t, StatusOK, SetLogLevelRule(r, Exactly(LogLevelInfo)))
	require.Equal(t, StatusOK, AddExclusion(r, "my_event_test1"))
	require.Equal(t, StatusOK, AddExclusion(r, "my_event_test2"))
	require.Equal(t, StatusOK, AddExclusion(r, "my_event_test3"))
	require.True(t, r.Validate())

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, r))

	got, err := Deserialize(buf.Bytes())
	require.NoError(t, err)

	require.True(t, Equal(r, got))
	require.Equal(t, r.Hash(), got.Hash())
	require.Equal(t, 3, GetExclusionsCount(got))

	gotTP := got.(*Tracepoint)
	require.Equal(t, []string{"my_event_test1", "my_event_test2", "my_event_test3"}, gotTP.Exclusions)
}

// Scenario 2: exclusions are gated to the UST domain.
func TestExclusionDomainGate(t *testing.T) {
	for _, d := range []Domain{DomainJUL, DomainKernel, DomainLog4j, DomainPython} {
		r := NewTracepoint(d)
		require.Equal(t, StatusUnsupported, AddExclusion(r, "x"), "domain=%s", d)
		require.Equal(t, 0, GetExclusionsCount(r), "domain=%s", d)
	}
}

// Scenario 3: agent filter synthesis.
func TestAgentFilterSynthesis(t *testing.T) {
	r := NewTracepoint(DomainJUL)
	require.Equal(t, StatusOK, SetPattern(r, "com.foo"))
	require.Equal(t, StatusOK, SetFilter(r, "size > 10"))
	require.Equal(t, StatusOK, SetLogLevelRule(r, AtLeastAsSevereAs(LogLevelInfo)))

	expr, err := ComposedFilter(r)
	require.NoError(t, err)
	require.Equal(t, `(size > 10) && (logger_name == "com.foo") && (int_loglevel >= 6)`, expr)

	r2 := NewTracepoint(DomainJUL)
	require.Equal(t, StatusOK, SetPattern(r2, "*"))
	require.Equal(t, StatusOK, SetLogLevelRule(r2, AtLeastAsSevereAs(LogLevelInfo)))
	expr2, err := ComposedFilter(r2)
	require.NoError(t, err)
	require.Equal(t, "(int_loglevel >= 6)", expr2)
}

func TestLogLevelUnsupportedForKernel(t *testing.T) {
	r := NewTracepoint(DomainKernel)
	require.Equal(t, StatusUnsupported, SetLogLevelRule(r, Exactly(LogLevelInfo)))
}

func TestLogLevelRangeForUST(t *testing.T) {
	r := NewTracepoint(DomainUST)
	require.Equal(t, StatusInvalid, SetLogLevelRule(r, Exactly(LogLevel(100))))
	require.Equal(t, StatusOK, SetLogLevelRule(r, Exactly(LogLevelDebug)))
}

func TestLogLevelAnyInt32ForAgentDomains(t *testing.T) {
	r := NewTracepoint(DomainLog4j)
	require.Equal(t, StatusOK, SetLogLevelRule(r, Exactly(LogLevel(-1980))))
	require.Equal(t, StatusOK, SetLogLevelRule(r, Exactly(LogLevel(1<<20))))
}

// Hash must be order-independent with respect to *how* fields were
// set, not with respect to exclusion order (which is significant).
func TestHashStableAcrossSetOrder(t *testing.T) {
	a := NewTracepoint(DomainUST)
	SetPattern(a, "ev_*")
	SetFilter(a, "x == 1")
	SetLogLevelRule(a, Exactly(LogLevelInfo))

	b := NewTracepoint(DomainUST)
	SetLogLevelRule(b, Exactly(LogLevelInfo))
	SetFilter(b, "x == 1")
	SetPattern(b, "ev_*")

	require.True(t, Equal(a, b))
	require.Equal(t, a.Hash(), b.Hash())
}

func TestExclusionOrderMatters(t *testing.T) {
	a := NewTracepoint(DomainUST)
	AddExclusion(a, "one")
	AddExclusion(a, "two")

	b := NewTracepoint(DomainUST)
	AddExclusion(b, "two")
	AddExclusion(b, "one")

	require.False(t, Equal(a, b))
}

func TestRefCountingFreesOnZero(t *testing.T) {
	r := NewTracepoint(DomainUST)
	SetPattern(r, "ev")
	require.Equal(t, int32(1), r.RefCount())
	r.Ref()
	require.Equal(t, int32(2), r.RefCount())
	require.False(t, r.Unref())
	require.True(t, r.Unref())
	require.Equal(t, "", r.Pattern)
}

func TestGenerateExclusionsPackedLayout(t *testing.T) {
	r := NewTracepoint(DomainUST)
	AddExclusion(r, "ab")
	AddExclusion(r, "abc")

	packed := GenerateExclusions(r)
	require.NotNil(t, packed)
	require.Equal(t, []string{"ab", "abc"}, ParseExclusions(packed))

	noExcl := NewTracepoint(DomainUST)
	require.Nil(t, GenerateExclusions(noExcl))

	kernelRule := NewSyscall()
	require.Nil(t, GenerateExclusions(kernelRule))
}

func TestKernelFunctionPlaceholder(t *testing.T) {
	r := NewKernelFunction()
	SetLocation(r, "do_sys_open")
	require.False(t, r.Validate())

	var buf bytes.Buffer
	err := Serialize(&buf, r)
	require.Error(t, err)
}

func TestSerializeRejectsTruncatedInput(t *testing.T) {
	r := NewTracepoint(DomainUST)
	SetPattern(r, "ev")
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, r))

	truncated := buf.Bytes()[:len(buf.Bytes())-2]
	_, err := Deserialize(truncated)
	require.Error(t, err)
}
