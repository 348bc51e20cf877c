package eventrule

import (
	"fmt"
	"math"
)

// LogLevel is a user-space syslog-style severity level. Validity is
// domain-specific: user-space accepts only [EMERG..DEBUG]; agent
// domains (jul, log4j, python) accept any 32-bit signed value
//.
type LogLevel int32

const (
	LogLevelEmerg LogLevel = iota
	LogLevelAlert
	LogLevelCrit
	LogLevelErr
	LogLevelWarning
	LogLevelNotice
	LogLevelInfo
	LogLevelDebugSystem
	LogLevelDebugProgram
	LogLevelDebugProcess
	LogLevelDebugThread
	LogLevelDebugFunction
	LogLevelDebugLine
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelEmerg:
		return "EMERG"
	case LogLevelAlert:
		return "ALERT"
	case LogLevelCrit:
		return "CRIT"
	case LogLevelErr:
		return "ERR"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelNotice:
		return "NOTICE"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ValidForDomain reports whether level is an acceptable value for d
//.
func (l LogLevel) ValidForDomain(d Domain) bool {
	if d == DomainKernel {
		return false
	}
	if d.IsAgent() {
		return true // full int32 range accepted for agent domains
	}
	return l >= LogLevelEmerg && l <= LogLevelDebug
}

// LogLevelRuleKind distinguishes the two log-level rule sub-variants.
type LogLevelRuleKind uint8

const (
	LogLevelExactly LogLevelRuleKind = iota
	LogLevelAtLeastAsSevereAs
)

// LogLevelRule is either "exactly(level)" or
// "at-least-as-severe-as(level)".
type LogLevelRule struct {
	Kind  LogLevelRuleKind
	Level LogLevel
}

// Exactly builds a log-level rule matching exactly one level.
func Exactly(level LogLevel) LogLevelRule {
	return LogLevelRule{Kind: LogLevelExactly, Level: level}
}

// AtLeastAsSevereAs builds a log-level rule matching level or any more
// severe (numerically lower, in syslog convention) level.
func AtLeastAsSevereAs(level LogLevel) LogLevelRule {
	return LogLevelRule{Kind: LogLevelAtLeastAsSevereAs, Level: level}
}

// Op returns the comparison operator this rule compiles to in an
// agent filter expression.
func (r LogLevelRule) Op() string {
	if r.Kind == LogLevelAtLeastAsSevereAs {
		return ">="
	}
	return "=="
}

func (r LogLevelRule) equal(other LogLevelRule) bool {
	return r.Kind == other.Kind && r.Level == other.Level
}

// maxAgentLevel/minAgentLevel bound the accepted 32-bit range for
// agent domains, used only for documentation/validation symmetry.
const (
	maxAgentLevel = math.MaxInt32
	minAgentLevel = math.MinInt32
)
