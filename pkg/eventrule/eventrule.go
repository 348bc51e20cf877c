// Package eventrule implements the event-rule algebra:
// a small closed set of typed variants (tracepoint, syscall,
// kernel-probe, user-space-probe, kernel-function) converging on one
// Rule interface so the command engine can validate, serialize,
// compare, and hash them uniformly.
//
// tracee's event decoding shows the same shape one level up:
// trace.Event is a single struct that many heterogeneous kernel
// tracepoints decode into, filtered by a shared
// ArgFilter/RetFilter/ContextFilter pipeline. Here the variation lives
// in the rule itself rather than in the decoded event, but the
// "one typed thing, many producers, one filter/compare/hash path"
// shape is the same.
package eventrule

import "fmt"

// RuleType is the 8-bit wire type tag in the fixed rule header.
type RuleType uint8

const (
	RuleTracepoint RuleType = iota
	RuleSyscall
	RuleKernelProbe
	RuleUserSpaceProbe
	RuleKernelFunction // TODO placeholder variant, see DESIGN.md
)

func (t RuleType) String() string {
	switch t {
	case RuleTracepoint:
		return "tracepoint"
	case RuleSyscall:
		return "syscall"
	case RuleKernelProbe:
		return "kernel-probe"
	case RuleUserSpaceProbe:
		return "user-space-probe"
	case RuleKernelFunction:
		return "kernel-function"
	default:
		return fmt.Sprintf("rule-type(%d)", uint8(t))
	}
}

// Domain identifies one of the five tracing back-ends a tracepoint
// rule can target.
type Domain int8

const (
	DomainKernel Domain = iota
	DomainUST
	DomainJUL
	DomainLog4j
	DomainPython
)

func (d Domain) String() string {
	switch d {
	case DomainKernel:
		return "kernel"
	case DomainUST:
		return "ust"
	case DomainJUL:
		return "jul"
	case DomainLog4j:
		return "log4j"
	case DomainPython:
		return "python"
	default:
		return fmt.Sprintf("domain(%d)", int8(d))
	}
}

// IsAgent reports whether d is one of the three agent-bridge domains,
// whose filters get rewritten with a logger_name/int_loglevel predicate
// by GenerateFilterBytecode.
func (d Domain) IsAgent() bool {
	return d == DomainJUL || d == DomainLog4j || d == DomainPython
}

// SupportsLogLevel reports whether d accepts a log-level rule: all
// domains except kernel.
func (d Domain) SupportsLogLevel() bool {
	return d != DomainKernel
}

// SupportsExclusions reports whether d accepts exclusions, permitted
// only for user-space tracepoints.
func (d Domain) SupportsExclusions() bool {
	return d == DomainUST
}

// Status is the closed result set returned by the variant-specific
// setters.
type Status int

const (
	StatusOK Status = iota
	StatusInvalid
	StatusUnset
	StatusUnsupported
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalid:
		return "INVALID"
	case StatusUnset:
		return "UNSET"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Rule is the sealed interface every event-rule variant implements.
// Only the eventrule package may provide new implementations — callers
// switch on Type() rather than type-asserting to a concrete struct
// when they need variant-generic behavior, and use the package-level
// Set* functions for variant-specific mutation (see setters.go).
type Rule interface {
	Type() RuleType

	// Validate checks mandatory fields (pattern, domain for tracepoint;
	// location for probes) and domain-appropriate log-level bounds.
	Validate() bool

	// Ref increments the rule's reference count.
	Ref()

	// Unref decrements the reference count and reports whether it
	// reached zero, at which point the rule is free to release.
	Unref() bool

	// RefCount returns the current reference count, for tests and
	// diagnostics.
	RefCount() int32

	// Equal is structural equality over the whole payload, type-equal
	// first.
	Equal(other Rule) bool

	// Hash folds type tag, domain, pattern, filter, log-level rule, and
	// exclusions under the same seed (package-level hashSeed).
	Hash() uint64

	// sealed is unexported so Rule cannot be implemented outside this
	// package.
	sealed()
}

const hashSeed uint64 = 0xcbf29ce484222325 // FNV-1a 64-bit offset basis
