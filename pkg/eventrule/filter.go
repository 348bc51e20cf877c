package eventrule

import (
	"context"
	"fmt"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// Credentials identifies the caller on whose behalf a filter is
// compiled.
type Credentials struct {
	UID int
	GID int
}

// FilterCompiler turns filter source text into bytecode. Compilation
// is assumed to be provided by an external compiler module; this core
// only requests it. Production wiring plugs in the real compiler
// process; NullCompiler is the test double used by package tests.
type FilterCompiler interface {
	Compile(ctx context.Context, creds Credentials, filterExpr string) ([]byte, error)
}

// NullCompiler is a FilterCompiler that returns the filter expression
// itself as "bytecode", for use in tests that only care about the
// composition logic, not real compilation.
type NullCompiler struct{}

func (NullCompiler) Compile(_ context.Context, _ Credentials, filterExpr string) ([]byte, error) {
	return []byte(filterExpr), nil
}

// ComposedFilter returns the filter expression that would be handed
// to the compiler for r, without invoking the compiler. For agent
// domains this rewrites the user filter into
// `(<user-filter>) && (logger_name == "<pattern>")`, appending
// `&& (int_loglevel <op> <level>)` when a log-level rule is present
//. For non-agent domains and the syscall variant, it is
// simply the rule's own filter text.
func ComposedFilter(r Rule) (string, error) {
	switch v := r.(type) {
	case *Tracepoint:
		return composeTracepointFilter(v), nil
	case *Syscall:
		return v.Filter, nil
	default:
		return "", errkind.New("eventrule.ComposedFilter", errkind.EventRuleUnsupportedVariant)
	}
}

func composeTracepointFilter(r *Tracepoint) string {
	if !r.Domain.IsAgent() {
		return r.Filter
	}

	var parts []string
	if r.HasFilter && r.Filter != "" {
		parts = append(parts, fmt.Sprintf("(%s)", r.Filter))
	}
	if r.Pattern != "" && r.Pattern != "*" {
		parts = append(parts, fmt.Sprintf("(logger_name == \"%s\")", r.Pattern))
	}
	if r.LogLevelRule != nil {
		parts = append(parts, fmt.Sprintf("(int_loglevel %s %d)", r.LogLevelRule.Op(), int32(r.LogLevelRule.Level)))
	}

	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " && " + p
	}
	return out
}

// GenerateFilterBytecode composes the agent filter (if applicable),
// hands it to compiler under creds, and caches the resulting bytecode
// on the rule. Rules without a filter concept (the probe
// variants) return UNSUPPORTED.
func GenerateFilterBytecode(ctx context.Context, r Rule, creds Credentials, compiler FilterCompiler) ([]byte, error) {
	expr, err := ComposedFilter(r)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return nil, nil
	}

	bc, err := compiler.Compile(ctx, creds, expr)
	if err != nil {
		return nil, errkind.Wrap("eventrule.GenerateFilterBytecode", errkind.FilterCompileFailed, err)
	}

	switch v := r.(type) {
	case *Tracepoint:
		v.bytecode = bc
	case *Syscall:
		v.bytecode = bc
	}
	return bc, nil
}

// CachedBytecode returns the bytecode cached by a prior
// GenerateFilterBytecode call, or nil if none has been generated yet.
func CachedBytecode(r Rule) []byte {
	switch v := r.(type) {
	case *Tracepoint:
		return v.bytecode
	case *Syscall:
		return v.bytecode
	default:
		return nil
	}
}
