package eventrule

import "unicode/utf8"

// SetPattern sets the glob pattern on variants that carry one
// (tracepoint, syscall). Returns UNSUPPORTED for probe variants, which
// have no pattern field, and INVALID for an empty pattern.
func SetPattern(r Rule, pattern string) Status {
	if pattern == "" {
		return StatusInvalid
	}
	if !utf8.ValidString(pattern) {
		return StatusInvalid
	}
	switch v := r.(type) {
	case *Tracepoint:
		v.Pattern = pattern
		return StatusOK
	case *Syscall:
		v.Pattern = pattern
		return StatusOK
	default:
		return StatusUnsupported
	}
}

// SetFilter sets the filter expression text on variants that carry
// one (tracepoint, syscall). The text is not compiled here —
// compilation happens in GenerateFilterBytecode under caller
// credentials.
func SetFilter(r Rule, filter string) Status {
	switch v := r.(type) {
	case *Tracepoint:
		if filter == "" {
			return StatusInvalid
		}
		v.Filter = filter
		v.HasFilter = true
		v.bytecode = nil
		return StatusOK
	case *Syscall:
		if filter == "" {
			return StatusInvalid
		}
		v.Filter = filter
		v.HasFilter = true
		v.bytecode = nil
		return StatusOK
	default:
		return StatusUnsupported
	}
}

// SetLogLevelRule sets a log-level rule on a tracepoint. UNSUPPORTED
// for every other variant, including kernel tracepoints. INVALID when
// the level is out of range for the tracepoint's domain.
func SetLogLevelRule(r Rule, rule LogLevelRule) Status {
	tp, ok := r.(*Tracepoint)
	if !ok {
		return StatusUnsupported
	}
	if !tp.Domain.SupportsLogLevel() {
		return StatusUnsupported
	}
	if !rule.Level.ValidForDomain(tp.Domain) {
		return StatusInvalid
	}
	cp := rule
	tp.LogLevelRule = &cp
	return StatusOK
}

// AddExclusion appends an exclusion name to a user-space tracepoint.
// UNSUPPORTED for every other domain/variant.
func AddExclusion(r Rule, name string) Status {
	tp, ok := r.(*Tracepoint)
	if !ok {
		return StatusUnsupported
	}
	if !tp.Domain.SupportsExclusions() {
		return StatusUnsupported
	}
	if name == "" {
		return StatusInvalid
	}
	for _, e := range tp.Exclusions {
		if e == name {
			return StatusError // already present
		}
	}
	tp.Exclusions = append(tp.Exclusions, name)
	return StatusOK
}

// GetExclusionsCount returns the number of exclusions on r, or 0 for
// any variant/domain that doesn't support them.
func GetExclusionsCount(r Rule) int {
	tp, ok := r.(*Tracepoint)
	if !ok || !tp.Domain.SupportsExclusions() {
		return 0
	}
	return len(tp.Exclusions)
}

// SetLocation sets the probe location on kernel-probe, user-space-probe,
// and kernel-function rules. UNSUPPORTED for tracepoint/syscall.
func SetLocation(r Rule, location string) Status {
	if location == "" {
		return StatusInvalid
	}
	switch v := r.(type) {
	case *KernelProbe:
		v.Location = location
		return StatusOK
	case *UserSpaceProbe:
		v.Location = location
		return StatusOK
	case *KernelFunction:
		v.Location = location
		return StatusOK
	default:
		return StatusUnsupported
	}
}

// SetEventName sets the emitted event name on a user-space-probe rule.
// UNSUPPORTED for every other variant.
func SetEventName(r Rule, name string) Status {
	v, ok := r.(*UserSpaceProbe)
	if !ok {
		return StatusUnsupported
	}
	if name == "" {
		return StatusInvalid
	}
	v.EventName = name
	return StatusOK
}
