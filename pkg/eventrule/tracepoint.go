package eventrule

import "sync/atomic"

// Tracepoint is the `tracepoint{domain, pattern, filter?, log-level
// rule?, exclusions[]}` rule variant.
type Tracepoint struct {
	Domain       Domain
	Pattern      string
	Filter       string // "" means unset
	HasFilter    bool
	LogLevelRule *LogLevelRule // nil means unset
	Exclusions   []string      // declared order matters for Equal/Hash

	bytecode []byte
	refcount int32
}

// NewTracepoint creates a tracepoint rule with the default pattern
// "*", no filter, no log-level rule, and no exclusions.
func NewTracepoint(domain Domain) *Tracepoint {
	return &Tracepoint{
		Domain:   domain,
		Pattern:  "*",
		refcount: 1,
	}
}

func (r *Tracepoint) Type() RuleType { return RuleTracepoint }

func (r *Tracepoint) sealed() {}

func (r *Tracepoint) Ref() { atomic.AddInt32(&r.refcount, 1) }

func (r *Tracepoint) Unref() bool {
	n := atomic.AddInt32(&r.refcount, -1)
	if n == 0 {
		r.release()
		return true
	}
	return n == 0
}

func (r *Tracepoint) RefCount() int32 { return atomic.LoadInt32(&r.refcount) }

// release tears down cached/owned fields in a fixed, deterministic
// order: bytecode, then exclusions, then filter/pattern strings.
func (r *Tracepoint) release() {
	r.bytecode = nil
	r.Exclusions = nil
	r.Filter = ""
	r.HasFilter = false
	r.LogLevelRule = nil
	r.Pattern = ""
}

// Validate checks mandatory fields and domain-appropriate log-level
// bounds.
func (r *Tracepoint) Validate() bool {
	if r.Pattern == "" {
		return false
	}
	if r.LogLevelRule != nil {
		if !r.Domain.SupportsLogLevel() {
			return false
		}
		if !r.LogLevelRule.Level.ValidForDomain(r.Domain) {
			return false
		}
	}
	if len(r.Exclusions) > 0 && !r.Domain.SupportsExclusions() {
		return false
	}
	return true
}

func (r *Tracepoint) Equal(other Rule) bool {
	o, ok := other.(*Tracepoint)
	if !ok {
		return false
	}
	if r.Domain != o.Domain || r.Pattern != o.Pattern {
		return false
	}
	if r.HasFilter != o.HasFilter {
		return false
	}
	if r.HasFilter && r.Filter != o.Filter {
		return false
	}
	if (r.LogLevelRule == nil) != (o.LogLevelRule == nil) {
		return false
	}
	if r.LogLevelRule != nil && !r.LogLevelRule.equal(*o.LogLevelRule) {
		return false
	}
	if len(r.Exclusions) != len(o.Exclusions) {
		return false
	}
	for i := range r.Exclusions {
		if r.Exclusions[i] != o.Exclusions[i] {
			return false
		}
	}
	return true
}

func (r *Tracepoint) Hash() uint64 {
	h := hashSeed
	h = fnvFoldByte(h, byte(RuleTracepoint))
	h = fnvFoldByte(h, byte(r.Domain))
	h = fnvFoldString(h, r.Pattern)
	if r.HasFilter {
		h = fnvFoldString(h, r.Filter)
	}
	if r.LogLevelRule != nil {
		h = fnvFoldByte(h, byte(r.LogLevelRule.Kind))
		h = fnvFoldUint32(h, uint32(r.LogLevelRule.Level))
	}
	for _, e := range r.Exclusions {
		h = fnvFoldString(h, e)
	}
	return h
}
