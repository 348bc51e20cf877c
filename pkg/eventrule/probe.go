package eventrule

import "sync/atomic"

// KernelProbe is the `kernel-probe{location}` rule variant.
type KernelProbe struct {
	Location string
	refcount int32
}

// NewKernelProbe creates an empty kernel-probe rule; Location must be
// set with SetLocation before the rule validates.
func NewKernelProbe() *KernelProbe { return &KernelProbe{refcount: 1} }

func (r *KernelProbe) Type() RuleType { return RuleKernelProbe }
func (r *KernelProbe) sealed()        {}
func (r *KernelProbe) Ref()           { atomic.AddInt32(&r.refcount, 1) }

func (r *KernelProbe) Unref() bool {
	n := atomic.AddInt32(&r.refcount, -1)
	if n == 0 {
		r.Location = ""
		return true
	}
	return n == 0
}

func (r *KernelProbe) RefCount() int32 { return atomic.LoadInt32(&r.refcount) }
func (r *KernelProbe) Validate() bool  { return r.Location != "" }

func (r *KernelProbe) Equal(other Rule) bool {
	o, ok := other.(*KernelProbe)
	return ok && r.Location == o.Location
}

func (r *KernelProbe) Hash() uint64 {
	h := hashSeed
	h = fnvFoldByte(h, byte(RuleKernelProbe))
	h = fnvFoldString(h, r.Location)
	return h
}

// UserSpaceProbe is the `user-space-probe{location, event-name}`
// rule variant.
type UserSpaceProbe struct {
	Location  string
	EventName string
	refcount  int32
}

// NewUserSpaceProbe creates an empty user-space-probe rule; both
// Location and EventName must be set before it validates.
func NewUserSpaceProbe() *UserSpaceProbe { return &UserSpaceProbe{refcount: 1} }

func (r *UserSpaceProbe) Type() RuleType { return RuleUserSpaceProbe }
func (r *UserSpaceProbe) sealed()        {}
func (r *UserSpaceProbe) Ref()           { atomic.AddInt32(&r.refcount, 1) }

func (r *UserSpaceProbe) Unref() bool {
	n := atomic.AddInt32(&r.refcount, -1)
	if n == 0 {
		r.Location = ""
		r.EventName = ""
		return true
	}
	return n == 0
}

func (r *UserSpaceProbe) RefCount() int32 { return atomic.LoadInt32(&r.refcount) }

func (r *UserSpaceProbe) Validate() bool {
	return r.Location != "" && r.EventName != ""
}

func (r *UserSpaceProbe) Equal(other Rule) bool {
	o, ok := other.(*UserSpaceProbe)
	return ok && r.Location == o.Location && r.EventName == o.EventName
}

func (r *UserSpaceProbe) Hash() uint64 {
	h := hashSeed
	h = fnvFoldByte(h, byte(RuleUserSpaceProbe))
	h = fnvFoldString(h, r.Location)
	h = fnvFoldString(h, r.EventName)
	return h
}

// KernelFunction is the `kernel-function{location}` placeholder
// variant; upstream marks this probe type TODO and never specified
// its wire serialization, so it is fully constructible and comparable
// but its Serialize/Deserialize path is intentionally unsupported —
// see DESIGN.md and serialize.go.
type KernelFunction struct {
	Location string
	refcount int32
}

// NewKernelFunction creates an empty kernel-function rule.
func NewKernelFunction() *KernelFunction { return &KernelFunction{refcount: 1} }

func (r *KernelFunction) Type() RuleType { return RuleKernelFunction }
func (r *KernelFunction) sealed()        {}
func (r *KernelFunction) Ref()           { atomic.AddInt32(&r.refcount, 1) }

func (r *KernelFunction) Unref() bool {
	n := atomic.AddInt32(&r.refcount, -1)
	if n == 0 {
		r.Location = ""
		return true
	}
	return n == 0
}

func (r *KernelFunction) RefCount() int32 { return atomic.LoadInt32(&r.refcount) }

// Validate always reports false: the variant is a TODO placeholder
// upstream and is never wire-compatible (see DESIGN.md).
func (r *KernelFunction) Validate() bool { return false }

func (r *KernelFunction) Equal(other Rule) bool {
	o, ok := other.(*KernelFunction)
	return ok && r.Location == o.Location
}

func (r *KernelFunction) Hash() uint64 {
	h := hashSeed
	h = fnvFoldByte(h, byte(RuleKernelFunction))
	h = fnvFoldString(h, r.Location)
	return h
}
