package registry

import (
	"sync"

	"github.com/opentrace/sessiond/pkg/eventrule"
)

// OutputType is the channel's ring-buffer reclaim policy.
type OutputType int

const (
	OutputDiscard OutputType = iota
	OutputOverwrite
)

// ContextField is one entry of a channel's context list.
type ContextField struct {
	Name string
}

// Attr bundles a channel's ring-buffer configuration.
type Attr struct {
	SubBufferSize  uint64
	SubBufferCount uint32
	SwitchTimerUs  uint32
	ReadTimerUs    uint32
	Output         OutputType
}

// DefaultAttr returns the conservative default ring-buffer
// configuration new channels are created with.
func DefaultAttr() Attr {
	return Attr{
		SubBufferSize:  4096,
		SubBufferCount: 4,
		SwitchTimerUs:  0,
		ReadTimerUs:    200000,
		Output:         OutputDiscard,
	}
}

// enabledRule pairs an event rule with its channel-local enable bit.
type enabledRule struct {
	rule    eventrule.Rule
	enabled bool
}

// Channel is the ring-buffer configuration scoped to one domain
// inside a session.
type Channel struct {
	mu sync.RWMutex

	Name    string
	Enabled bool
	Attr    Attr

	contexts []ContextField
	rules    []*enabledRule

	StreamCount uint64
	EventCount  uint64
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, Attr: DefaultAttr()}
}

// AddContext appends a context field, rejecting duplicates.
func (c *Channel) AddContext(f ContextField) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.contexts {
		if existing.Name == f.Name {
			return false
		}
	}
	c.contexts = append(c.contexts, f)
	return true
}

// Contexts returns a snapshot of the channel's context list.
func (c *Channel) Contexts() []ContextField {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextField, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// AttachRule attaches rule to the channel (disabled by default),
// rejecting a structurally-equal rule already attached.
func (c *Channel) AttachRule(rule eventrule.Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, er := range c.rules {
		if eventrule.Equal(er.rule, rule) {
			return false
		}
	}
	rule.Ref()
	c.rules = append(c.rules, &enabledRule{rule: rule})
	return true
}

// SetRuleEnabled flips the enable bit for a rule structurally equal to
// rule, returning whether a match was found.
func (c *Channel) SetRuleEnabled(rule eventrule.Rule, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, er := range c.rules {
		if eventrule.Equal(er.rule, rule) {
			er.enabled = enabled
			return true
		}
	}
	return false
}

// DetachRule removes a rule structurally equal to rule, Unref'ing it,
// and returns whether it was found.
func (c *Channel) DetachRule(rule eventrule.Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, er := range c.rules {
		if eventrule.Equal(er.rule, rule) {
			er.rule.Unref()
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a snapshot slice of the channel's attached event
// rules in attachment order.
func (c *Channel) Rules() []eventrule.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]eventrule.Rule, len(c.rules))
	for i, er := range c.rules {
		out[i] = er.rule
	}
	return out
}

// EnabledRules returns only rules whose channel-local enable bit is set.
func (c *Channel) EnabledRules() []eventrule.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []eventrule.Rule
	for _, er := range c.rules {
		if er.enabled {
			out = append(out, er.rule)
		}
	}
	return out
}

// DetachAll unrefs and clears every rule, used when a channel is torn
// down as part of session destroy.
func (c *Channel) DetachAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, er := range c.rules {
		er.rule.Unref()
	}
	c.rules = nil
}
