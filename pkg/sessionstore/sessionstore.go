// Package sessionstore implements the `load-session`/`save-session`
// commands: it snapshots a session's full domain/channel/event-rule
// tree to YAML and restores it into a fresh session registry entry.
package sessionstore

import (
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opentrace/sessiond/pkg/errkind"
	"github.com/opentrace/sessiond/pkg/eventrule"
	"github.com/opentrace/sessiond/pkg/registry"
)

// fileMode matches the runtime-directory convention for daemon-owned
// files (0660), loosened to owner+group read/write since a session
// snapshot carries no credential material.
const fileMode = 0o660

type ruleDTO struct {
	Type         string   `yaml:"type"`
	Domain       string   `yaml:"domain,omitempty"`
	Pattern      string   `yaml:"pattern,omitempty"`
	Filter       string   `yaml:"filter,omitempty"`
	HasFilter    bool     `yaml:"has_filter,omitempty"`
	LogLevelOp   string   `yaml:"log_level_op,omitempty"`
	LogLevel     int32    `yaml:"log_level,omitempty"`
	HasLogLevel  bool     `yaml:"has_log_level,omitempty"`
	Exclusions   []string `yaml:"exclusions,omitempty"`
	Location     string   `yaml:"location,omitempty"`
	EventName    string   `yaml:"event_name,omitempty"`
	EnabledOnCh  bool     `yaml:"enabled,omitempty"`
}

type channelDTO struct {
	Name           string       `yaml:"name"`
	Enabled        bool         `yaml:"enabled"`
	SubBufferSize  uint64       `yaml:"sub_buffer_size"`
	SubBufferCount uint32       `yaml:"sub_buffer_count"`
	SwitchTimerUs  uint32       `yaml:"switch_timer_us"`
	ReadTimerUs    uint32       `yaml:"read_timer_us"`
	Overwrite      bool         `yaml:"overwrite"`
	Contexts       []string     `yaml:"contexts,omitempty"`
	Rules          []ruleDTO    `yaml:"rules,omitempty"`
}

type domainDTO struct {
	Kind      string       `yaml:"kind"`
	Buffering string       `yaml:"buffering,omitempty"`
	Channels  []channelDTO `yaml:"channels,omitempty"`
}

type rotationDTO struct {
	PeriodicSeconds *int64  `yaml:"periodic_seconds,omitempty"`
	SizeMiB         *uint64 `yaml:"size_mib,omitempty"`
}

// Snapshot is the on-disk representation of one session.
type Snapshot struct {
	Name      string        `yaml:"name"`
	LocalPath string        `yaml:"local_path,omitempty"`
	RelayURL  string        `yaml:"relay_url,omitempty"`
	Mode      string        `yaml:"mode"`
	Domains   []domainDTO   `yaml:"domains,omitempty"`
	Rotations []rotationDTO `yaml:"rotations,omitempty"`
}

func modeToString(m registry.CreationMode) string {
	switch m {
	case registry.ModeLive:
		return "live"
	case registry.ModeSnapshot:
		return "snapshot"
	default:
		return "normal"
	}
}

func modeFromString(s string) registry.CreationMode {
	switch s {
	case "live":
		return registry.ModeLive
	case "snapshot":
		return registry.ModeSnapshot
	default:
		return registry.ModeNormal
	}
}

func bufferingToString(b registry.BufferingPolicy) string {
	switch b {
	case registry.BufferingPerUID:
		return "per-uid"
	case registry.BufferingPerPID:
		return "per-pid"
	default:
		return ""
	}
}

func ruleToDTO(r eventrule.Rule, enabled bool) ruleDTO {
	dto := ruleDTO{Type: r.Type().String(), EnabledOnCh: enabled}
	switch v := r.(type) {
	case *eventrule.Tracepoint:
		dto.Domain = v.Domain.String()
		dto.Pattern = v.Pattern
		dto.HasFilter = v.HasFilter
		dto.Filter = v.Filter
		if v.LogLevelRule != nil {
			dto.HasLogLevel = true
			dto.LogLevelOp = v.LogLevelRule.Op()
			dto.LogLevel = int32(v.LogLevelRule.Level)
		}
		dto.Exclusions = append([]string(nil), v.Exclusions...)
	case *eventrule.Syscall:
		dto.Pattern = v.Pattern
		dto.HasFilter = v.HasFilter
		dto.Filter = v.Filter
	case *eventrule.KernelProbe:
		dto.Location = v.Location
	case *eventrule.UserSpaceProbe:
		dto.Location = v.Location
		dto.EventName = v.EventName
	case *eventrule.KernelFunction:
		dto.Location = v.Location
	}
	return dto
}

func dtoToRule(dto ruleDTO) (eventrule.Rule, *errkind.Error) {
	switch dto.Type {
	case "tracepoint":
		domain, err := domainFromString(dto.Domain)
		if err != nil {
			return nil, err
		}
		r := eventrule.NewTracepoint(domain)
		eventrule.SetPattern(r, dto.Pattern)
		if dto.HasFilter {
			eventrule.SetFilter(r, dto.Filter)
		}
		if dto.HasLogLevel {
			level := eventrule.LogLevel(dto.LogLevel)
			var rule eventrule.LogLevelRule
			if dto.LogLevelOp == ">=" {
				rule = eventrule.AtLeastAsSevereAs(level)
			} else {
				rule = eventrule.Exactly(level)
			}
			eventrule.SetLogLevelRule(r, rule)
		}
		for _, ex := range dto.Exclusions {
			eventrule.AddExclusion(r, ex)
		}
		return r, nil
	case "syscall":
		r := eventrule.NewSyscall()
		eventrule.SetPattern(r, dto.Pattern)
		if dto.HasFilter {
			eventrule.SetFilter(r, dto.Filter)
		}
		return r, nil
	case "kernel-probe":
		r := eventrule.NewKernelProbe()
		eventrule.SetLocation(r, dto.Location)
		return r, nil
	case "user-space-probe":
		r := eventrule.NewUserSpaceProbe()
		eventrule.SetLocation(r, dto.Location)
		eventrule.SetEventName(r, dto.EventName)
		return r, nil
	case "kernel-function":
		r := eventrule.NewKernelFunction()
		eventrule.SetLocation(r, dto.Location)
		return r, nil
	default:
		return nil, errkind.New("sessionstore.dtoToRule", errkind.EventRuleInvalid)
	}
}

func domainFromString(s string) (eventrule.Domain, *errkind.Error) {
	switch s {
	case "kernel":
		return eventrule.DomainKernel, nil
	case "ust":
		return eventrule.DomainUST, nil
	case "jul":
		return eventrule.DomainJUL, nil
	case "log4j":
		return eventrule.DomainLog4j, nil
	case "python":
		return eventrule.DomainPython, nil
	default:
		return 0, errkind.New("sessionstore.domainFromString", errkind.EventRuleInvalid)
	}
}

// Capture builds a Snapshot of s's current tree. Callers hold no lock
// themselves; the registry types are internally synchronized.
func Capture(s *registry.Session) Snapshot {
	snap := Snapshot{
		Name:      s.Name,
		LocalPath: s.Output.LocalPath,
		RelayURL:  s.Output.RelayURL,
		Mode:      modeToString(s.Mode),
	}

	for _, d := range s.Domains() {
		ddto := domainDTO{Kind: d.Kind.String(), Buffering: bufferingToString(d.Buffering)}
		for _, ch := range d.Channels() {
			cdto := channelDTO{
				Name:           ch.Name,
				Enabled:        ch.Enabled,
				SubBufferSize:  ch.Attr.SubBufferSize,
				SubBufferCount: ch.Attr.SubBufferCount,
				SwitchTimerUs:  ch.Attr.SwitchTimerUs,
				ReadTimerUs:    ch.Attr.ReadTimerUs,
				Overwrite:      ch.Attr.Output == registry.OutputOverwrite,
			}
			for _, c := range ch.Contexts() {
				cdto.Contexts = append(cdto.Contexts, c.Name)
			}
			enabled := make(map[eventrule.Rule]bool)
			for _, r := range ch.EnabledRules() {
				enabled[r] = true
			}
			for _, r := range ch.Rules() {
				cdto.Rules = append(cdto.Rules, ruleToDTO(r, enabled[r]))
			}
			ddto.Channels = append(ddto.Channels, cdto)
		}
		snap.Domains = append(snap.Domains, ddto)
	}

	for _, sched := range s.RotationSchedules() {
		rdto := rotationDTO{}
		if sched.Periodic != nil {
			secs := int64(*sched.Periodic / 1e9)
			rdto.PeriodicSeconds = &secs
		}
		if sched.SizeMiB != nil {
			mib := *sched.SizeMiB
			rdto.SizeMiB = &mib
		}
		snap.Rotations = append(snap.Rotations, rdto)
	}

	return snap
}

// Save writes s's snapshot to path as YAML.
func Save(path string, s *registry.Session) *errkind.Error {
	snap := Capture(s)
	data, err := yaml.Marshal(snap)
	if err != nil {
		return errkind.Wrap("sessionstore.Save", errkind.SaveIOFail, err)
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return errkind.Wrap("sessionstore.Save", errkind.SaveIOFail, err)
	}
	return nil
}

// Load reads a Snapshot from path.
func Load(path string) (*Snapshot, *errkind.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap("sessionstore.Load", errkind.LoadIOFail, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, errkind.Wrap("sessionstore.Load", errkind.LoadIOFail, err)
	}
	return &snap, nil
}

// Materialize recreates snap's full tree inside reg as a brand-new
// session, failing if the name is already taken.
func Materialize(reg *registry.SessionRegistry, creator registry.Credentials, snap *Snapshot) (*registry.Session, *errkind.Error) {
	out := registry.Output{LocalPath: snap.LocalPath, RelayURL: snap.RelayURL}
	s, err := reg.Create(snap.Name, out, modeFromString(snap.Mode), creator)
	if err != nil {
		return nil, err
	}

	for _, ddto := range snap.Domains {
		domain, derr := domainFromString(ddto.Kind)
		if derr != nil {
			return nil, derr
		}
		d := s.Domain(domain)
		for _, cdto := range ddto.Channels {
			ch, _ := d.GetOrCreateChannel(cdto.Name)
			ch.Enabled = cdto.Enabled
			ch.Attr.SubBufferSize = cdto.SubBufferSize
			ch.Attr.SubBufferCount = cdto.SubBufferCount
			ch.Attr.SwitchTimerUs = cdto.SwitchTimerUs
			ch.Attr.ReadTimerUs = cdto.ReadTimerUs
			if cdto.Overwrite {
				ch.Attr.Output = registry.OutputOverwrite
			}
			for _, cname := range cdto.Contexts {
				ch.AddContext(registry.ContextField{Name: cname})
			}
			for _, rdto := range cdto.Rules {
				rule, rerr := dtoToRule(rdto)
				if rerr != nil {
					return nil, rerr
				}
				if !ch.AttachRule(rule) {
					return nil, errkind.New("sessionstore.Materialize", errkind.EventRuleExists)
				}
				if rdto.EnabledOnCh {
					ch.SetRuleEnabled(rule, true)
				}
			}
		}
	}

	for _, rdto := range snap.Rotations {
		sched := registry.RotationSchedule{ID: uuid.New()}
		if rdto.PeriodicSeconds != nil {
			d := time.Duration(*rdto.PeriodicSeconds) * time.Second
			sched.Periodic = &d
		}
		if rdto.SizeMiB != nil {
			mib := *rdto.SizeMiB
			sched.SizeMiB = &mib
		}
		if err := s.AddRotationSchedule(sched); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// LoadInto is Load followed by Materialize, the common case for the
// load-session command.
func LoadInto(reg *registry.SessionRegistry, creator registry.Credentials, path string) (*registry.Session, *errkind.Error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Materialize(reg, creator, snap)
}

