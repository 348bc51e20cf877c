// Package errkind implements the daemon's closed error taxonomy
//: a single enumerated ErrorKind per subsystem, each with
// one canonical human string, plus the Error wrapper that carries an
// ErrorKind across every cross-component return value.
package errkind

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed set of 119 values organized by subsystem. New
// values must be added to the kindStrings table below
// in the same change, or String() falls back to "UNKNOWN_ERROR_KIND".
type ErrorKind int

const (
	// Generic
	Unknown ErrorKind = iota
	Invalid
	NoMemory
	Fatal
	NotImplemented
	Cancelled
	Timeout
	PermissionDenied
	NeedRoot
	AlreadyExists
	NotFound
	Busy
	InvalidState
	Unsupported
	IOFailure
	Interrupted

	// Session
	NoSession
	SessionExists
	SessionNotStopped
	SessionNotStarted
	SessionBusy
	SessionInvalidNameChars
	SessionNameTooLong
	SessionFDLimit
	SessionNoData
	SessionNotDestroyed
	SessionListEmpty

	// Domain / channel
	NoDomain
	DomainUnsupported
	NoChannel
	ChannelExists
	ChannelNotFound
	ChannelInvalidName
	ChannelInvalidAttr
	ChannelSubBufferSize
	ChannelSubBufferCount
	ChannelOverwriteDiscardMix
	ChannelBufferRegistry

	// Event rule
	EventRuleInvalid
	EventRulePatternEmpty
	EventRuleExists
	EventRuleNotFound
	EventRuleFilterInvalid
	EventRuleFilterExists
	EventRuleFilterNotSet
	EventRuleExclusionUnsupported
	EventRuleExclusionInvalidName
	EventRuleExclusionExists
	EventRuleLogLevelUnsupported
	EventRuleLogLevelInvalid
	EventRuleLocationUnset
	EventRuleEventNameUnset
	EventRuleSerializeShortBuffer
	EventRuleSerializeBadLength
	EventRuleSerializeUnterminated
	EventRuleHashMismatch
	EventRuleUnsupportedVariant

	// Filter bytecode
	FilterCompileFailed
	FilterBytecodeTooBig
	FilterNoBytecode

	// Kernel tracer (KERN_*)
	KernNoSyscall
	KernEventExists
	KernEventNotFound
	KernSessionFail
	KernChannelFail
	KernChannelExists
	KernChannelNotFound
	KernContextFail
	KernContextExists
	KernEnableFail
	KernDisableFail
	KernNoKernelModule
	KernVersion

	// User-space tracer (UST_*)
	USTNoSession
	USTSessionFail
	USTChannelFail
	USTChannelExists
	USTChannelNotFound
	USTEventEnableFail
	USTEventNotFound
	USTContextExists
	USTRegisterFail
	USTListFail
	USTAppNotFound
	USTAppSockError

	// Relay (RELAYD_*)
	RelaydConnectFail
	RelaydVersionFail
	RelaydDisconnected
	RelaydTimeout

	// Rotation (ROTATION_*)
	RotationPending
	RotationNotAvailable
	RotationScheduleSet
	RotationScheduleNotSet
	RotationWrongState
	RotationMultipleAfterDestroy
	RotationInvalidSchedule

	// Trigger / notifier (TRIGGER_*, EVENT_NOTIFIER_*)
	TriggerExists
	TriggerNotFound
	TriggerInvalid
	TriggerPermissionDenied
	EventNotifierExists
	EventNotifierNotFound
	EventNotifierNoIndexAvailable
	EventNotifierGroupFail
	EventNotifierErrorAccountingNotInit

	// I/O
	SaveIOFail
	LoadIOFail
	SaveFormatUnsupported
	LoadInvalidConfig

	// Authorization
	EPerm
	NeedRootSessiond
	BadSocket

	// Application registration pipeline
	AppRegQueueFull
	AppRegRollback
	AppRegDispatchClosed
	AppRegSocketCredFail

	// Supervisor
	SupervisorAlreadyRunning
	SupervisorNotRunning
	SupervisorJoinTimeout

	kindSentinel // keep last; marks the end of the enumeration
)

var kindStrings = map[ErrorKind]string{
	Unknown:                  "unknown error",
	Invalid:                  "invalid argument",
	NoMemory:                 "out of memory",
	Fatal:                    "fatal error, shutting down",
	NotImplemented:           "operation not implemented",
	Cancelled:                "operation cancelled",
	Timeout:                  "operation timed out",
	PermissionDenied:         "permission denied",
	NeedRoot:                 "root privileges required",
	AlreadyExists:            "already exists",
	NotFound:                 "not found",
	Busy:                     "resource busy",
	InvalidState:             "invalid state for this operation",
	Unsupported:              "unsupported operation",
	IOFailure:                "I/O failure",
	Interrupted:              "interrupted system call",

	NoSession:               "session not found",
	SessionExists:           "session name already exists",
	SessionNotStopped:       "session is not stopped",
	SessionNotStarted:       "session is not started",
	SessionBusy:             "session is busy",
	SessionInvalidNameChars: "session name contains invalid characters",
	SessionNameTooLong:      "session name exceeds the maximum length",
	SessionFDLimit:          "too many open session file descriptors",
	SessionNoData:           "no data available for session",
	SessionNotDestroyed:     "session was not marked destroyed",
	SessionListEmpty:        "session list is empty",

	NoDomain:                   "domain not found",
	DomainUnsupported:          "domain not supported for this operation",
	NoChannel:                  "channel not found",
	ChannelExists:              "channel already exists",
	ChannelNotFound:            "channel not found in domain",
	ChannelInvalidName:         "invalid channel name",
	ChannelInvalidAttr:         "invalid channel attribute",
	ChannelSubBufferSize:       "invalid sub-buffer size",
	ChannelSubBufferCount:      "invalid sub-buffer count",
	ChannelOverwriteDiscardMix: "cannot mix overwrite and discard channels",
	ChannelBufferRegistry:      "buffer registry error",

	EventRuleInvalid:               "invalid event rule",
	EventRulePatternEmpty:          "event rule pattern must not be empty",
	EventRuleExists:                "event rule already exists",
	EventRuleNotFound:              "event rule not found",
	EventRuleFilterInvalid:         "invalid filter expression",
	EventRuleFilterExists:          "filter already set on event rule",
	EventRuleFilterNotSet:          "no filter set on event rule",
	EventRuleExclusionUnsupported:  "exclusions not supported for this domain",
	EventRuleExclusionInvalidName:  "invalid exclusion name",
	EventRuleExclusionExists:       "exclusion already present",
	EventRuleLogLevelUnsupported:   "log level rules not supported for this domain",
	EventRuleLogLevelInvalid:       "invalid log level for domain",
	EventRuleLocationUnset:         "probe location not set",
	EventRuleEventNameUnset:        "probe event name not set",
	EventRuleSerializeShortBuffer:  "serialization buffer too short",
	EventRuleSerializeBadLength:    "serialized length field exceeds remaining buffer",
	EventRuleSerializeUnterminated: "serialized string is not NUL-terminated within its length",
	EventRuleHashMismatch:          "hash mismatch for structurally equal rules",
	EventRuleUnsupportedVariant:    "unsupported event rule variant",

	FilterCompileFailed: "filter bytecode compilation failed",
	FilterBytecodeTooBig: "compiled filter bytecode exceeds the size limit",
	FilterNoBytecode:    "no compiled bytecode available",

	KernNoSyscall:      "syscall table lookup failed",
	KernEventExists:    "kernel event already enabled",
	KernEventNotFound:  "kernel event not found",
	KernSessionFail:    "kernel session creation failed",
	KernChannelFail:    "kernel channel creation failed",
	KernChannelExists:  "kernel channel already exists",
	KernChannelNotFound: "kernel channel not found",
	KernContextFail:    "kernel context addition failed",
	KernContextExists:  "kernel context already added",
	KernEnableFail:     "kernel event enable failed",
	KernDisableFail:    "kernel event disable failed",
	KernNoKernelModule: "kernel tracer module not loaded",
	KernVersion:        "incompatible kernel tracer version",

	USTNoSession:      "user-space session not found",
	USTSessionFail:    "user-space session creation failed",
	USTChannelFail:    "user-space channel creation failed",
	USTChannelExists:  "user-space channel already exists",
	USTChannelNotFound: "user-space channel not found",
	USTEventEnableFail: "user-space event enable failed",
	USTEventNotFound:  "user-space event not found",
	USTContextExists:  "user-space context already added",
	USTRegisterFail:   "user-space application registration failed",
	USTListFail:       "user-space event listing failed",
	USTAppNotFound:    "user-space application not found",
	USTAppSockError:   "user-space application socket error",

	RelaydConnectFail:  "relay daemon connection failed",
	RelaydVersionFail:  "relay daemon protocol version mismatch",
	RelaydDisconnected: "relay daemon disconnected",
	RelaydTimeout:      "relay daemon request timed out",

	RotationPending:             "a rotation is already pending for this session",
	RotationNotAvailable:        "rotation not available for this session",
	RotationScheduleSet:         "rotation schedule already set",
	RotationScheduleNotSet:      "no rotation schedule set",
	RotationWrongState:          "session is in the wrong state to rotate",
	RotationMultipleAfterDestroy: "rotation requested after session destroy",
	RotationInvalidSchedule:     "invalid rotation schedule",

	TriggerExists:                       "trigger with this name already exists for this owner",
	TriggerNotFound:                     "trigger not found",
	TriggerInvalid:                      "invalid trigger definition",
	TriggerPermissionDenied:             "permission denied for trigger",
	EventNotifierExists:                 "event notifier already registered",
	EventNotifierNotFound:               "event notifier not found",
	EventNotifierNoIndexAvailable:       "no error-counter index available",
	EventNotifierGroupFail:              "event notifier group registration failed",
	EventNotifierErrorAccountingNotInit: "event notifier error accounting not initialized",

	SaveIOFail:            "failed to write session configuration",
	LoadIOFail:             "failed to read session configuration",
	SaveFormatUnsupported:  "unsupported session save format",
	LoadInvalidConfig:      "invalid session configuration file",

	EPerm:            "operation not permitted",
	NeedRootSessiond: "this operation requires a root session daemon",
	BadSocket:        "invalid or closed socket",

	AppRegQueueFull:      "application registration queue is full",
	AppRegRollback:       "application registration rolled back",
	AppRegDispatchClosed: "application registration dispatch is shut down",
	AppRegSocketCredFail: "failed to read peer credentials from application socket",

	SupervisorAlreadyRunning: "supervisor is already running",
	SupervisorNotRunning:     "supervisor is not running",
	SupervisorJoinTimeout:    "worker thread join timed out",
}

// String returns the canonical human-readable message for k.
func (k ErrorKind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "UNKNOWN_ERROR_KIND"
}

// Error wraps an ErrorKind with optional context, carried across every
// cross-component return value.
type Error struct {
	Kind ErrorKind
	Op   string // component/operation that produced the error, e.g. "command.EnableEventRule"
	Err  error  // wrapped underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error for kind k in operation op.
func New(op string, k ErrorKind) *Error {
	return &Error{Kind: k, Op: op}
}

// Wrap creates an *Error for kind k in operation op, wrapping cause.
func Wrap(op string, k ErrorKind, cause error) *Error {
	return &Error{Kind: k, Op: op, Err: cause}
}

// Of extracts the ErrorKind from err, returning Unknown if err is nil
// or not an *Error.
func Of(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return Unknown
	}
	return Unknown
}

// Is reports whether err carries ErrorKind k.
func Is(err error, k ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// IsFatal reports whether k should trigger a graceful daemon shutdown:
// FATAL triggers a logged message and a graceful shutdown rather than
// an immediate abort.
func (k ErrorKind) IsFatal() bool {
	return k == Fatal
}
