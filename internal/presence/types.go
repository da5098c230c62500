package presence

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
)

// State is the reachability state of a monitored resource.
type State int

// State constants.
const (
	StateRequested State = iota
	StateAlive
	StateLostSignal
	StateDestroyed
)

// String returns the wire form of the state.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateAlive:
		return "alive"
	case StateLostSignal:
		return "lost_signal"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a wire string into a State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requested":
		return StateRequested, nil
	case "alive":
		return StateAlive, nil
	case "lost_signal":
		return StateLostSignal, nil
	case "destroyed":
		return StateDestroyed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Mode selects how a broker learns about its resource.
type Mode int

// Mode constants.
const (
	// ModeNonPresence polls the resource actively. New brokers start here.
	ModeNonPresence Mode = iota

	// ModePresence relies on device-wide presence events delivered from outside.
	ModePresence
)

// String returns the wire form of the mode.
func (m Mode) String() string {
	switch m {
	case ModePresence:
		return "presence"
	case ModeNonPresence:
		return "non_presence"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "presence":
		return ModePresence, nil
	case "non_presence", "nonpresence", "polling":
		return ModeNonPresence, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ResultCode is the outcome of a single probe as reported by the transport.
type ResultCode int

// ResultCode constants. ResultUnknown is the catch-all for anything the
// transport reports that is not listed here.
const (
	ResultUnknown ResultCode = iota
	ResultOK
	ResultContinue
	ResultResourceDeleted
	ResultInvalidRequestHandle
	ResultTimeout
	ResultCommError
	ResultPresenceStopped
	ResultPresenceTimeout
)

var resultNames = map[ResultCode]string{
	ResultUnknown:              "unknown",
	ResultOK:                   "ok",
	ResultContinue:             "continue",
	ResultResourceDeleted:      "resource_deleted",
	ResultInvalidRequestHandle: "invalid_request_handle",
	ResultTimeout:              "timeout",
	ResultCommError:            "comm_error",
	ResultPresenceStopped:      "presence_stopped",
	ResultPresenceTimeout:      "presence_timeout",
}

// String returns the wire form of the result code.
func (c ResultCode) String() string {
	if name, ok := resultNames[c]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int(c))
}

// ParseResultCode converts a wire string into a ResultCode.
// Unrecognised strings map to ResultUnknown; parsing never fails.
func ParseResultCode(s string) ResultCode {
	s = strings.ToLower(strings.TrimSpace(s))
	for code, name := range resultNames {
		if name == s {
			return code
		}
	}
	return ResultUnknown
}

// StateForResult maps a probe result to the state it implies.
//
// Success codes mean the resource is alive, a deletion means it is gone for
// good, and every other code (including values this package has never heard
// of) means the signal was lost.
func StateForResult(code ResultCode) State {
	switch code {
	case ResultOK, ResultContinue:
		return StateAlive
	case ResultResourceDeleted:
		return StateDestroyed
	case ResultInvalidRequestHandle, ResultTimeout, ResultCommError,
		ResultPresenceStopped, ResultPresenceTimeout:
		return StateLostSignal
	default:
		return StateLostSignal
	}
}

// BrokerID identifies a broker in a Table. IDs are never reused.
type BrokerID uint64

// RequesterID identifies one subscriber registration on a broker.
type RequesterID string

// Callback receives the new state after every transition.
type Callback func(State)

// Resource is a remote resource that can be probed.
//
// RequestGet must invoke cb exactly once per call, asynchronously.
type Resource interface {
	RequestGet(cb func(ResultCode))
	HostAddress() string
	URI() string
}

// Timers is the expiry timer service used to arm timeouts and schedule polls.
type Timers interface {
	Post(delay time.Duration, fn func()) expiry.Handle
	Cancel(h expiry.Handle) bool
}

// DeviceRegistry groups brokers by the host of their resource.
//
// Register finds or creates the device for host and adds the broker to it.
// Unregister removes the broker and drops the device once it is empty.
// Implementations must make each call atomic.
type DeviceRegistry interface {
	Register(host string, id BrokerID)
	Unregister(host string, id BrokerID)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the protocol timings.
type Config struct {
	// SafeInterval is the probe cadence and the delay of every armed timeout.
	SafeInterval time.Duration

	// SafeTimeout is the grace window after a response during which an
	// expiring timer is treated as a race rather than a loss. Timeouts fire
	// SafeInterval after their probe, so a window shorter than SafeInterval
	// is raised to it.
	SafeTimeout time.Duration

	// DeviceTimeout is how long a device stays alive without a fresh
	// device-wide presence event. Zero disables the device timeout.
	DeviceTimeout time.Duration
}

// Default protocol timings.
const (
	DefaultSafeInterval  = 5 * time.Second
	DefaultSafeTimeout   = 5 * time.Second
	DefaultDeviceTimeout = 30 * time.Second
)

// DefaultConfig returns the default protocol timings.
func DefaultConfig() Config {
	return Config{
		SafeInterval:  DefaultSafeInterval,
		SafeTimeout:   DefaultSafeTimeout,
		DeviceTimeout: DefaultDeviceTimeout,
	}
}

// withDefaults fills zero durations with defaults and keeps SafeTimeout at
// least SafeInterval.
func (c Config) withDefaults() Config {
	if c.SafeInterval <= 0 {
		c.SafeInterval = DefaultSafeInterval
	}
	if c.SafeTimeout <= 0 {
		c.SafeTimeout = DefaultSafeTimeout
	}
	c.SafeTimeout = max(c.SafeTimeout, c.SafeInterval)
	return c
}
