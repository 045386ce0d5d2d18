// Package acquisition drives a camera's capture request queue: it submits
// requests, drains completions on a dedicated goroutine, and hands completed
// buffers to display surfaces and sequence recording while guaranteeing every
// request is eventually unlocked back to the device.
package acquisition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig is returned when a configuration value is rejected.
	// The engine state is left untouched.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotRunning is returned by commands that need a started engine
	ErrNotRunning = errors.New("acquisition engine not running")

	// ErrAlreadyRunning is returned by Start on a started engine
	ErrAlreadyRunning = errors.New("acquisition engine already running")

	// ErrRequestInUse is returned when a non-forced unlock targets a request
	// that is still in flight, recorded or on screen
	ErrRequestInUse = errors.New("request still in use")

	// ErrEmptySequence is returned when no recorded sequence is available
	ErrEmptySequence = errors.New("no recorded sequence")

	// ErrSequenceIndex is returned for a sequence position out of range
	ErrSequenceIndex = errors.New("sequence index out of range")

	// ErrUnknownSurface is returned for a display surface out of range
	ErrUnknownSurface = errors.New("unknown display surface")
)

// LiveState is the state of live acquisition
type LiveState int

const (
	LiveStopped LiveState = iota
	LiveStarting
	LiveRunning
	LiveStopping
)

func (s LiveState) String() string {
	switch s {
	case LiveStopped:
		return "stopped"
	case LiveStarting:
		return "starting"
	case LiveRunning:
		return "live"
	case LiveStopping:
		return "stopping"
	default:
		return fmt.Sprintf("live_state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s LiveState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RecordState is the state of sequence recording
type RecordState int

const (
	RecordIdle RecordState = iota
	RecordRecording
	RecordDone
)

func (s RecordState) String() string {
	switch s {
	case RecordIdle:
		return "idle"
	case RecordRecording:
		return "recording"
	case RecordDone:
		return "done"
	default:
		return fmt.Sprintf("record_state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s RecordState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UsageMode selects how capture settings are used for new requests
type UsageMode string

const (
	// UsageManual submits every request with the selected setting
	UsageManual UsageMode = "manual"
	// UsageAutomatic rotates through all settings round-robin
	UsageAutomatic UsageMode = "automatic"
)

// ParseUsageMode parses a usage mode name
func ParseUsageMode(s string) (UsageMode, error) {
	switch m := UsageMode(strings.ToLower(strings.TrimSpace(s))); m {
	case UsageManual, UsageAutomatic:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown usage mode %q", ErrInvalidConfig, s)
	}
}

// SequenceReason tells why a recorded sequence became ready
type SequenceReason string

const (
	ReasonComplete SequenceReason = "complete"
	ReasonStopped  SequenceReason = "stopped"
	ReasonAborted  SequenceReason = "aborted"
)

type selectorKind int

const (
	selectIndex selectorKind = iota
	selectNext
	selectPrev
)

// Selector picks an entry of the recorded sequence
type Selector struct {
	kind  selectorKind
	index int
}

// SelectIndex selects the entry at position i
func SelectIndex(i int) Selector { return Selector{kind: selectIndex, index: i} }

// SelectNext selects the entry after the current one
func SelectNext() Selector { return Selector{kind: selectNext} }

// SelectPrev selects the entry before the current one
func SelectPrev() Selector { return Selector{kind: selectPrev} }

func (s Selector) String() string {
	switch s.kind {
	case selectNext:
		return "next"
	case selectPrev:
		return "prev"
	default:
		return fmt.Sprintf("index(%d)", s.index)
	}
}
