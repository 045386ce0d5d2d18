package acquisition

import (
	"fmt"
	"time"
)

// Configuration holds the engine settings. It is read by the capture loop on
// every iteration and may be changed while the loop runs.
type Configuration struct {
	// QueueDepth bounds the requests in flight: in total in manual mode,
	// per setting in automatic mode
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`

	UsageMode           UsageMode `json:"usage_mode" yaml:"usage_mode"`
	ContinuousRecording bool      `json:"continuous_recording" yaml:"continuous_recording"`
	ForwardIncomplete   bool      `json:"forward_incomplete" yaml:"forward_incomplete"`

	// WaitTimeout bounds each wait on the device completion queue
	WaitTimeout time.Duration `json:"wait_timeout" yaml:"wait_timeout"`

	// TimeoutAbortThreshold consecutive timeouts while live stop live mode
	TimeoutAbortThreshold int `json:"timeout_abort_threshold" yaml:"timeout_abort_threshold"`

	// FailureThreshold consecutive failures on every setting raise a
	// capture error
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	RecordSequenceSize     int `json:"record_sequence_size" yaml:"record_sequence_size"`
	MultiFrameSequenceSize int `json:"multi_frame_sequence_size" yaml:"multi_frame_sequence_size"`

	DisplaySurfaces   int `json:"display_surfaces" yaml:"display_surfaces"`
	DisplayQueueDepth int `json:"display_queue_depth" yaml:"display_queue_depth"`
}

// DefaultConfiguration returns the built-in engine defaults
func DefaultConfiguration() Configuration {
	return Configuration{
		QueueDepth:             4,
		UsageMode:              UsageManual,
		WaitTimeout:            500 * time.Millisecond,
		TimeoutAbortThreshold:  5,
		FailureThreshold:       3,
		RecordSequenceSize:     10,
		MultiFrameSequenceSize: 1,
		DisplaySurfaces:        1,
		DisplayQueueDepth:      2,
	}
}

// Validate checks every field. The returned error wraps ErrInvalidConfig.
func (c Configuration) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"queue_depth", c.QueueDepth},
		{"timeout_abort_threshold", c.TimeoutAbortThreshold},
		{"failure_threshold", c.FailureThreshold},
		{"record_sequence_size", c.RecordSequenceSize},
		{"multi_frame_sequence_size", c.MultiFrameSequenceSize},
		{"display_surfaces", c.DisplaySurfaces},
	}
	for _, p := range positive {
		if err := requirePositive(p.name, p.value); err != nil {
			return err
		}
	}
	if c.DisplayQueueDepth < MinDisplayDepth {
		return fmt.Errorf("%w: display_queue_depth must be at least %d, got %d", ErrInvalidConfig, MinDisplayDepth, c.DisplayQueueDepth)
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("%w: wait_timeout must be positive, got %s", ErrInvalidConfig, c.WaitTimeout)
	}
	if _, err := ParseUsageMode(string(c.UsageMode)); err != nil {
		return err
	}
	return nil
}

func requirePositive(name string, v int) error {
	if v < 1 {
		return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, name, v)
	}
	return nil
}
