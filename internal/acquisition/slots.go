package acquisition

import "github.com/bryanchriswhite/propview/internal/device"

// SlotState is the bookkeeping of one capture setting
type SlotState struct {
	Index int    `json:"index"`
	Name  string `json:"name"`

	// Pending is the most recently submitted request still in flight
	Pending  device.RequestID `json:"pending"`
	InFlight int              `json:"in_flight"`

	LastFrame           uint64 `json:"last_frame"`
	Failed              bool   `json:"failed"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	Completed uint64 `json:"completed"`
	Skipped   uint64 `json:"skipped"`
	Failures  uint64 `json:"failures"`
}

// SlotTable tracks one SlotState per device setting. It is not safe for
// concurrent use; the engine guards it with its lock.
type SlotTable struct {
	slots []SlotState
}

// NewSlotTable creates a slot for every setting
func NewSlotTable(settings []device.Setting) *SlotTable {
	t := &SlotTable{slots: make([]SlotState, len(settings))}
	for i, s := range settings {
		t.slots[i] = SlotState{Index: i, Name: s.Name}
	}
	return t
}

// Len returns the number of slots
func (t *SlotTable) Len() int { return len(t.slots) }

func (t *SlotTable) slot(setting int) *SlotState {
	if setting < 0 || setting >= len(t.slots) {
		return nil
	}
	return &t.slots[setting]
}

// InFlight returns the number of requests in flight for a setting
func (t *SlotTable) InFlight(setting int) int {
	if s := t.slot(setting); s != nil {
		return s.InFlight
	}
	return 0
}

// Submitted records a new request for a setting
func (t *SlotTable) Submitted(setting int, id device.RequestID) {
	if s := t.slot(setting); s != nil {
		s.Pending = id
		s.InFlight++
	}
}

func (s *SlotState) landed() {
	if s.InFlight > 0 {
		s.InFlight--
	}
	if s.InFlight == 0 {
		s.Pending = device.NoRequest
	}
}

// Completed records a successful completion and clears the failure streak
func (t *SlotTable) Completed(setting int, frame uint64) {
	if s := t.slot(setting); s != nil {
		s.landed()
		s.LastFrame = frame
		s.Failed = false
		s.ConsecutiveFailures = 0
		s.Completed++
	}
}

// Skipped records a discarded incomplete frame
func (t *SlotTable) Skipped(setting int) {
	if s := t.slot(setting); s != nil {
		s.landed()
		s.Skipped++
	}
}

// Failed records a failed request and returns the setting's failure streak
func (t *SlotTable) Failed(setting int) int {
	s := t.slot(setting)
	if s == nil {
		return 0
	}
	s.landed()
	s.Failed = true
	s.ConsecutiveFailures++
	s.Failures++
	return s.ConsecutiveFailures
}

// Cancelled records a request that was unlocked before it completed
func (t *SlotTable) Cancelled(setting int) {
	if s := t.slot(setting); s != nil {
		s.landed()
	}
}

// AllFailing reports whether every setting has failed at least threshold
// times in a row
func (t *SlotTable) AllFailing(threshold int) bool {
	if len(t.slots) == 0 {
		return false
	}
	for _, s := range t.slots {
		if s.ConsecutiveFailures < threshold {
			return false
		}
	}
	return true
}

// Reset forgets all pending requests and failure streaks. Counters are kept.
func (t *SlotTable) Reset() {
	for i := range t.slots {
		s := &t.slots[i]
		s.Pending = device.NoRequest
		s.InFlight = 0
		s.Failed = false
		s.ConsecutiveFailures = 0
	}
}

// Snapshot returns a copy of all slots
func (t *SlotTable) Snapshot() []SlotState {
	out := make([]SlotState, len(t.slots))
	copy(out, t.slots)
	return out
}
