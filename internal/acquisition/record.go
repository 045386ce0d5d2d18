package acquisition

import (
	"fmt"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/oklog/ulid/v2"
)

// RecordStatus is a snapshot of the record controller
type RecordStatus struct {
	State      RecordState        `json:"state"`
	SequenceID string             `json:"sequence_id,omitempty"`
	Target     int                `json:"target"`
	Continuous bool               `json:"continuous"`
	Captured   int                `json:"captured"`
	Sequence   []device.RequestID `json:"sequence"`
	Cursor     int                `json:"cursor"`
	Reason     SequenceReason     `json:"reason,omitempty"`
}

// RecordController governs bounded sequence capture on top of the engine.
// It owns the RecordedSequence but never talks to the device: methods that
// drop entries return them so the caller can release its record hold.
type RecordController struct {
	state      RecordState
	id         string
	target     int
	continuous bool
	captured   int
	seq        []device.RequestID
	cursor     int
	reason     SequenceReason

	// implicitLive is set when starting the recording also started live mode
	implicitLive bool
}

// NewRecordController creates an idle controller
func NewRecordController() *RecordController {
	return &RecordController{cursor: -1}
}

func newSequenceID() string {
	return ulid.Make().String()
}

// Start clears the previous sequence and begins recording up to target
// frames. It returns the ids dropped from the previous sequence.
func (r *RecordController) Start(target int, continuous bool) ([]device.RequestID, error) {
	if target < 1 {
		return nil, fmt.Errorf("%w: record sequence size must be at least 1, got %d", ErrInvalidConfig, target)
	}
	dropped := r.seq
	r.seq = nil
	r.state = RecordRecording
	r.id = newSequenceID()
	r.target = target
	r.continuous = continuous
	r.captured = 0
	r.cursor = -1
	r.reason = ""
	r.implicitLive = false
	return dropped, nil
}

// Recording reports whether frames are currently accepted
func (r *RecordController) Recording() bool { return r.state == RecordRecording }

// State returns the current state
func (r *RecordController) State() RecordState { return r.state }

// Accept appends a frame while recording. In continuous mode the oldest
// entries beyond the target are evicted; in one-shot mode reaching the target
// finishes the sequence and done is true.
func (r *RecordController) Accept(id device.RequestID) (evicted []device.RequestID, done bool) {
	if r.state != RecordRecording {
		return nil, false
	}
	r.seq = append(r.seq, id)
	r.captured++

	if r.continuous {
		for len(r.seq) > r.target {
			evicted = append(evicted, r.seq[0])
			r.seq = r.seq[1:]
		}
		return evicted, false
	}

	if len(r.seq) >= r.target {
		r.finish(ReasonComplete)
		return nil, true
	}
	return nil, false
}

// Finish ends a running recording early, keeping the partial sequence. It
// returns false when nothing was recording.
func (r *RecordController) Finish(reason SequenceReason) bool {
	if r.state != RecordRecording {
		return false
	}
	r.finish(reason)
	return true
}

func (r *RecordController) finish(reason SequenceReason) {
	r.state = RecordDone
	r.reason = reason
	if len(r.seq) > 0 {
		r.cursor = 0
	}
}

// Free drops the whole sequence and returns to Idle. The returned ids are
// every entry that was held.
func (r *RecordController) Free() []device.RequestID {
	dropped := r.seq
	r.seq = nil
	r.state = RecordIdle
	r.captured = 0
	r.cursor = -1
	r.reason = ""
	r.implicitLive = false
	return dropped
}

// Remove drops a single id from the sequence
func (r *RecordController) Remove(id device.RequestID) bool {
	for i, s := range r.seq {
		if s == id {
			r.seq = append(r.seq[:i], r.seq[i+1:]...)
			if i < r.cursor {
				r.cursor--
			}
			if r.cursor >= len(r.seq) {
				r.cursor = len(r.seq) - 1
			}
			return true
		}
	}
	return false
}

// Contains reports whether id is part of the sequence
func (r *RecordController) Contains(id device.RequestID) bool {
	for _, s := range r.seq {
		if s == id {
			return true
		}
	}
	return false
}

// Select moves the sequence cursor. Next and Prev stop at the ends.
func (r *RecordController) Select(sel Selector) (device.RequestID, error) {
	if len(r.seq) == 0 {
		return device.NoRequest, ErrEmptySequence
	}
	cur := r.cursor
	switch sel.kind {
	case selectNext:
		cur++
	case selectPrev:
		cur--
	default:
		if sel.index < 0 || sel.index >= len(r.seq) {
			return device.NoRequest, fmt.Errorf("%w: %d not in [0,%d)", ErrSequenceIndex, sel.index, len(r.seq))
		}
		cur = sel.index
	}
	if cur < 0 {
		cur = 0
	}
	if cur >= len(r.seq) {
		cur = len(r.seq) - 1
	}
	r.cursor = cur
	return r.seq[cur], nil
}

// Sequence returns a copy of the recorded ids in capture order
func (r *RecordController) Sequence() []device.RequestID {
	out := make([]device.RequestID, len(r.seq))
	copy(out, r.seq)
	return out
}

// ID returns the ULID of the current sequence
func (r *RecordController) ID() string { return r.id }

// Status returns a snapshot of the controller
func (r *RecordController) Status() RecordStatus {
	return RecordStatus{
		State:      r.state,
		SequenceID: r.id,
		Target:     r.target,
		Continuous: r.continuous,
		Captured:   r.captured,
		Sequence:   r.Sequence(),
		Cursor:     r.cursor,
		Reason:     r.reason,
	}
}
