package acquisition

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/device"
)

// EventKind names a notification
type EventKind string

const (
	EventImageReady      EventKind = "image_ready"
	EventImageSkipped    EventKind = "image_skipped"
	EventImageTimeout    EventKind = "image_timeout"
	EventSequenceReady   EventKind = "sequence_ready"
	EventLiveModeAborted EventKind = "live_mode_aborted"
	EventRequestFailed   EventKind = "request_failed"
	EventCaptureError    EventKind = "capture_error"
	EventDeviceLost      EventKind = "device_lost"
)

// Event is an asynchronous notification from the capture loop
type Event struct {
	Kind    EventKind        `json:"kind"`
	Request device.RequestID `json:"request_id,omitempty"`
	Setting int              `json:"setting"`
	Reason  SequenceReason   `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
	Time    time.Time        `json:"time"`
}

// notifier fans events out to subscribers without ever blocking the sender
type notifier struct {
	mu        sync.RWMutex
	listeners []chan Event
	buffer    int
	dropped   uint64
}

func newNotifier(buffer int) *notifier {
	if buffer < 1 {
		buffer = 64
	}
	return &notifier{buffer: buffer}
}

func (n *notifier) subscribe() chan Event {
	ch := make(chan Event, n.buffer)
	n.mu.Lock()
	n.listeners = append(n.listeners, ch)
	n.mu.Unlock()
	return ch
}

func (n *notifier) unsubscribe(ch chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, listener := range n.listeners {
		if listener == ch {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (n *notifier) notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, listener := range n.listeners {
		select {
		case listener <- ev:
		default:
			n.dropped++
		}
	}
}

func (n *notifier) droppedCount() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dropped
}
