package acquisition

import (
	"sort"

	"github.com/bryanchriswhite/propview/internal/device"
)

// holders records who keeps a device request locked. A request goes back to
// the device only once nobody holds it.
type holders struct {
	setting  int
	inFlight bool
	display  int
	recorded bool
}

func (h *holders) idle() bool {
	return !h.inFlight && h.display == 0 && !h.recorded
}

// ledger is the engine's view of every request locked at the device
type ledger struct {
	entries  map[device.RequestID]*holders
	inFlight int
}

func newLedger() *ledger {
	return &ledger{entries: make(map[device.RequestID]*holders)}
}

func (l *ledger) track(id device.RequestID, setting int) {
	l.entries[id] = &holders{setting: setting, inFlight: true}
	l.inFlight++
}

func (l *ledger) get(id device.RequestID) (*holders, bool) {
	h, ok := l.entries[id]
	return h, ok
}

// land clears the in-flight hold of a completed or cancelled request. It
// returns false for requests that are unknown or no longer in flight.
func (l *ledger) land(id device.RequestID) (*holders, bool) {
	h, ok := l.entries[id]
	if !ok || !h.inFlight {
		return nil, false
	}
	h.inFlight = false
	l.inFlight--
	return h, true
}

func (l *ledger) remove(id device.RequestID) {
	if h, ok := l.entries[id]; ok {
		if h.inFlight {
			l.inFlight--
		}
		delete(l.entries, id)
	}
}

func (l *ledger) len() int { return len(l.entries) }

func (l *ledger) inFlightIDs() []device.RequestID {
	ids := make([]device.RequestID, 0, l.inFlight)
	for id, h := range l.entries {
		if h.inFlight {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

func (l *ledger) ids() []device.RequestID {
	ids := make([]device.RequestID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []device.RequestID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
