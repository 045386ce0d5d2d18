package acquisition

import (
	"fmt"

	"github.com/bryanchriswhite/propview/internal/device"
)

// SurfaceState is a snapshot of one display surface queue
type SurfaceState struct {
	Surface int                `json:"surface"`
	Pending []device.RequestID `json:"pending"`
	Current device.RequestID   `json:"current"`
}

type surface struct {
	queue []device.RequestID
	cur   int // index into queue, -1 when nothing is shown
}

func (s *surface) current() device.RequestID {
	if s.cur < 0 || s.cur >= len(s.queue) {
		return device.NoRequest
	}
	return s.queue[s.cur]
}

func (s *surface) indexOf(id device.RequestID) int {
	for i, q := range s.queue {
		if q == id {
			return i
		}
	}
	return -1
}

func (s *surface) removeAt(i int) {
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	switch {
	case len(s.queue) == 0:
		s.cur = -1
	case i < s.cur:
		s.cur--
	case i == s.cur && s.cur >= len(s.queue):
		s.cur = len(s.queue) - 1
	}
}

// DisplaySequencer keeps one bounded queue of completed requests per display
// surface. The entry a surface currently shows stays in its queue until the
// surface is advanced past it; older pending entries are evicted first when a
// queue grows beyond its depth.
//
// It never talks to the device. Methods that drop entries return them so the
// caller can release its display hold.
type DisplaySequencer struct {
	surfaces []*surface
	depth    int
}

// MinDisplayDepth is the smallest surface queue: the shown entry plus one
// pending entry
const MinDisplayDepth = 2

// NewDisplaySequencer creates n surfaces holding at most depth entries each
func NewDisplaySequencer(n, depth int) *DisplaySequencer {
	if n < 1 {
		n = 1
	}
	if depth < MinDisplayDepth {
		depth = MinDisplayDepth
	}
	d := &DisplaySequencer{depth: depth, surfaces: make([]*surface, n)}
	for i := range d.surfaces {
		d.surfaces[i] = &surface{cur: -1}
	}
	return d
}

// Surfaces returns the number of surfaces
func (d *DisplaySequencer) Surfaces() int { return len(d.surfaces) }

// Depth returns the per-surface bound
func (d *DisplaySequencer) Depth() int { return d.depth }

func (d *DisplaySequencer) surface(i int) (*surface, error) {
	if i < 0 || i >= len(d.surfaces) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSurface, i)
	}
	return d.surfaces[i], nil
}

// Route returns the surface a frame of the given setting is shown on
func (d *DisplaySequencer) Route(setting int) int {
	if setting < 0 {
		setting = -setting
	}
	return setting % len(d.surfaces)
}

// Push appends a completed request to a surface queue and trims it. The
// first entry pushed onto an empty surface becomes the shown entry.
func (d *DisplaySequencer) Push(i int, id device.RequestID) ([]device.RequestID, error) {
	s, err := d.surface(i)
	if err != nil {
		return nil, err
	}
	s.queue = append(s.queue, id)
	if s.cur < 0 {
		s.cur = len(s.queue) - 1
	}
	return d.trim(s), nil
}

// Show makes id the shown entry of a surface, appending it when it is not
// queued yet. added reports whether the queue gained a new reference.
func (d *DisplaySequencer) Show(i int, id device.RequestID) (added bool, evicted []device.RequestID, err error) {
	s, err := d.surface(i)
	if err != nil {
		return false, nil, err
	}
	if idx := s.indexOf(id); idx >= 0 {
		s.cur = idx
		return false, nil, nil
	}
	s.queue = append(s.queue, id)
	s.cur = len(s.queue) - 1
	return true, d.trim(s), nil
}

// Trim enforces the depth bound on every surface and returns the evicted ids
func (d *DisplaySequencer) Trim() []device.RequestID {
	var evicted []device.RequestID
	for _, s := range d.surfaces {
		evicted = append(evicted, d.trim(s)...)
	}
	return evicted
}

func (d *DisplaySequencer) trim(s *surface) []device.RequestID {
	var evicted []device.RequestID
	for len(s.queue) > d.depth {
		// oldest entry that is not on screen
		i := 0
		if i == s.cur {
			i = 1
		}
		evicted = append(evicted, s.queue[i])
		s.removeAt(i)
	}
	return evicted
}

// Advance moves the shown entry of a surface by step positions, clamped to
// the queue. No buffer is released.
func (d *DisplaySequencer) Advance(i, step int) (device.RequestID, error) {
	s, err := d.surface(i)
	if err != nil {
		return device.NoRequest, err
	}
	if len(s.queue) == 0 {
		return device.NoRequest, nil
	}
	cur := s.cur + step
	if cur < 0 {
		cur = 0
	}
	if cur >= len(s.queue) {
		cur = len(s.queue) - 1
	}
	s.cur = cur
	return s.current(), nil
}

// Current returns the entry a surface shows
func (d *DisplaySequencer) Current(i int) (device.RequestID, error) {
	s, err := d.surface(i)
	if err != nil {
		return device.NoRequest, err
	}
	return s.current(), nil
}

// IsShown reports whether any surface currently shows id
func (d *DisplaySequencer) IsShown(id device.RequestID) bool {
	for _, s := range d.surfaces {
		if s.current() == id {
			return true
		}
	}
	return false
}

// Len returns the queue length of a surface
func (d *DisplaySequencer) Len(i int) int {
	s, err := d.surface(i)
	if err != nil {
		return 0
	}
	return len(s.queue)
}

// Remove drops id from every surface and returns how many references were
// dropped
func (d *DisplaySequencer) Remove(id device.RequestID) int {
	n := 0
	for _, s := range d.surfaces {
		if idx := s.indexOf(id); idx >= 0 {
			s.removeAt(idx)
			n++
		}
	}
	return n
}

// Clear empties every surface and returns all dropped references
func (d *DisplaySequencer) Clear() []device.RequestID {
	var out []device.RequestID
	for _, s := range d.surfaces {
		out = append(out, s.queue...)
		s.queue = nil
		s.cur = -1
	}
	return out
}

// Snapshot returns the state of every surface
func (d *DisplaySequencer) Snapshot() []SurfaceState {
	out := make([]SurfaceState, len(d.surfaces))
	for i, s := range d.surfaces {
		pending := make([]device.RequestID, len(s.queue))
		copy(pending, s.queue)
		out[i] = SurfaceState{Surface: i, Pending: pending, Current: s.current()}
	}
	return out
}
