// Package sim provides a simulated multi-setting camera implementing
// device.Device. It keeps a shared pool of request buffers, completes
// requests in submission order per setting after a per-setting latency, and
// can be paused to provoke wait timeouts.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/device"
)

// DriverName is the registry name of the simulated driver
const DriverName = "sim"

func init() {
	device.Register(DriverName, func(serial string) (device.Device, error) {
		if serial == "" || serial == "auto" {
			serial = "SIM0001"
		}
		return New(WithSerial(serial)), nil
	})
}

// ResultFunc decides how a request finishes. n counts completions of the
// setting, starting at 1.
type ResultFunc func(setting int, n uint64) device.Result

type request struct {
	id      device.RequestID
	setting int
	readyAt time.Time
	done    bool
	result  device.Result
	frame   uint64
	buf     *device.Buffer
}

// Camera is the simulated device
type Camera struct {
	mu sync.Mutex

	serial      string
	settings    []string
	width       int
	height      int
	bufferCount int
	latency     map[int]time.Duration
	resultFn    ResultFunc
	openErrs    int

	open    bool
	paused  bool
	nextID  device.RequestID
	frames  []uint64 // per-setting completion counter
	queue   []*request
	locked  map[device.RequestID]*request
	notify  chan struct{}
	history []int
	unlocks int
}

// Option configures a Camera
type Option func(*Camera)

// WithSerial sets the reported serial number
func WithSerial(serial string) Option {
	return func(c *Camera) { c.serial = serial }
}

// WithSettings sets the names of the capture settings
func WithSettings(names ...string) Option {
	return func(c *Camera) {
		if len(names) > 0 {
			c.settings = names
		}
	}
}

// WithSize sets the image size in pixels
func WithSize(width, height int) Option {
	return func(c *Camera) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// WithBufferCount sets the size of the shared request buffer pool
func WithBufferCount(n int) Option {
	return func(c *Camera) {
		if n > 0 {
			c.bufferCount = n
		}
	}
}

// WithLatency sets how long requests of every setting take to complete
func WithLatency(d time.Duration) Option {
	return func(c *Camera) { c.latency[-1] = d }
}

// WithSettingLatency overrides the completion latency of one setting
func WithSettingLatency(setting int, d time.Duration) Option {
	return func(c *Camera) { c.latency[setting] = d }
}

// WithResultFunc injects request outcomes
func WithResultFunc(f ResultFunc) Option {
	return func(c *Camera) { c.resultFn = f }
}

// WithOpenFailures makes the first n calls to Open fail
func WithOpenFailures(n int) Option {
	return func(c *Camera) { c.openErrs = n }
}

// New creates a closed simulated camera
func New(opts ...Option) *Camera {
	c := &Camera{
		serial:      "SIM0001",
		settings:    []string{"Base"},
		width:       640,
		height:      480,
		bufferCount: 16,
		latency:     map[int]time.Duration{-1: 0},
		locked:      make(map[device.RequestID]*request),
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.frames = make([]uint64, len(c.settings))
	return c
}

func (c *Camera) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Open implements device.Device
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErrs > 0 {
		c.openErrs--
		return fmt.Errorf("sim %s: transport busy", c.serial)
	}
	c.open = true
	return nil
}

// Close implements device.Device
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
	c.queue = nil
	c.locked = make(map[device.RequestID]*request)
	c.wake()
	return nil
}

// Info implements device.Device
func (c *Camera) Info() device.Info {
	return device.Info{Driver: DriverName, Serial: c.serial, Model: "SimCam-8M"}
}

// Settings implements device.Device
func (c *Camera) Settings() ([]device.Setting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, device.ErrClosed
	}
	out := make([]device.Setting, len(c.settings))
	for i, name := range c.settings {
		out[i] = device.Setting{Index: i, Name: name, Capacity: c.bufferCount}
	}
	return out, nil
}

func (c *Camera) latencyOf(setting int) time.Duration {
	if d, ok := c.latency[setting]; ok {
		return d
	}
	return c.latency[-1]
}

// SubmitRequest implements device.Device
func (c *Camera) SubmitRequest(setting int) (device.RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return device.NoRequest, device.ErrClosed
	}
	if setting < 0 || setting >= len(c.settings) {
		return device.NoRequest, fmt.Errorf("%w: %d", device.ErrUnknownSetting, setting)
	}
	if len(c.locked) >= c.bufferCount {
		return device.NoRequest, device.ErrNoFreeBuffer
	}

	c.nextID++
	r := &request{
		id:      c.nextID,
		setting: setting,
		readyAt: time.Now().Add(c.latencyOf(setting)),
	}
	c.locked[r.id] = r
	c.queue = append(c.queue, r)
	c.history = append(c.history, setting)
	c.wake()
	return r.id, nil
}

// nextReadyLocked pops the first request that may complete now. Requests of
// one setting complete strictly in submission order.
func (c *Camera) nextReadyLocked(now time.Time) (*request, time.Time) {
	var wakeAt time.Time
	blocked := make(map[int]bool)
	for i, r := range c.queue {
		if blocked[r.setting] {
			continue
		}
		if !r.readyAt.After(now) {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return r, wakeAt
		}
		blocked[r.setting] = true
		if wakeAt.IsZero() || r.readyAt.Before(wakeAt) {
			wakeAt = r.readyAt
		}
	}
	return nil, wakeAt
}

func (c *Camera) completeLocked(r *request) {
	c.frames[r.setting]++
	r.frame = c.frames[r.setting]
	r.done = true
	r.result = device.ResultOK
	if c.resultFn != nil {
		r.result = c.resultFn(r.setting, r.frame)
	}

	pix := make([]byte, c.width*c.height)
	for y := 0; y < c.height; y++ {
		row := pix[y*c.width : (y+1)*c.width]
		for x := range row {
			row[x] = byte(x + y + int(r.frame))
		}
	}
	r.buf = &device.Buffer{
		Request:     r.id,
		Setting:     r.setting,
		FrameNumber: r.frame,
		Width:       c.width,
		Height:      c.height,
		Pixels:      pix,
		Timestamp:   time.Now(),
	}
}

// WaitForCompletion implements device.Device
func (c *Camera) WaitForCompletion(timeout time.Duration) (device.RequestID, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if !c.open {
			c.mu.Unlock()
			return device.NoRequest, device.ErrClosed
		}

		var wakeAt time.Time
		if !c.paused {
			var r *request
			r, wakeAt = c.nextReadyLocked(time.Now())
			if r != nil {
				c.completeLocked(r)
				c.mu.Unlock()
				return r.id, nil
			}
		}
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return device.NoRequest, device.ErrTimeout
		}
		wait := remaining
		if !wakeAt.IsZero() {
			if until := time.Until(wakeAt); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-c.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Unlock implements device.Device. Unlocking a queued request cancels it.
func (c *Camera) Unlock(id device.RequestID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return device.ErrClosed
	}
	r, ok := c.locked[id]
	if !ok {
		return fmt.Errorf("%w: %d", device.ErrUnknownRequest, id)
	}
	delete(c.locked, id)
	if !r.done {
		for i, q := range c.queue {
			if q.id == id {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	}
	c.unlocks++
	return nil
}

// RequestResult implements device.Device
func (c *Camera) RequestResult(id device.RequestID) (device.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.locked[id]
	if !ok || !r.done {
		return device.ResultFailed, fmt.Errorf("%w: %d", device.ErrUnknownRequest, id)
	}
	return r.result, nil
}

// RequestBuffer implements device.Device
func (c *Camera) RequestBuffer(id device.RequestID) (*device.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.locked[id]
	if !ok || !r.done {
		return nil, fmt.Errorf("%w: %d", device.ErrUnknownRequest, id)
	}
	return r.buf, nil
}

// Pause stops requests from completing until Resume is called
func (c *Camera) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume lets requests complete again
func (c *Camera) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.wake()
}

// Outstanding is the number of locked request buffers (submitted - unlocked)
func (c *Camera) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locked)
}

// Locked returns the sorted ids of all locked requests
func (c *Camera) Locked() []device.RequestID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]device.RequestID, 0, len(c.locked))
	for id := range c.locked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Submissions returns the setting index of every submitted request in order
func (c *Camera) Submissions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, len(c.history))
	copy(out, c.history)
	return out
}

// Unlocks counts successful Unlock calls
func (c *Camera) Unlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocks
}
