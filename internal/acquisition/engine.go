package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options is handed to NewEngine and lives as long as the engine. There is no
// package level state; everything an engine needs comes through here.
type Options struct {
	// Config is the initial configuration. The zero value selects
	// DefaultConfiguration.
	Config Configuration

	// Logger defaults to the "engine" component logger
	Logger *zerolog.Logger

	// EventBuffer is the channel capacity of each subscriber
	EventBuffer int

	// WarnInterval rate limits repeated per-request warnings
	WarnInterval time.Duration
}

// EngineState is a consistent snapshot of the engine
type EngineState struct {
	SessionID       string         `json:"session_id"`
	Device          device.Info    `json:"device"`
	Running         bool           `json:"running"`
	Live            LiveState      `json:"live"`
	Record          RecordStatus   `json:"record"`
	SelectedSetting int            `json:"selected_setting"`
	SnapPending     int            `json:"snap_pending"`
	Config          Configuration  `json:"config"`
	Slots           []SlotState    `json:"slots"`
	Surfaces        []SurfaceState `json:"surfaces"`
}

// Engine owns the request submission policy of one open device and runs its
// capture loop. All mutable state sits behind mu; the loop never holds mu
// while it waits on the device.
type Engine struct {
	dev       device.Device
	log       *zerolog.Logger
	throttle  *logger.Throttle
	events    *notifier
	sessionID string

	mu            sync.Mutex
	cfg           Configuration
	running       bool
	live          LiveState
	selected      int
	cursor        int
	snapPending   int
	timeouts      int
	failureRaised bool
	settings      []device.Setting
	slots         *SlotTable
	ledger        *ledger
	displays      *DisplaySequencer
	record        *RecordController
	stats         Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a stopped engine for an opened device
func NewEngine(dev device.Device, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == (Configuration{}) {
		cfg = DefaultConfiguration()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("engine")
	}
	interval := opts.WarnInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &Engine{
		dev:       dev,
		log:       log,
		throttle:  logger.NewThrottle(interval, 5),
		events:    newNotifier(opts.EventBuffer),
		sessionID: uuid.NewString(),
		cfg:       cfg,
		slots:     NewSlotTable(nil),
		ledger:    newLedger(),
		displays:  NewDisplaySequencer(cfg.DisplaySurfaces, cfg.DisplayQueueDepth),
		record:    NewRecordController(),
	}, nil
}

// Start enumerates the device settings, builds the slot table and spawns the
// capture loop. The loop runs until Stop or until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done != nil {
		return ErrAlreadyRunning
	}

	settings, err := e.dev.Settings()
	if err != nil {
		return fmt.Errorf("enumerate capture settings: %w", err)
	}
	if len(settings) == 0 {
		return errors.New("device offers no capture settings")
	}

	e.settings = settings
	e.slots = NewSlotTable(settings)
	e.ledger = newLedger()
	e.displays = NewDisplaySequencer(e.cfg.DisplaySurfaces, e.cfg.DisplayQueueDepth)
	e.record = NewRecordController()
	if e.selected >= len(settings) {
		e.selected = 0
	}
	e.cursor = 0
	e.live = LiveStopped
	e.snapPending = 0
	e.timeouts = 0
	e.failureRaised = false

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.run(loopCtx, e.done)

	e.log.Info().
		Str("session", e.sessionID).
		Int("settings", len(settings)).
		Int("depth", e.cfg.QueueDepth).
		Str("usage_mode", string(e.cfg.UsageMode)).
		Msg("Acquisition engine started")
	return nil
}

// Stop signals the capture loop, waits for it to exit and returns once every
// request held by the engine has been unlocked. Stopping a stopped engine is
// a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	e.mu.Lock()
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	e.log.Info().Str("session", e.sessionID).Msg("Acquisition engine stopped")
	return nil
}

// Done is closed when the capture loop exits, either after Stop or because
// the device was lost. It is nil for an engine that was never started.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// SetLiveMode starts or stops live acquisition. Repeating the current mode is
// a no-op.
func (e *Engine) SetLiveMode(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if on {
		e.startLiveLocked()
	} else {
		e.stopLiveLocked(ReasonAborted)
	}
	return nil
}

func (e *Engine) startLiveLocked() bool {
	if e.live == LiveRunning || e.live == LiveStarting {
		return false
	}
	e.live = LiveStarting
	e.stats.LiveStarts++

	// stale requests left by a snap
	for _, id := range e.ledger.inFlightIDs() {
		e.cancelLocked(id)
	}
	e.snapPending = 0
	e.slots.Reset()
	e.timeouts = 0
	e.failureRaised = false

	n, err := e.requestImagesLocked(unbounded)
	if err != nil {
		e.throttledWarn().Err(err).Int("submitted", n).Msg("Could not seed request queue")
	}

	e.live = LiveRunning
	e.log.Info().Int("submitted", n).Int("depth", e.cfg.QueueDepth).Msg("Live mode on")
	return true
}

// stopLiveLocked drains every request in flight. A recording in progress is
// finished with reason and keeps its partial sequence.
func (e *Engine) stopLiveLocked(reason SequenceReason) bool {
	if e.live == LiveStopped || e.live == LiveStopping {
		return false
	}
	e.live = LiveStopping

	drained := 0
	for _, id := range e.ledger.inFlightIDs() {
		e.cancelLocked(id)
		drained++
	}
	e.timeouts = 0
	e.live = LiveStopped

	if e.record.Finish(reason) {
		e.record.implicitLive = false
		e.sequenceReadyLocked(reason)
	}
	e.log.Info().Int("drained", drained).Msg("Live mode off")
	return true
}

// RecordSequence starts recording RecordSequenceSize frames, clearing the
// previous sequence. Live mode is started when it is off. Calling it while a
// recording is running is a no-op.
func (e *Engine) RecordSequence() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordSequenceLocked()
}

func (e *Engine) recordSequenceLocked() error {
	if !e.running {
		return ErrNotRunning
	}
	if e.record.Recording() {
		return nil
	}
	if err := e.checkSequenceSizeLocked(e.cfg.RecordSequenceSize); err != nil {
		return err
	}

	dropped, err := e.record.Start(e.cfg.RecordSequenceSize, e.cfg.ContinuousRecording)
	if err != nil {
		return err
	}
	e.dropRecordLocked(dropped)

	e.log.Info().
		Str("sequence", e.record.ID()).
		Int("target", e.cfg.RecordSequenceSize).
		Bool("continuous", e.cfg.ContinuousRecording).
		Msg("Recording started")

	if e.live != LiveRunning {
		e.startLiveLocked()
		e.record.implicitLive = true
	}
	return nil
}

// SetRecordMode starts a recording, or stops the running one keeping the
// frames captured so far
func (e *Engine) SetRecordMode(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if on {
		return e.recordSequenceLocked()
	}
	if !e.running {
		return ErrNotRunning
	}

	implicit := e.record.implicitLive
	if e.record.Finish(ReasonStopped) {
		e.record.implicitLive = false
		e.sequenceReadyLocked(ReasonStopped)
		if implicit {
			e.stopLiveLocked(ReasonStopped)
		}
	}
	return nil
}

// FreeSequence releases the recorded sequence and returns the recorder to
// Idle. exclude, when part of the sequence, stays locked on display surface
// 0. It returns the number of entries dropped from the sequence.
func (e *Engine) FreeSequence(exclude device.RequestID) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return 0, ErrNotRunning
	}

	if exclude != device.NoRequest && e.record.Contains(exclude) {
		if h, ok := e.ledger.get(exclude); ok && h.display == 0 {
			added, evicted, err := e.displays.Show(0, exclude)
			if err != nil {
				return 0, err
			}
			if added {
				h.display++
			}
			e.dropDisplayLocked(evicted)
		}
	}

	implicit := e.record.Recording() && e.record.implicitLive
	dropped := e.record.Free()
	e.dropRecordLocked(dropped)
	if implicit {
		e.stopLiveLocked(ReasonStopped)
	}

	e.log.Info().Int("released", len(dropped)).Int64("exclude", int64(exclude)).Msg("Sequence freed")
	return len(dropped), nil
}

// SetCaptureQueueDepth changes how many requests may be in flight. Lowering
// it lets the excess drain naturally.
func (e *Engine) SetCaptureQueueDepth(n int) error {
	if err := requirePositive("queue_depth", n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.QueueDepth = n
	e.log.Debug().Int("depth", n).Msg("Capture queue depth changed")
	return nil
}

// SetCaptureSettingUsageMode switches between manual and automatic setting use
func (e *Engine) SetCaptureSettingUsageMode(mode UsageMode) error {
	m, err := ParseUsageMode(string(mode))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.UsageMode = m
	e.log.Debug().Str("usage_mode", string(m)).Msg("Capture setting usage mode changed")
	return nil
}

// SetMultiFrameSequenceSize sets how many frames Snap acquires
func (e *Engine) SetMultiFrameSequenceSize(n int) error {
	if err := requirePositive("multi_frame_sequence_size", n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MultiFrameSequenceSize = n
	return nil
}

// SetRecordSequenceSize sets the target of the next recording
func (e *Engine) SetRecordSequenceSize(n int) error {
	if err := requirePositive("record_sequence_size", n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkSequenceSizeLocked(n); err != nil {
		return err
	}
	e.cfg.RecordSequenceSize = n
	return nil
}

// maxSequenceLocked is the largest sequence the device can hold while the
// display queue keeps its own requests: the smallest setting capacity minus
// the display depth. Before Start there is no limit.
func (e *Engine) maxSequenceLocked() int {
	limit := unbounded
	for _, s := range e.settings {
		if s.Capacity > 0 && s.Capacity < limit {
			limit = s.Capacity
		}
	}
	if limit == unbounded {
		return limit
	}
	return limit - e.cfg.DisplayQueueDepth
}

func (e *Engine) checkSequenceSizeLocked(n int) error {
	if limit := e.maxSequenceLocked(); n > limit {
		return fmt.Errorf("%w: record_sequence_size %d exceeds the %d frames the device can hold", ErrInvalidConfig, n, limit)
	}
	return nil
}

// SetContinuousRecording selects ring-buffer recording for the next recording
func (e *Engine) SetContinuousRecording(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ContinuousRecording = on
}

// SetForwardIncomplete makes incomplete frames count as good ones
func (e *Engine) SetForwardIncomplete(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ForwardIncomplete = on
}

// SelectSetting picks the setting used in manual mode
func (e *Engine) SelectSetting(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if i < 0 || i >= len(e.settings) {
		return fmt.Errorf("%w: setting %d not in [0,%d)", ErrInvalidConfig, i, len(e.settings))
	}
	e.selected = i
	return nil
}

// Snap acquires MultiFrameSequenceSize frames without live mode. It does
// nothing while live.
func (e *Engine) Snap() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if e.live == LiveRunning {
		return nil
	}
	e.snapPending += e.cfg.MultiFrameSequenceSize
	e.topUpLocked()
	return nil
}

// RequestImages submits up to limit new requests following the usage mode
// and queue depth. It returns how many were submitted; a device rejection
// stops the batch and is returned as the error.
func (e *Engine) RequestImages(limit int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return 0, ErrNotRunning
	}
	return e.requestImagesLocked(limit)
}

// UnlockRequest gives a request back to the device. Without force only
// requests that are merely queued for display may be unlocked; force removes
// the request from every owner, cancelling it when still in flight.
func (e *Engine) UnlockRequest(id device.RequestID, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.ledger.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", device.ErrUnknownRequest, id)
	}

	if !force {
		if h.inFlight || h.recorded || e.displays.IsShown(id) {
			return fmt.Errorf("%w: %d", ErrRequestInUse, id)
		}
		h.display -= e.displays.Remove(id)
		e.releaseLocked(id)
		return nil
	}

	e.displays.Remove(id)
	h.display = 0
	if h.recorded {
		e.record.Remove(id)
		h.recorded = false
	}
	if _, landed := e.ledger.land(id); landed {
		e.slots.Cancelled(h.setting)
		e.stats.Cancelled++
	}
	e.releaseLocked(id)
	e.log.Debug().Int64("request_id", int64(id)).Msg("Request force unlocked")
	return nil
}

// DisplaySequenceRequest shows an entry of the recorded sequence on display
// surface 0
func (e *Engine) DisplaySequenceRequest(sel Selector) (device.RequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.record.Select(sel)
	if err != nil {
		return device.NoRequest, err
	}
	added, evicted, err := e.displays.Show(0, id)
	if err != nil {
		return device.NoRequest, err
	}
	if added {
		if h, ok := e.ledger.get(id); ok {
			h.display++
		}
	}
	e.dropDisplayLocked(evicted)
	return id, nil
}

// AdvanceDisplay moves the shown entry of a surface by step
func (e *Engine) AdvanceDisplay(surface, step int) (device.RequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displays.Advance(surface, step)
}

// DisplayFrame returns a copy of the buffer a surface shows, or nil when the
// surface is empty
func (e *Engine) DisplayFrame(surface int) (*device.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.displays.Current(surface)
	if err != nil || id == device.NoRequest {
		return nil, err
	}
	buf, err := e.dev.RequestBuffer(id)
	if err != nil {
		return nil, fmt.Errorf("read buffer of request %d: %w", id, err)
	}
	return buf.Clone(), nil
}

// SequenceBuffers returns the id of the recorded sequence and copies of its
// buffers in capture order
func (e *Engine) SequenceBuffers() (string, []*device.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.record.Sequence()
	if len(seq) == 0 {
		return "", nil, ErrEmptySequence
	}
	out := make([]*device.Buffer, 0, len(seq))
	for _, id := range seq {
		buf, err := e.dev.RequestBuffer(id)
		if err != nil {
			return "", nil, fmt.Errorf("read buffer of request %d: %w", id, err)
		}
		out = append(out, buf.Clone())
	}
	return e.record.ID(), out, nil
}

// Config returns the current configuration
func (e *Engine) Config() Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Settings returns the settings enumerated by Start
func (e *Engine) Settings() []device.Setting {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]device.Setting, len(e.settings))
	copy(out, e.settings)
	return out
}

// State returns a snapshot of the engine
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EngineState{
		SessionID:       e.sessionID,
		Device:          e.dev.Info(),
		Running:         e.running,
		Live:            e.live,
		Record:          e.record.Status(),
		SelectedSetting: e.selected,
		SnapPending:     e.snapPending,
		Config:          e.cfg,
		Slots:           e.slots.Snapshot(),
		Surfaces:        e.displays.Snapshot(),
	}
}

// Live returns the live mode state
func (e *Engine) Live() LiveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	s.InFlight = e.ledger.inFlight
	s.Held = e.ledger.len()
	e.mu.Unlock()

	s.EventsDropped = e.events.droppedCount()
	return s
}

// HeldRequests returns the sorted ids of every request the engine keeps
// locked at the device
func (e *Engine) HeldRequests() []device.RequestID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.ids()
}

// Subscribe returns a channel receiving engine notifications. Events are
// dropped, not queued, when the channel is full.
func (e *Engine) Subscribe() chan Event {
	return e.events.subscribe()
}

// Unsubscribe removes and closes a subscription
func (e *Engine) Unsubscribe(ch chan Event) {
	e.events.unsubscribe(ch)
}
