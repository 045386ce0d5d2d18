package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/rs/zerolog"
)

const unbounded = math.MaxInt

// run is the capture loop. It waits on the device without holding the engine
// lock and handles each outcome under the lock. On exit every request the
// engine still holds is unlocked.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	log := e.log.With().Str("loop", "capture").Logger()
	log.Debug().Msg("Capture loop started")

	e.mu.Lock()
	e.topUpLocked()
	e.mu.Unlock()

	for ctx.Err() == nil {
		e.mu.Lock()
		timeout := e.cfg.WaitTimeout
		e.mu.Unlock()

		id, err := e.dev.WaitForCompletion(timeout)

		e.mu.Lock()
		lost := e.handleWaitLocked(id, err)
		e.mu.Unlock()
		if lost {
			break
		}
	}

	e.mu.Lock()
	e.shutdownLocked()
	e.mu.Unlock()
	log.Debug().Msg("Capture loop exited")
}

// handleWaitLocked processes one wait outcome and tops the queue up again in
// the same critical section. It returns true when the device is gone.
func (e *Engine) handleWaitLocked(id device.RequestID, err error) bool {
	switch {
	case err == nil:
		e.completeLocked(id)
	case errors.Is(err, device.ErrTimeout):
		e.timeoutLocked()
	case device.IsFatal(err):
		e.deviceLostLocked(err)
		return true
	default:
		e.throttledWarn().Err(err).Msg("Wait for completion failed")
	}
	e.topUpLocked()
	return false
}

// topUpLocked keeps the device queue at depth while live, or feeds a
// pending snap
func (e *Engine) topUpLocked() {
	if !e.running {
		return
	}
	limit := unbounded
	if e.live != LiveRunning {
		if e.snapPending <= 0 {
			return
		}
		limit = e.snapPending
	}

	n, err := e.requestImagesLocked(limit)
	if e.live != LiveRunning {
		e.snapPending -= n
	}
	if err != nil {
		e.throttledWarn().Err(err).Int("submitted", n).Msg("Request submission failed")
	}
}

func (e *Engine) requestImagesLocked(limit int) (int, error) {
	submitted := 0
	for submitted < limit {
		setting, ok := e.nextSettingLocked()
		if !ok {
			break
		}
		id, err := e.dev.SubmitRequest(setting)
		if err != nil {
			e.stats.SubmitErrors++
			return submitted, fmt.Errorf("submit request with setting %d: %w", setting, err)
		}
		e.ledger.track(id, setting)
		e.slots.Submitted(setting, id)
		e.stats.Submitted++
		if e.cfg.UsageMode == UsageAutomatic {
			e.cursor = (e.cursor + 1) % e.slots.Len()
		}
		submitted++
	}
	return submitted, nil
}

// nextSettingLocked returns the setting of the next request. Automatic mode
// follows the rotation cursor strictly: when the setting under the cursor is
// at depth the pass ends instead of skipping ahead.
func (e *Engine) nextSettingLocked() (int, bool) {
	if e.slots.Len() == 0 {
		return 0, false
	}
	if e.cfg.UsageMode == UsageAutomatic {
		s := e.cursor % e.slots.Len()
		if e.slots.InFlight(s) >= e.cfg.QueueDepth {
			return 0, false
		}
		return s, true
	}
	if e.ledger.inFlight >= e.cfg.QueueDepth {
		return 0, false
	}
	return e.selected, true
}

func (e *Engine) completeLocked(id device.RequestID) {
	h, ok := e.ledger.land(id)
	if !ok {
		// unlocked while the device was completing it
		e.stats.StaleCompletion++
		e.log.Debug().Int64("request_id", int64(id)).Msg("Ignoring completion of released request")
		return
	}
	e.stats.Completed++

	res, err := e.dev.RequestResult(id)
	if err != nil {
		res = device.ResultFailed
	}

	switch res {
	case device.ResultOK:
		e.acceptLocked(id, h)
	case device.ResultIncomplete:
		if e.cfg.ForwardIncomplete {
			e.acceptLocked(id, h)
			return
		}
		e.slots.Skipped(h.setting)
		e.stats.Skipped++
		e.releaseLocked(id)
		e.events.notify(Event{Kind: EventImageSkipped, Request: id, Setting: h.setting})
	default:
		e.failLocked(id, h.setting, res, err)
	}
}

func (e *Engine) acceptLocked(id device.RequestID, h *holders) {
	var frame uint64
	if buf, err := e.dev.RequestBuffer(id); err == nil {
		frame = buf.FrameNumber
	}
	e.slots.Completed(h.setting, frame)
	e.timeouts = 0
	e.failureRaised = false
	e.stats.ImagesReady++

	var done bool
	if e.record.Recording() {
		var evicted []device.RequestID
		evicted, done = e.record.Accept(id)
		h.recorded = true
		e.stats.RecordEvicted += uint64(len(evicted))
		e.dropRecordLocked(evicted)
	}

	evicted, err := e.displays.Push(e.displays.Route(h.setting), id)
	if err == nil {
		h.display++
	}
	e.stats.DisplayEvicted += uint64(len(evicted))
	e.dropDisplayLocked(evicted)

	e.log.Trace().
		Int64("request_id", int64(id)).
		Int("setting", h.setting).
		Uint64("frame", frame).
		Msg("Image ready")
	e.events.notify(Event{Kind: EventImageReady, Request: id, Setting: h.setting})

	if done {
		e.sequenceReadyLocked(ReasonComplete)
		if e.record.implicitLive {
			e.record.implicitLive = false
			e.stopLiveLocked(ReasonComplete)
		}
	}
}

func (e *Engine) failLocked(id device.RequestID, setting int, res device.Result, err error) {
	streak := e.slots.Failed(setting)
	e.stats.Failed++
	e.releaseLocked(id)

	msg := "request " + res.String()
	if err != nil {
		msg = err.Error()
	}
	e.throttledWarn().
		Int64("request_id", int64(id)).
		Int("setting", setting).
		Int("streak", streak).
		Str("result", res.String()).
		Msg("Capture request failed")
	e.events.notify(Event{Kind: EventRequestFailed, Request: id, Setting: setting, Error: msg})

	if !e.failureRaised && e.slots.AllFailing(e.cfg.FailureThreshold) {
		e.failureRaised = true
		e.log.Error().Int("threshold", e.cfg.FailureThreshold).Msg("Every capture setting keeps failing")
		e.events.notify(Event{Kind: EventCaptureError, Setting: setting, Error: "every capture setting keeps failing"})
	}
}

func (e *Engine) timeoutLocked() {
	if e.live != LiveRunning {
		return
	}
	e.timeouts++
	e.stats.Timeouts++
	e.throttledWarn().Int("consecutive", e.timeouts).Msg("Image timeout")
	e.events.notify(Event{Kind: EventImageTimeout})

	if e.timeouts >= e.cfg.TimeoutAbortThreshold {
		e.stats.LiveAborts++
		e.log.Error().Int("timeouts", e.timeouts).Msg("Too many consecutive timeouts, stopping live mode")
		e.stopLiveLocked(ReasonAborted)
		e.events.notify(Event{Kind: EventLiveModeAborted})
	}
}

func (e *Engine) deviceLostLocked(err error) {
	e.log.Error().Err(err).Msg("Device lost, stopping capture loop")
	e.events.notify(Event{Kind: EventDeviceLost, Error: err.Error()})
	e.shutdownLocked()
}

// shutdownLocked releases everything the engine holds
func (e *Engine) shutdownLocked() {
	if !e.running {
		return
	}
	e.stopLiveLocked(ReasonAborted)
	e.snapPending = 0
	for _, id := range e.ledger.inFlightIDs() {
		e.cancelLocked(id)
	}
	e.dropDisplayLocked(e.displays.Clear())
	e.dropRecordLocked(e.record.Free())

	for _, id := range e.ledger.ids() {
		e.log.Warn().Int64("request_id", int64(id)).Msg("Releasing request with unknown owner")
		e.ledger.remove(id)
		e.unlockLocked(id)
	}
	e.running = false
}

// cancelLocked unlocks a request that is still in flight
func (e *Engine) cancelLocked(id device.RequestID) {
	h, ok := e.ledger.land(id)
	if !ok {
		return
	}
	e.slots.Cancelled(h.setting)
	e.stats.Cancelled++
	e.releaseLocked(id)
}

// releaseLocked unlocks a request at the device once nobody holds it
func (e *Engine) releaseLocked(id device.RequestID) bool {
	h, ok := e.ledger.get(id)
	if !ok || !h.idle() {
		return false
	}
	e.ledger.remove(id)
	e.unlockLocked(id)
	return true
}

func (e *Engine) unlockLocked(id device.RequestID) {
	if err := e.dev.Unlock(id); err != nil {
		e.stats.UnlockErrors++
		e.log.Debug().Err(err).Int64("request_id", int64(id)).Msg("Unlock failed")
		return
	}
	e.stats.Unlocked++
}

func (e *Engine) dropDisplayLocked(ids []device.RequestID) {
	for _, id := range ids {
		if h, ok := e.ledger.get(id); ok && h.display > 0 {
			h.display--
			e.releaseLocked(id)
		}
	}
}

func (e *Engine) dropRecordLocked(ids []device.RequestID) {
	for _, id := range ids {
		if h, ok := e.ledger.get(id); ok && h.recorded {
			h.recorded = false
			e.releaseLocked(id)
		}
	}
}

func (e *Engine) sequenceReadyLocked(reason SequenceReason) {
	e.stats.SequencesReady++
	st := e.record.Status()
	e.log.Info().
		Str("sequence", st.SequenceID).
		Int("frames", len(st.Sequence)).
		Str("reason", string(reason)).
		Msg("Sequence ready")
	e.events.notify(Event{Kind: EventSequenceReady, Reason: reason})
}

// throttledWarn returns a warn event, or nil when the rate limit is hit.
// zerolog events are nil safe.
func (e *Engine) throttledWarn() *zerolog.Event {
	ok, suppressed := e.throttle.Allow()
	if !ok {
		return nil
	}
	ev := e.log.Warn()
	if suppressed > 0 {
		ev = ev.Int("suppressed", suppressed)
	}
	return ev
}
