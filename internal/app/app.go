// Package app wires the configured device, acquisition engine, preview
// outputs and API server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/api"
	"github.com/bryanchriswhite/propview/internal/config"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/device/sim"
	"github.com/bryanchriswhite/propview/internal/export"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/bryanchriswhite/propview/internal/output"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/rs/zerolog"
)

// ErrDeviceLost is returned by Serve when the capture loop stopped because
// the device went away
var ErrDeviceLost = errors.New("device lost")

// ErrIncompleteSequence is returned by Record when the capture ended before
// a one-shot sequence reached its target
var ErrIncompleteSequence = errors.New("sequence incomplete")

// App owns one open device and everything built on top of it
type App struct {
	cfg       *config.Config
	configMgr *config.Manager
	log       *zerolog.Logger

	dev      device.Device
	engine   *acquisition.Engine
	overlay  *overlay.Manager
	outputs  []*output.MJPEGOutput
	recorder *export.Recorder
	server   *api.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SimOptions translates the sim section of the configuration
func SimOptions(serial string, sc config.SimConfig) []sim.Option {
	opts := []sim.Option{
		sim.WithSettings(sc.Settings...),
		sim.WithSize(sc.Width, sc.Height),
		sim.WithBufferCount(sc.BufferCount),
		sim.WithLatency(sc.FrameInterval),
	}
	if serial != "" && serial != "auto" {
		opts = append(opts, sim.WithSerial(serial))
	}
	// map keys come back lowercased from the config file
	for name, d := range sc.SettingLatency {
		for i, s := range sc.Settings {
			if strings.EqualFold(s, name) {
				opts = append(opts, sim.WithSettingLatency(i, d))
			}
		}
	}
	return opts
}

// OpenDevice builds the configured device and opens it, retrying transient
// failures for up to OpenTimeout
func OpenDevice(ctx context.Context, dc config.DeviceConfig) (device.Device, error) {
	var (
		dev device.Device
		err error
	)
	if dc.Driver == sim.DriverName {
		dev = sim.New(SimOptions(dc.Serial, dc.Sim)...)
	} else {
		dev, err = device.New(dc.Driver, dc.Serial)
		if err != nil {
			return nil, err
		}
	}

	if err := device.OpenWithRetry(ctx, dev, dc.OpenTimeout); err != nil {
		return nil, fmt.Errorf("open %s device %s: %w", dc.Driver, dc.Serial, err)
	}
	return dev, nil
}

// New opens the device and builds a stopped engine. configMgr may be nil.
func New(ctx context.Context, cfg *config.Config, configMgr *config.Manager) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.WithComponent("app")

	dev, err := OpenDevice(ctx, cfg.Device)
	if err != nil {
		return nil, err
	}
	info := dev.Info()
	log.Info().Str("driver", info.Driver).Str("serial", info.Serial).Str("model", info.Model).Msg("Device opened")

	engine, err := acquisition.NewEngine(dev, acquisition.Options{Config: cfg.EngineConfiguration()})
	if err != nil {
		dev.Close()
		return nil, err
	}

	ov := overlay.NewDefaultManager()
	ov.SetEnabled(cfg.Overlay.Enabled)
	label, err := deviceLabel(info)
	if err == nil {
		err = ov.AddWidget(label)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Device label not added")
	}

	return &App{
		cfg:       cfg,
		configMgr: configMgr,
		log:       log,
		dev:       dev,
		engine:    engine,
		overlay:   ov,
		recorder:  export.NewRecorder(cfg.Export.Dir, cfg.Export.Prefix),
	}, nil
}

// DeviceLabelID is the overlay widget showing the camera identity
const DeviceLabelID = "device"

// deviceLabel names the camera below the status block
func deviceLabel(info device.Info) (*overlay.TextWidget, error) {
	text := strings.TrimSpace(info.Model + " " + info.Serial)
	if text == "" {
		text = info.Driver
	}
	w, err := overlay.NewTextWidget(DeviceLabelID, text, 8, 56)
	if err != nil {
		return nil, err
	}
	w.SetColor(color.RGBA{255, 200, 0, 255})
	w.SetBackground(&color.RGBA{0, 0, 0, 160})
	return w, nil
}

// Overlay returns the overlay drawn on every preview
func (a *App) Overlay() *overlay.Manager {
	return a.overlay
}

// Engine returns the acquisition engine
func (a *App) Engine() *acquisition.Engine {
	return a.engine
}

// Device returns the open device
func (a *App) Device() device.Device {
	return a.dev
}

// Start starts the engine, one MJPEG output and pump per display surface,
// and the event logger. The engine outlives ctx until Close so a recording
// can still be finished and exported after an interrupt.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Start(context.Background()); err != nil {
		return err
	}

	ctx, a.cancel = context.WithCancel(ctx)

	for i := 0; i < a.cfg.Display.Surfaces; i++ {
		out := output.NewMJPEGOutput(output.Config{Surface: i, FPS: a.cfg.Display.FPS})
		if err := out.Start(); err != nil {
			return err
		}
		a.outputs = append(a.outputs, out)

		pump := output.NewPump(a.engine, out, i, a.cfg.Display.FPS, a.overlay, a.Describe)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			pump.Run(ctx)
		}()
	}

	events := a.engine.Subscribe()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.engine.Unsubscribe(events)
		a.logEvents(ctx, events)
	}()
	return nil
}

// logEvents reports the notifications a GUI would act on
func (a *App) logEvents(ctx context.Context, events chan acquisition.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case acquisition.EventSequenceReady:
				a.log.Info().Str("reason", string(ev.Reason)).Msg("Sequence ready")
			case acquisition.EventLiveModeAborted:
				a.log.Warn().Msg("Live mode aborted after repeated timeouts")
			case acquisition.EventCaptureError:
				a.log.Error().Str("error", ev.Error).Msg("Capture error")
			case acquisition.EventDeviceLost:
				a.log.Error().Str("error", ev.Error).Msg("Device lost")
			}
		}
	}
}

// Describe builds the overlay information of a preview frame
func (a *App) Describe(surface int, buf *device.Buffer) overlay.FrameInfo {
	st := a.engine.State()
	info := overlay.FrameInfo{
		Surface:   surface,
		Request:   int64(buf.Request),
		Frame:     buf.FrameNumber,
		Timestamp: buf.Timestamp,
		Live:      st.Live.String(),
		Record:    st.Record.State.String(),
		Recorded:  len(st.Record.Sequence),
		Target:    st.Record.Target,
	}
	for _, slot := range st.Slots {
		if slot.Index == buf.Setting {
			info.Setting = slot.Name
		}
	}
	return info
}

// Server builds the API server with every preview stream mounted
func (a *App) Server() *api.Server {
	if a.server == nil {
		a.server = api.NewServer(a.engine, a.configMgr, a.recorder)
		a.server.SetOverlay(a.overlay)
		for i, out := range a.outputs {
			a.server.AddStream(i, out)
		}
	}
	return a.server
}

// Serve starts everything and serves the API until ctx is done or the device
// is lost
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Listen(ctx)
}

// Listen serves the API of a started App until ctx is done or the device is
// lost
func (a *App) Listen(ctx context.Context) error {
	srv := a.Server()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(a.cfg.ServerPort)
	}()

	var err error
	select {
	case <-ctx.Done():
	case <-a.engine.Done():
		err = ErrDeviceLost
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn().Err(serr).Msg("HTTP shutdown")
	}
	return err
}

// Record captures one sequence of frames without the API and exports it as
// FITS. A continuous recording runs until ctx is done. The App must be
// started.
func (a *App) Record(ctx context.Context, frames int, continuous bool) (string, error) {
	if err := a.engine.SetRecordSequenceSize(frames); err != nil {
		return "", err
	}
	a.engine.SetContinuousRecording(continuous)

	events := a.engine.Subscribe()
	defer a.engine.Unsubscribe(events)

	if err := a.engine.RecordSequence(); err != nil {
		return "", err
	}
	a.log.Info().Int("frames", frames).Bool("continuous", continuous).Msg("Recording")

	if err := a.waitSequence(ctx, events, continuous); err != nil {
		return "", err
	}

	seqID, bufs, err := a.engine.SequenceBuffers()
	if err != nil {
		return "", err
	}
	cards := export.Cards(export.Meta{SequenceID: seqID, Device: a.dev.Info(), Settings: a.engine.Settings()}, bufs)
	return a.recorder.Save(cards, bufs)
}

// waitSequence blocks until the recording is Done. The state is polled as
// well because notifications may be dropped for a slow subscriber.
func (a *App) waitSequence(ctx context.Context, events chan acquisition.Event, continuous bool) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// keep what was captured so far
			if err := a.engine.SetRecordMode(false); err != nil {
				return err
			}
		case <-a.engine.Done():
			return ErrDeviceLost
		case ev := <-events:
			if ev.Kind == acquisition.EventCaptureError {
				return fmt.Errorf("capture failed: %s", ev.Error)
			}
		case <-tick.C:
		}

		rec := a.engine.State().Record
		if rec.State == acquisition.RecordDone {
			select {
			case <-a.engine.Done():
				return ErrDeviceLost
			default:
			}
			return a.sequenceResult(rec, continuous)
		}
	}
}

// sequenceResult accepts a finished sequence unless a one-shot recording was
// cut short by the capture side
func (a *App) sequenceResult(rec acquisition.RecordStatus, continuous bool) error {
	switch rec.Reason {
	case acquisition.ReasonComplete, acquisition.ReasonStopped:
		return nil
	case acquisition.ReasonAborted:
		if continuous && len(rec.Sequence) > 0 {
			a.log.Warn().Int("frames", len(rec.Sequence)).Msg("Live mode aborted, keeping the ring")
			return nil
		}
		return fmt.Errorf("%w: captured %d of %d frames", ErrIncompleteSequence, len(rec.Sequence), rec.Target)
	default:
		return fmt.Errorf("%w: unexpected reason %q", ErrIncompleteSequence, rec.Reason)
	}
}

// Close stops the pumps, the outputs and the engine and closes the device
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	for _, out := range a.outputs {
		out.Stop()
	}
	err := a.engine.Stop()
	if cerr := a.dev.Close(); err == nil {
		err = cerr
	}
	a.log.Info().Msg("Shut down")
	return err
}
