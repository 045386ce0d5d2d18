package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/config"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/device/sim"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Device.Sim.Settings = []string{"Base", "Fast"}
	cfg.Device.Sim.Width = 16
	cfg.Device.Sim.Height = 12
	cfg.Device.Sim.FrameInterval = time.Millisecond
	cfg.Device.Sim.SettingLatency = map[string]time.Duration{"fast": 2 * time.Millisecond}
	cfg.Engine.WaitTimeout = 20 * time.Millisecond
	cfg.Display.FPS = 50
	cfg.Export.Dir = filepath.Join(t.TempDir(), "sequences")
	return cfg
}

func TestSimOptions(t *testing.T) {
	cfg := testConfig(t)
	cam := sim.New(SimOptions("SIM0042", cfg.Device.Sim)...)
	require.NoError(t, cam.Open())
	defer cam.Close()

	assert.Equal(t, "SIM0042", cam.Info().Serial)
	settings, err := cam.Settings()
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, "Fast", settings[1].Name)
}

func TestOpenDevice(t *testing.T) {
	cfg := testConfig(t)

	dev, err := OpenDevice(context.Background(), cfg.Device)
	require.NoError(t, err)
	assert.Equal(t, sim.DriverName, dev.Info().Driver)
	require.NoError(t, dev.Close())

	cfg.Device.Driver = "missing"
	_, err = OpenDevice(context.Background(), cfg.Device)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.QueueDepth = 0
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, acquisition.ErrInvalidConfig)
}

func TestRecordExports(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := a.Record(ctx, 4, false)
	require.NoError(t, err)
	assert.Equal(t, cfg.Export.Dir, filepath.Dir(path))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	st := a.Engine().State()
	assert.Equal(t, acquisition.RecordDone, st.Record.State)
	assert.Len(t, st.Record.Sequence, 4)
	assert.Equal(t, acquisition.LiveStopped, st.Live)

	cam := a.Device().(*sim.Camera)
	require.NoError(t, a.Close())
	assert.Zero(t, cam.Outstanding())
}

func TestRecordRejectsSequenceAboveCapacity(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	// 16 sim buffers minus a display depth of 2
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.Record(ctx, 20, false)
	assert.ErrorIs(t, err, acquisition.ErrInvalidConfig)
	assert.NoDirExists(t, cfg.Export.Dir)

	path, err := a.Record(ctx, 14, false)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Len(t, a.Engine().State().Record.Sequence, 14)
}

func TestRecordFailsWhenLiveAborts(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	cam := a.Device().(*sim.Camera)
	cam.Pause()
	defer cam.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.Record(ctx, 4, false)
	require.ErrorIs(t, err, ErrIncompleteSequence)
	assert.NoDirExists(t, cfg.Export.Dir)

	st := a.Engine().State()
	assert.Equal(t, acquisition.RecordDone, st.Record.State)
	assert.Equal(t, acquisition.ReasonAborted, st.Record.Reason)
}

func TestContinuousRecordStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	path, err := a.Record(ctx, 3, true)
	require.NoError(t, err)
	assert.FileExists(t, path)

	st := a.Engine().State()
	assert.Equal(t, acquisition.RecordDone, st.Record.State)
	assert.Equal(t, acquisition.ReasonStopped, st.Record.Reason)
	assert.Len(t, st.Record.Sequence, 3)
}

func TestDescribe(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	info := a.Describe(0, &device.Buffer{Request: 7, Setting: 1, FrameNumber: 3})
	assert.Equal(t, "Fast", info.Setting)
	assert.Equal(t, uint64(3), info.Frame)
	assert.Equal(t, "stopped", info.Live)
	assert.Equal(t, "idle", info.Record)

	w, found := a.Overlay().GetWidget(DeviceLabelID)
	require.True(t, found)
	label := w.(*overlay.TextWidget).Text()
	assert.Contains(t, label, a.Device().Info().Serial)
	assert.Contains(t, label, a.Device().Info().Model)
}

func TestServe(t *testing.T) {
	t.Run("stops on cancel", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ServerPort = 0
		a, err := New(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.NoError(t, a.Serve(ctx))
	})

	t.Run("reports device loss", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ServerPort = 0
		a, err := New(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer a.Close()

		go func() {
			time.Sleep(50 * time.Millisecond)
			a.Device().Close()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.ErrorIs(t, a.Serve(ctx), ErrDeviceLost)
	})
}
