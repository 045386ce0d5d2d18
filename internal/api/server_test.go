package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/device/sim"
	"github.com/bryanchriswhite/propview/internal/export"
	"github.com/bryanchriswhite/propview/internal/output"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv    *httptest.Server
	engine *acquisition.Engine
	cam    *sim.Camera
	ov     *overlay.Manager
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cam := sim.New(sim.WithSize(8, 8), sim.WithLatency(time.Millisecond), sim.WithSettings("Base", "Fast"))
	require.NoError(t, cam.Open())

	cfg := acquisition.DefaultConfiguration()
	cfg.WaitTimeout = 20 * time.Millisecond
	eng, err := acquisition.NewEngine(cam, acquisition.Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	dir := t.TempDir()
	s := NewServer(eng, nil, export.NewRecorder(dir, "seq_"))
	out := output.NewMJPEGOutput(output.Config{Surface: 0, FPS: 10})
	require.NoError(t, out.Start())
	s.AddStream(0, out)

	ov := overlay.NewDefaultManager()
	label, err := overlay.NewTextWidget("device", "SIM0001", 8, 56)
	require.NoError(t, err)
	require.NoError(t, ov.AddWidget(label))
	s.SetOverlay(ov)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		out.Stop()
		require.NoError(t, eng.Stop())
		assert.Zero(t, cam.Outstanding())
		cam.Close()
	})
	return &fixture{srv: srv, engine: eng, cam: cam, ov: ov, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{acquisition.ErrInvalidConfig, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", acquisition.ErrSequenceIndex), http.StatusBadRequest},
		{acquisition.ErrRequestInUse, http.StatusConflict},
		{acquisition.ErrEmptySequence, http.StatusNotFound},
		{acquisition.ErrUnknownSurface, http.StatusNotFound},
		{device.ErrUnknownRequest, http.StatusNotFound},
		{overlay.ErrWidgetNotFound, http.StatusNotFound},
		{acquisition.ErrNotRunning, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["running"])

	code, body = f.do(t, "GET", "/api/device", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["settings"], 2)

	code, body = f.do(t, "GET", "/api/state", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["live"])

	code, body = f.do(t, "GET", "/api/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["streams"], 1)

	code, body = f.do(t, "GET", "/api/config", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["queue_depth"])

	code, _ = f.do(t, "POST", "/api/config/save", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	resp, err := http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLiveMode(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "PUT", "/api/live", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "live", body["live"])
	assert.Equal(t, acquisition.LiveRunning, f.engine.Live())

	code, _ = f.do(t, "PUT", "/api/live", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "PUT", "/api/live", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, "PUT", "/api/live", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["live"])
}

func TestEngineSetters(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "PUT", "/api/engine/queue-depth", `{"value":6}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(6), body["queue_depth"])

	code, _ = f.do(t, "PUT", "/api/engine/queue-depth", `{"value":0}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "PUT", "/api/engine/queue-depth", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, "PUT", "/api/engine/usage-mode", `{"mode":"automatic"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "automatic", body["usage_mode"])

	code, _ = f.do(t, "PUT", "/api/engine/usage-mode", `{"mode":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "PUT", "/api/engine/setting", `{"value":1}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, "PUT", "/api/engine/setting", `{"value":2}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, "PUT", "/api/engine/record-size", `{"value":3}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["record_sequence_size"])

	code, body = f.do(t, "PUT", "/api/engine/multi-frame-size", `{"value":2}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["multi_frame_sequence_size"])

	code, body = f.do(t, "PUT", "/api/engine/continuous", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["continuous_recording"])

	code, body = f.do(t, "PUT", "/api/engine/forward-incomplete", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["forward_incomplete"])

	cfg := f.engine.Config()
	assert.Equal(t, 6, cfg.QueueDepth)
	assert.Equal(t, acquisition.UsageAutomatic, cfg.UsageMode)
}

func TestSequenceLifecycle(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "POST", "/api/sequence/display", `{"index":0}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, "POST", "/api/sequence/export", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, "PUT", "/api/engine/record-size", `{"value":3}`)
	require.Equal(t, http.StatusOK, code)
	code, body := f.do(t, "POST", "/api/record/sequence", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, []interface{}{"recording", "done"}, body["state"])

	require.Eventually(t, func() bool {
		st := f.engine.State()
		return st.Record.State == acquisition.RecordDone && st.Live == acquisition.LiveStopped
	}, 2*time.Second, 5*time.Millisecond)

	code, body = f.do(t, "GET", "/api/sequence", "")
	require.Equal(t, http.StatusOK, code)
	seq := body["sequence"].([]interface{})
	require.Len(t, seq, 3)

	code, _ = f.do(t, "POST", "/api/sequence/display", `{"index":5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "POST", "/api/sequence/display", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, "POST", "/api/sequence/display", `{"step":"next"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, seq[1], body["request_id"])

	code, body = f.do(t, "POST", "/api/sequence/export", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["frames"])
	path := body["path"].(string)
	assert.Equal(t, f.dir, filepath.Dir(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)

	// the shown entry cannot be unlocked without force
	shown := int64(seq[1].(float64))
	code, _ = f.do(t, "POST", fmt.Sprintf("/api/requests/%d/unlock", shown), "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, "DELETE", fmt.Sprintf("/api/sequence?exclude=%d", shown), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["released"])
	assert.Contains(t, f.engine.HeldRequests(), device.RequestID(shown))

	code, _ = f.do(t, "POST", fmt.Sprintf("/api/requests/%d/unlock?force=true", shown), "")
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, f.engine.HeldRequests(), device.RequestID(shown))

	code, _ = f.do(t, "DELETE", "/api/sequence?exclude=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnlockUnknownRequest(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "POST", "/api/requests/99999/unlock", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdvanceDisplay(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "POST", "/api/display/0/advance", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["request_id"])

	code, _ = f.do(t, "POST", "/api/display/3/advance", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, "POST", "/api/display/0/advance?step=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStreamRoute(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/stream/7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.NotEmpty(t, hello["client_id"])
	assert.Equal(t, f.engine.State().SessionID, hello["session_id"])

	code, _ := f.do(t, "POST", "/api/snap", "")
	require.Equal(t, http.StatusOK, code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev acquisition.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Kind == acquisition.EventImageReady {
			assert.NotZero(t, ev.Request)
			break
		}
	}
}

func TestNotRunning(t *testing.T) {
	eng, err := acquisition.NewEngine(sim.New(), acquisition.Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(eng, nil, nil).Handler())
	defer srv.Close()

	req, err := http.NewRequest("PUT", srv.URL+"/api/live", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/sequence/export", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOverlayEndpoints(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, "GET", "/api/overlay", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["enabled"])
	assert.Len(t, body["widgets"], 2)

	code, _ = f.do(t, "PUT", "/api/overlay", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, f.ov.IsEnabled())

	code, _ = f.do(t, "PUT", "/api/overlay/widgets/device", `{"text":"bench camera","enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	w, found := f.ov.GetWidget("device")
	require.True(t, found)
	assert.Equal(t, "bench camera", w.(*overlay.TextWidget).Text())
	assert.False(t, w.IsEnabled())

	code, _ = f.do(t, "PUT", "/api/overlay/widgets/device", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "PUT", "/api/overlay/widgets/status", `{"text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "PUT", "/api/overlay/widgets/missing", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, "DELETE", "/api/overlay/widgets/device", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["widgets"], 1)
	code, _ = f.do(t, "DELETE", "/api/overlay/widgets/device", "")
	assert.Equal(t, http.StatusNotFound, code)
}
