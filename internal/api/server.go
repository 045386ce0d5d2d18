package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/config"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/export"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/bryanchriswhite/propview/internal/output"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

const writeWait = 5 * time.Second

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	engine    *acquisition.Engine
	configMgr *config.Manager
	recorder  *export.Recorder
	overlay   *overlay.Manager
	upgrader  websocket.Upgrader
	log       *zerolog.Logger

	streamsMu sync.RWMutex
	streams   map[int]*output.MJPEGOutput

	httpServer *http.Server
}

// NewServer creates a new API server. configMgr and recorder may be nil,
// which disables the endpoints that need them.
func NewServer(engine *acquisition.Engine, configMgr *config.Manager, recorder *export.Recorder) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		configMgr: configMgr,
		recorder:  recorder,
		log:       logger.WithComponent("api"),
		streams:   make(map[int]*output.MJPEGOutput),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetOverlay exposes the preview overlay for listing and editing
func (s *Server) SetOverlay(m *overlay.Manager) {
	s.overlay = m
}

// AddStream mounts the MJPEG preview of a display surface
func (s *Server) AddStream(surface int, out *output.MJPEGOutput) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	s.streams[surface] = out
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/device", s.handleDevice).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/save", s.handleSaveConfig).Methods("POST")

	// Acquisition
	api.HandleFunc("/live", s.handleLive).Methods("PUT")
	api.HandleFunc("/record", s.handleRecord).Methods("PUT")
	api.HandleFunc("/record/sequence", s.handleRecordSequence).Methods("POST")
	api.HandleFunc("/snap", s.handleSnap).Methods("POST")

	// Engine configuration
	engine := api.PathPrefix("/engine").Subrouter()
	engine.HandleFunc("/queue-depth", s.intSetter(s.engine.SetCaptureQueueDepth)).Methods("PUT")
	engine.HandleFunc("/usage-mode", s.handleUsageMode).Methods("PUT")
	engine.HandleFunc("/setting", s.intSetter(s.engine.SelectSetting)).Methods("PUT")
	engine.HandleFunc("/multi-frame-size", s.intSetter(s.engine.SetMultiFrameSequenceSize)).Methods("PUT")
	engine.HandleFunc("/record-size", s.intSetter(s.engine.SetRecordSequenceSize)).Methods("PUT")
	engine.HandleFunc("/continuous", s.boolSetter(s.engine.SetContinuousRecording)).Methods("PUT")
	engine.HandleFunc("/forward-incomplete", s.boolSetter(s.engine.SetForwardIncomplete)).Methods("PUT")

	// Recorded sequence
	api.HandleFunc("/sequence", s.handleGetSequence).Methods("GET")
	api.HandleFunc("/sequence", s.handleFreeSequence).Methods("DELETE")
	api.HandleFunc("/sequence/display", s.handleDisplaySequence).Methods("POST")
	api.HandleFunc("/sequence/export", s.handleExport).Methods("POST")

	api.HandleFunc("/requests/{id:[0-9]+}/unlock", s.handleUnlock).Methods("POST")
	api.HandleFunc("/display/{surface:[0-9]+}/advance", s.handleAdvance).Methods("POST")

	api.HandleFunc("/overlay", s.handleGetOverlay).Methods("GET")
	api.HandleFunc("/overlay", s.handleSetOverlay).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleRemoveWidget).Methods("DELETE")

	api.HandleFunc("/events", s.handleEvents)

	s.router.HandleFunc("/stream/{surface:[0-9]+}", s.handleStream).Methods("GET")
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	s.log.Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps a command error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, acquisition.ErrInvalidConfig),
		errors.Is(err, acquisition.ErrSequenceIndex):
		return http.StatusBadRequest
	case errors.Is(err, acquisition.ErrRequestInUse),
		errors.Is(err, acquisition.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, acquisition.ErrEmptySequence),
		errors.Is(err, acquisition.ErrUnknownSurface),
		errors.Is(err, device.ErrUnknownRequest),
		errors.Is(err, export.ErrNoFrames),
		errors.Is(err, overlay.ErrWidgetNotFound):
		return http.StatusNotFound
	case errors.Is(err, acquisition.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", acquisition.ErrInvalidConfig, err)
	}
	return nil
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"session": st.SessionID,
		"running": st.Running,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"info":     s.engine.State().Device,
		"settings": s.engine.Settings(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.streamsMu.RLock()
	streams := make([]output.StreamStats, 0, len(s.streams))
	for _, out := range s.streams {
		streams = append(streams, out.Stats())
	}
	s.streamsMu.RUnlock()
	sort.Slice(streams, func(i, j int) bool { return streams[i].Surface < streams[j].Surface })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":  s.engine.Stats(),
		"streams": streams,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

// handleSaveConfig persists the running engine configuration
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration file", http.StatusServiceUnavailable)
		return
	}
	ec := s.engine.Config()
	cfg := s.configMgr.Get()
	cfg.Engine = config.EngineConfig{
		QueueDepth:             ec.QueueDepth,
		UsageMode:              string(ec.UsageMode),
		ContinuousRecording:    ec.ContinuousRecording,
		ForwardIncomplete:      ec.ForwardIncomplete,
		WaitTimeout:            ec.WaitTimeout,
		TimeoutAbortThreshold:  ec.TimeoutAbortThreshold,
		FailureThreshold:       ec.FailureThreshold,
		RecordSequenceSize:     ec.RecordSequenceSize,
		MultiFrameSequenceSize: ec.MultiFrameSequenceSize,
	}
	if err := s.configMgr.Update(cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "path": s.configMgr.GetConfigPath()})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) decodeEnabled(r *http.Request) (bool, error) {
	var req enabledRequest
	if err := decode(r, &req); err != nil {
		return false, err
	}
	if req.Enabled == nil {
		return false, fmt.Errorf("%w: missing \"enabled\"", acquisition.ErrInvalidConfig)
	}
	return *req.Enabled, nil
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	on, err := s.decodeEnabled(r)
	if err == nil {
		err = s.engine.SetLiveMode(on)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"live": s.engine.Live()})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	on, err := s.decodeEnabled(r)
	if err == nil {
		err = s.engine.SetRecordMode(on)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State().Record)
}

func (s *Server) handleRecordSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RecordSequence(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State().Record)
}

func (s *Server) handleSnap(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Snap(); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w)
}

func (s *Server) intSetter(set func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Value *int `json:"value"`
		}
		err := decode(r, &req)
		if err == nil && req.Value == nil {
			err = fmt.Errorf("%w: missing \"value\"", acquisition.ErrInvalidConfig)
		}
		if err == nil {
			err = set(*req.Value)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.Config())
	}
}

func (s *Server) boolSetter(set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := s.decodeEnabled(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		set(on)
		writeJSON(w, http.StatusOK, s.engine.Config())
	}
}

func (s *Server) handleUsageMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	err := decode(r, &req)
	if err == nil {
		err = s.engine.SetCaptureSettingUsageMode(acquisition.UsageMode(req.Mode))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State().Record)
}

func (s *Server) handleFreeSequence(w http.ResponseWriter, r *http.Request) {
	exclude := device.NoRequest
	if v := r.URL.Query().Get("exclude"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: exclude %q", acquisition.ErrInvalidConfig, v))
			return
		}
		exclude = device.RequestID(id)
	}

	n, err := s.engine.FreeSequence(exclude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

func (s *Server) handleDisplaySequence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int   `json:"index"`
		Step  string `json:"step"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var sel acquisition.Selector
	switch {
	case req.Index != nil:
		sel = acquisition.SelectIndex(*req.Index)
	case strings.EqualFold(req.Step, "next"):
		sel = acquisition.SelectNext()
	case strings.EqualFold(req.Step, "prev"):
		sel = acquisition.SelectPrev()
	default:
		s.writeError(w, r, fmt.Errorf("%w: need \"index\" or \"step\" next|prev", acquisition.ErrInvalidConfig))
		return
	}

	id, err := s.engine.DisplaySequenceRequest(sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request_id": id, "selector": sel.String()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "export disabled", http.StatusServiceUnavailable)
		return
	}
	seqID, bufs, err := s.engine.SequenceBuffers()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st := s.engine.State()
	cards := export.Cards(export.Meta{SequenceID: seqID, Device: st.Device, Settings: s.engine.Settings()}, bufs)
	path, err := s.recorder.Save(cards, bufs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "frames": len(bufs), "sequence_id": seqID})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: request id", acquisition.ErrInvalidConfig))
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := s.engine.UnlockRequest(device.RequestID(id), force); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok(w)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	surface, _ := strconv.Atoi(mux.Vars(r)["surface"])
	step := 1
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: step %q", acquisition.ErrInvalidConfig, v))
			return
		}
		step = n
	}

	id, err := s.engine.AdvanceDisplay(surface, step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request_id": id})
}

// handleEvents streams engine notifications over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.log.With().Str("client", clientID).Logger()

	events := s.engine.Subscribe()
	defer s.engine.Unsubscribe(events)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// reads only to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := map[string]string{"client_id": clientID, "session_id": s.engine.State().SessionID}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}
	log.Debug().Msg("Event client connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Event client disconnected")
			return
		case ev, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	surface, _ := strconv.Atoi(mux.Vars(r)["surface"])

	s.streamsMu.RLock()
	out, found := s.streams[surface]
	s.streamsMu.RUnlock()

	if !found {
		http.NotFound(w, r)
		return
	}
	out.Handler()(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.streamsMu.RLock()
	surfaces := make([]int, 0, len(s.streams))
	for i := range s.streams {
		surfaces = append(surfaces, i)
	}
	s.streamsMu.RUnlock()
	sort.Ints(surfaces)

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>propview</title>
    <style>
        body { font-family: sans-serif; background: #1e1e1e; color: #d4d4d4; margin: 20px; }
        a { color: #569cd6; }
        img { max-width: 48%; margin: 4px; background: #000; }
    </style>
</head>
<body>
    <h1>propview</h1>
    <p>
        <a href="/api/state">state</a> |
        <a href="/api/stats">stats</a> |
        <a href="/api/device">device</a> |
        <a href="/api/config">config</a>
    </p>
`)
	for _, i := range surfaces {
		fmt.Fprintf(&b, "    <img src=\"/stream/%d\" alt=\"surface %d\">\n", i, i)
	}
	b.WriteString("</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}
