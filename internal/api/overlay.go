package api

import (
	"fmt"
	"net/http"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/gorilla/mux"
)

type widgetRequest struct {
	Enabled *bool   `json:"enabled"`
	Text    *string `json:"text"`
}

func (s *Server) overlayManager() (*overlay.Manager, error) {
	if s.overlay == nil {
		return nil, fmt.Errorf("%w: no overlay configured", overlay.ErrWidgetNotFound)
	}
	return s.overlay, nil
}

func (s *Server) writeOverlay(w http.ResponseWriter, m *overlay.Manager) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": m.IsEnabled(),
		"widgets": m.Status(),
	})
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	m, err := s.overlayManager()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOverlay(w, m)
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	m, err := s.overlayManager()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	on, err := s.decodeEnabled(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m.SetEnabled(on)
	s.writeOverlay(w, m)
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	m, err := s.overlayManager()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	widget, found := m.GetWidget(id)
	if !found {
		s.writeError(w, r, fmt.Errorf("%w: %s", overlay.ErrWidgetNotFound, id))
		return
	}

	var req widgetRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Text != nil {
		tw, isText := widget.(*overlay.TextWidget)
		if !isText {
			s.writeError(w, r, fmt.Errorf("%w: widget %s has no text", acquisition.ErrInvalidConfig, id))
			return
		}
		if err := tw.SetText(*req.Text); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", acquisition.ErrInvalidConfig, err))
			return
		}
	}
	if req.Enabled != nil {
		widget.SetEnabled(*req.Enabled)
	}
	s.writeOverlay(w, m)
}

func (s *Server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	m, err := s.overlayManager()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := m.RemoveWidget(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOverlay(w, m)
}
