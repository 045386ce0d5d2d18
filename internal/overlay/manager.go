package overlay

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/propview/internal/logger"
)

// ErrWidgetNotFound is returned for an unknown widget id
var ErrWidgetNotFound = errors.New("widget not found")

// WidgetStatus describes one widget for listings
type WidgetStatus struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Text    string `json:"text,omitempty"`
}

// Manager handles overlay widgets and rendering. Widgets are drawn in the
// order they were added.
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// NewDefaultManager returns a manager with the status widget in the top left
// corner
func NewDefaultManager() *Manager {
	m := NewManager()
	_ = m.AddWidget(NewStatusWidget("status", 8, 8))
	return m
}

func (m *Manager) indexOf(id string) int {
	for i, w := range m.widgets {
		if w.ID() == id {
			return i
		}
	}
	return -1
}

// AddWidget adds a widget on top of the existing ones
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(widget.ID()) >= 0 {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("widget", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrWidgetNotFound, id)
	}
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.widgets[i], true
	}
	return nil, false
}

// Widgets returns all widgets in drawing order
func (m *Manager) Widgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.widgets...)
}

// Status lists the widgets in drawing order
func (m *Manager) Status() []WidgetStatus {
	widgets := m.Widgets()
	out := make([]WidgetStatus, 0, len(widgets))
	for _, w := range widgets {
		st := WidgetStatus{ID: w.ID(), Type: w.Type(), Enabled: w.IsEnabled()}
		if tw, ok := w.(*TextWidget); ok {
			st.Text = tw.Text()
		}
		out = append(out, st)
	}
	return out
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render renders all enabled widgets onto img. A failing widget is logged
// and skipped.
func (m *Manager) Render(img *image.RGBA, info FrameInfo) {
	if !m.IsEnabled() {
		return
	}

	for _, widget := range m.Widgets() {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img, info); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("widget", widget.ID()).
				Msg("Failed to render widget")
		}
	}
}
