package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// StatusWidget stamps the capture state and frame identity onto each
// preview frame
type StatusWidget struct {
	*BaseWidget
	textColor color.RGBA
	recColor  color.RGBA
	bgColor   color.RGBA
}

// NewStatusWidget creates a status block at (x, y)
func NewStatusWidget(id string, x, y int) *StatusWidget {
	return &StatusWidget{
		BaseWidget: NewBaseWidget(id, x, y, 0.85),
		textColor:  color.RGBA{230, 230, 230, 255},
		recColor:   color.RGBA{255, 80, 80, 255},
		bgColor:    color.RGBA{0, 0, 0, 255},
	}
}

// Type returns the widget type
func (w *StatusWidget) Type() string {
	return "status"
}

// Lines returns the text the widget renders for info
func (w *StatusWidget) Lines(info FrameInfo) []string {
	state := strings.ToUpper(info.Live)
	if state == "" {
		state = "STOPPED"
	}
	switch info.Record {
	case "recording":
		state += fmt.Sprintf("  REC %d/%d", info.Recorded, info.Target)
	case "done":
		state += fmt.Sprintf("  SEQ %d", info.Recorded)
	}

	frame := fmt.Sprintf("#%d  frame %d", info.Surface, info.Frame)
	if info.Setting != "" {
		frame += "  " + info.Setting
	}

	lines := []string{state, frame}
	if !info.Timestamp.IsZero() {
		lines = append(lines, info.Timestamp.Format("15:04:05.000"))
	}
	return lines
}

// Render draws the status block
func (w *StatusWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() {
		return nil
	}
	fg := w.textColor
	if info.Record == "recording" {
		fg = w.recColor
	}
	bg := w.bgColor
	drawLines(img, w.Lines(info), w.x, w.y, 4, fg, &bg, w.opacity)
	return nil
}
