package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	lineHeight = 13 // basicfont.Face7x13
	ascent     = 11
)

// TextWidget displays fixed text on the overlay
type TextWidget struct {
	*BaseWidget
	mu        sync.RWMutex
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // nil for transparent
	padding   int
}

// NewTextWidget creates a white text label at (x, y)
func NewTextWidget(id, text string, x, y int) (*TextWidget, error) {
	if text == "" {
		return nil, fmt.Errorf("text widget %s requires non-empty text", id)
	}
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		text:       text,
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    4,
	}, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, _ FrameInfo) error {
	if !w.IsEnabled() {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	drawLines(img, strings.Split(w.text, "\n"), w.x, w.y, w.padding, w.textColor, w.bgColor, w.opacity)
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) error {
	if text == "" {
		return fmt.Errorf("text widget %s requires non-empty text", w.id)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = text
	return nil
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bgColor = c
}

// drawLines renders lines of basicfont text as one block, on an optional
// background box
func drawLines(img *image.RGBA, lines []string, x, y, padding int, fg color.RGBA, bg *color.RGBA, opacity float64) {
	if len(lines) == 0 {
		return
	}
	face := basicfont.Face7x13

	width := 0
	for _, l := range lines {
		if px := font.MeasureString(face, l).Ceil(); px > width {
			width = px
		}
	}
	if width == 0 {
		return
	}
	height := len(lines) * lineHeight

	if bg != nil {
		DrawRectangle(img, x, y, width+padding*2, height+padding*2, *bg, opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(fg),
		Face: face,
	}
	for i, l := range lines {
		d.Dot = fixed.Point26_6{X: 0, Y: fixed.I(i*lineHeight + ascent)}
		d.DrawString(l)
	}
	BlendImage(img, textImg, x+padding, y+padding, opacity)
}
