package overlay

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWidget struct {
	*BaseWidget
	calls int
}

func (w *failingWidget) Type() string { return "failing" }

func (w *failingWidget) Render(*image.RGBA, FrameInfo) error {
	w.calls++
	return errors.New("boom")
}

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func lit(img *image.RGBA) int {
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0 {
			n++
		}
	}
	return n
}

func TestManagerWidgets(t *testing.T) {
	m := NewManager()
	tw, err := NewTextWidget("label", "hello", 0, 0)
	require.NoError(t, err)

	require.NoError(t, m.AddWidget(tw))
	require.NoError(t, m.AddWidget(NewStatusWidget("status", 0, 20)))
	assert.Error(t, m.AddWidget(tw))

	ids := []string{}
	for _, w := range m.Widgets() {
		ids = append(ids, w.ID())
	}
	assert.Equal(t, []string{"label", "status"}, ids)

	got, ok := m.GetWidget("status")
	require.True(t, ok)
	assert.Equal(t, "status", got.Type())

	tw.SetEnabled(false)
	assert.Equal(t, []WidgetStatus{
		{ID: "label", Type: "text", Enabled: false, Text: "hello"},
		{ID: "status", Type: "status", Enabled: true},
	}, m.Status())

	require.NoError(t, m.RemoveWidget("label"))
	assert.ErrorIs(t, m.RemoveWidget("label"), ErrWidgetNotFound)
	assert.Len(t, m.Widgets(), 1)
}

func TestTextWidgetRequiresText(t *testing.T) {
	_, err := NewTextWidget("empty", "", 0, 0)
	assert.Error(t, err)

	tw, err := NewTextWidget("label", "hello", 0, 0)
	require.NoError(t, err)
	assert.Error(t, tw.SetText(""))
	require.NoError(t, tw.SetText("bye"))
	assert.Equal(t, "bye", tw.Text())
}

func TestRenderDrawsText(t *testing.T) {
	m := NewManager()
	tw, err := NewTextWidget("label", "propview", 2, 2)
	require.NoError(t, err)
	require.NoError(t, m.AddWidget(tw))

	img := blank(120, 40)
	m.Render(img, FrameInfo{})
	assert.Greater(t, lit(img), 0)

	t.Run("disabled overlay draws nothing", func(t *testing.T) {
		m.SetEnabled(false)
		defer m.SetEnabled(true)

		img := blank(120, 40)
		m.Render(img, FrameInfo{})
		assert.Equal(t, 0, lit(img))
	})

	t.Run("disabled widget draws nothing", func(t *testing.T) {
		tw.SetEnabled(false)
		defer tw.SetEnabled(true)

		img := blank(120, 40)
		m.Render(img, FrameInfo{})
		assert.Equal(t, 0, lit(img))
	})
}

func TestRenderSkipsFailingWidget(t *testing.T) {
	m := NewManager()
	fw := &failingWidget{BaseWidget: NewBaseWidget("bad", 0, 0, 1)}
	require.NoError(t, m.AddWidget(fw))
	require.NoError(t, m.AddWidget(NewStatusWidget("status", 0, 0)))

	img := blank(200, 60)
	m.Render(img, FrameInfo{Live: "live"})
	assert.Equal(t, 1, fw.calls)
	assert.Greater(t, lit(img), 0)
}

func TestStatusLines(t *testing.T) {
	w := NewStatusWidget("status", 0, 0)

	lines := w.Lines(FrameInfo{Surface: 1, Frame: 42, Setting: "Base", Live: "live", Record: "recording", Recorded: 3, Target: 10})
	assert.Equal(t, []string{"LIVE  REC 3/10", "#1  frame 42  Base"}, lines)

	lines = w.Lines(FrameInfo{Record: "done", Recorded: 5})
	assert.Equal(t, "STOPPED  SEQ 5", lines[0])

	ts := time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC)
	lines = w.Lines(FrameInfo{Live: "live", Timestamp: ts})
	require.Len(t, lines, 3)
	assert.Equal(t, "03:04:05.006", lines[2])
}

func TestBlendClips(t *testing.T) {
	dst := blank(4, 4)
	src := image.NewUniform(color.RGBA{255, 255, 255, 255})
	DrawRectangle(dst, 2, 2, 10, 10, src.C, 1)
	assert.Equal(t, 4, lit(dst))

	BlendImage(dst, image.NewRGBA(image.Rect(0, 0, 2, 2)), -1, -1, 0)
	assert.Equal(t, 4, lit(dst))
}
