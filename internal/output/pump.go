package output

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/bryanchriswhite/propview/internal/overlay"
	"github.com/rs/zerolog"
)

// Source is the display side of the acquisition engine
type Source interface {
	AdvanceDisplay(surface, step int) (device.RequestID, error)
	DisplayFrame(surface int) (*device.Buffer, error)
}

// DescribeFunc fills the overlay information for a frame
type DescribeFunc func(surface int, buf *device.Buffer) overlay.FrameInfo

// Pump moves the frames of one display surface to an output at a fixed
// rate. Each tick advances the surface by one entry, so the surface queue
// drains at the preview rate.
type Pump struct {
	source   Source
	out      Output
	surface  int
	interval time.Duration
	overlay  *overlay.Manager
	describe DescribeFunc
	log      *zerolog.Logger

	last device.RequestID
}

// NewPump creates a pump for surface. ov and describe may be nil.
func NewPump(source Source, out Output, surface, fps int, ov *overlay.Manager, describe DescribeFunc) *Pump {
	if fps < 1 {
		fps = 1
	}
	log := logger.WithComponent("mjpeg").With().Int("surface", surface).Logger()
	return &Pump{
		source:   source,
		out:      out,
		surface:  surface,
		interval: time.Second / time.Duration(fps),
		overlay:  ov,
		describe: describe,
		log:      &log,
	}
}

// Run pumps frames until ctx is done
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(); err != nil {
				p.log.Debug().Err(err).Msg("Preview frame skipped")
			}
		}
	}
}

// Tick advances the surface and writes its frame when it changed. It
// reports whether a frame was written.
func (p *Pump) Tick() (bool, error) {
	if _, err := p.source.AdvanceDisplay(p.surface, 1); err != nil {
		return false, err
	}
	buf, err := p.source.DisplayFrame(p.surface)
	if err != nil || buf == nil {
		return false, err
	}
	if buf.Request == p.last {
		return false, nil
	}

	img, err := ToRGBA(buf)
	if err != nil {
		return false, err
	}
	if p.overlay != nil {
		info := overlay.FrameInfo{Surface: p.surface, Request: int64(buf.Request), Frame: buf.FrameNumber, Timestamp: buf.Timestamp}
		if p.describe != nil {
			info = p.describe(p.surface, buf)
		}
		p.overlay.Render(img, info)
	}
	if err := p.out.WriteFrame(img); err != nil {
		return false, err
	}
	p.last = buf.Request
	return true, nil
}

// ToRGBA converts an 8-bit mono buffer into an RGBA image
func ToRGBA(buf *device.Buffer) (*image.RGBA, error) {
	if buf.Width < 1 || buf.Height < 1 || len(buf.Pixels) < buf.Width*buf.Height {
		return nil, fmt.Errorf("buffer of request %d: %dx%d with %d bytes", buf.Request, buf.Width, buf.Height, len(buf.Pixels))
	}
	gray := &image.Gray{
		Pix:    buf.Pixels,
		Stride: buf.Width,
		Rect:   image.Rect(0, 0, buf.Width, buf.Height),
	}
	img := image.NewRGBA(gray.Rect)
	draw.Draw(img, img.Rect, gray, image.Point{}, draw.Src)
	return img, nil
}
