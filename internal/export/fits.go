package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/bryanchriswhite/propview/internal/device"
)

var (
	// ErrNoFrames is returned when there is nothing to write
	ErrNoFrames = errors.New("export: no frames")

	// ErrMixedSizes is returned when the frames of a sequence differ in size
	ErrMixedSizes = errors.New("export: frames differ in size")
)

// Meta describes a recorded sequence for the FITS header
type Meta struct {
	SequenceID string
	Device     device.Info
	Settings   []device.Setting
}

// maximum length of a FITS string value
const maxCardString = 68

func clip(s string) string {
	if len(s) > maxCardString {
		return s[:maxCardString]
	}
	return s
}

// Cards builds the header cards describing a sequence
func Cards(meta Meta, bufs []*device.Buffer) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "SEQID", Value: clip(meta.SequenceID), Comment: "recorded sequence id"},
		{Name: "DRIVER", Value: clip(meta.Device.Driver), Comment: "device driver"},
		{Name: "SERIAL", Value: clip(meta.Device.Serial), Comment: "device serial"},
		{Name: "MODEL", Value: clip(meta.Device.Model), Comment: "device model"},
	}

	names := make(map[int]string, len(meta.Settings))
	for _, s := range meta.Settings {
		names[s.Index] = s.Name
	}
	var used []string
	seen := map[int]bool{}
	for _, b := range bufs {
		if !seen[b.Setting] {
			seen[b.Setting] = true
			name := names[b.Setting]
			if name == "" {
				name = fmt.Sprintf("%d", b.Setting)
			}
			used = append(used, name)
		}
	}
	if len(used) > 0 {
		cards = append(cards, fitsio.Card{Name: "SETTINGS", Value: clip(strings.Join(used, ",")), Comment: "capture settings"})
	}

	if len(bufs) > 0 {
		first, last := bufs[0], bufs[len(bufs)-1]
		cards = append(cards,
			fitsio.Card{Name: "FRAME0", Value: int(first.FrameNumber), Comment: "first frame number"},
			fitsio.Card{Name: "FRAME1", Value: int(last.FrameNumber), Comment: "last frame number"},
		)
		if !first.Timestamp.IsZero() {
			cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: first.Timestamp.UTC().Format(time.RFC3339Nano), Comment: "first frame time"})
		}
	}
	return cards
}

// WriteFITS streams the frames as one 8-bit cube (NAXIS1 width, NAXIS2
// height, NAXIS3 frames) to w
func WriteFITS(w io.Writer, cards []fitsio.Card, bufs []*device.Buffer) error {
	if len(bufs) == 0 {
		return ErrNoFrames
	}
	width, height := bufs[0].Width, bufs[0].Height
	for _, b := range bufs {
		if b.Width != width || b.Height != height || len(b.Pixels) < width*height {
			return fmt.Errorf("%w: request %d is %dx%d, want %dx%d", ErrMixedSizes, b.Request, b.Width, b.Height, width, height)
		}
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	dims := []int{width, height, len(bufs)}
	im := fitsio.NewImage(8, dims)
	defer im.Close()

	cards = append(cards, fitsio.Card{Name: "NFRAMES", Value: len(bufs), Comment: "frames in cube"})
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	frame := width * height
	pix := make([]byte, 0, frame*len(bufs))
	for _, b := range bufs {
		pix = append(pix, b.Pixels[:frame]...)
	}
	if err := im.Write(pix); err != nil {
		return err
	}
	return fits.Write(im)
}
