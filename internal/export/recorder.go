package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/oklog/ulid/v2"
)

// Recorder writes sequences as FITS files into a directory
type Recorder struct {
	Dir    string
	Prefix string
}

// NewRecorder creates a recorder writing to dir
func NewRecorder(dir, prefix string) *Recorder {
	return &Recorder{Dir: dir, Prefix: prefix}
}

// Save writes the frames to Dir/<Prefix><ULID>.fits and returns the path.
// A partially written file is removed.
func (r *Recorder) Save(cards []fitsio.Card, bufs []*device.Buffer) (string, error) {
	if len(bufs) == 0 {
		return "", ErrNoFrames
	}
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(r.Dir, r.Prefix+ulid.Make().String()+".fits")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	err = WriteFITS(f, cards, bufs)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	logger.WithComponent("export").Info().
		Str("path", path).
		Int("frames", len(bufs)).
		Msg("Sequence exported")
	return path, nil
}
