package device

import (
	"context"
	"errors"
	"time"

	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/cenkalti/backoff"
)

// OpenWithRetry opens d with exponential backoff. Vendor SDKs often refuse an
// open right after a previous close while the transport layer settles.
// ErrClosed and ErrUnknownSetting are permanent and returned immediately.
func OpenWithRetry(ctx context.Context, d Device, maxElapsed time.Duration) error {
	log := logger.WithComponent("device")

	attempt := 0
	op := func() error {
		attempt++
		err := d.Open()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrUnknownSetting) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Device open failed, retrying")
		return err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock,
	}

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
