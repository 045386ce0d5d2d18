package device

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by WaitForCompletion when no request completed
	// within the timeout
	ErrTimeout = errors.New("device: wait for completion timed out")

	// ErrClosed is returned by every call made on a device that is not open
	ErrClosed = errors.New("device: handle closed or invalid")

	// ErrNoFreeBuffer is returned by SubmitRequest when all request buffers
	// are locked
	ErrNoFreeBuffer = errors.New("device: no free request buffer")

	// ErrUnknownRequest is returned for request ids the device does not know
	ErrUnknownRequest = errors.New("device: unknown request")

	// ErrUnknownSetting is returned when a setting index is out of range
	ErrUnknownSetting = errors.New("device: unknown setting")
)

// RequestID identifies one capture request buffer on a device.
// Ids are unique for the lifetime of an open device handle.
type RequestID int64

// NoRequest is the zero value used where no request is referenced
const NoRequest RequestID = 0

// Result is the completion status of a request
type Result int

const (
	ResultOK Result = iota
	ResultIncomplete
	ResultFailed
	ResultTimeout
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultIncomplete:
		return "incomplete"
	case ResultFailed:
		return "failed"
	case ResultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Setting is one capture profile the device can acquire with
type Setting struct {
	Index int    `json:"index"`
	Name  string `json:"name"`

	// Capacity is the number of requests this setting may have queued
	Capacity int `json:"capacity"`
}

// Buffer describes the image data attached to a completed request.
// Pixels are 8-bit mono, row-major, Width*Height bytes.
type Buffer struct {
	Request     RequestID `json:"request_id"`
	Setting     int       `json:"setting"`
	FrameNumber uint64    `json:"frame_number"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Pixels      []byte    `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the buffer so it can outlive the request lock
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := *b
	c.Pixels = make([]byte, len(b.Pixels))
	copy(c.Pixels, b.Pixels)
	return &c
}

// Info holds identification of an opened device
type Info struct {
	Driver string `json:"driver"`
	Serial string `json:"serial"`
	Model  string `json:"model"`
}

// Device is the narrow contract the capture core consumes from a vendor SDK.
//
// SubmitRequest, Unlock, RequestResult and RequestBuffer must not block on
// device I/O; WaitForCompletion is the only blocking call and must honour
// its timeout. Unlocking a request that has not completed yet cancels it and
// its completion is never reported.
type Device interface {
	// Open acquires the device handle
	Open() error

	// Close releases the device handle. Requests still locked are dropped
	Close() error

	// Info describes the opened device
	Info() Info

	// Settings enumerates the capture settings the device offers
	Settings() ([]Setting, error)

	// SubmitRequest queues a new capture request using the given setting
	SubmitRequest(setting int) (RequestID, error)

	// WaitForCompletion blocks until a request completes, the timeout
	// elapses (ErrTimeout) or the device goes away (ErrClosed)
	WaitForCompletion(timeout time.Duration) (RequestID, error)

	// Unlock returns a request buffer to the device
	Unlock(id RequestID) error

	// RequestResult reports how a completed request finished
	RequestResult(id RequestID) (Result, error)

	// RequestBuffer returns the image buffer of a completed request. The
	// pixel slice is only valid while the request stays locked
	RequestBuffer(id RequestID) (*Buffer, error)
}

// IsFatal reports whether err means the device handle can no longer be used
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed)
}
