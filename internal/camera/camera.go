// Package camera defines the hardware boundary of the controller: the
// operations an image sensor exposes, the frame buffer it fills, and two
// implementations (a simulated sensor and a serial-attached device).
package camera

import (
	"errors"
	"time"
)

var (
	// ErrFrameRejected is returned by Grab when the device answered but
	// produced no usable image.
	ErrFrameRejected = errors.New("camera rejected frame request")
	// ErrRemoved is returned by any operation once the device is gone.
	ErrRemoved = errors.New("camera removed")
)

// Geometry describes the image layout the device produces.
type Geometry struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Encoding      string `json:"encoding"`
	BytesPerPixel int    `json:"bytes_per_pixel"`
}

// Stride is the number of bytes in one image row.
func (g Geometry) Stride() int {
	return g.Width * g.BytesPerPixel
}

// Size is the number of bytes in one image.
func (g Geometry) Size() int {
	return g.Stride() * g.Height
}

// Frame is one acquired image. A Frame is reused across grabs; Pixels is
// only meaningful between a successful Grab and the next attempt.
type Frame struct {
	Pixels    []byte    `json:"-"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Stride    int       `json:"stride"`
	Encoding  string    `json:"encoding"`
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of f that does not share the pixel buffer.
func (f *Frame) Clone() Frame {
	out := *f
	out.Pixels = append([]byte(nil), f.Pixels...)
	return out
}

// setGeometry sizes the pixel buffer for g, reusing its capacity.
func (f *Frame) setGeometry(g Geometry) {
	f.Width = g.Width
	f.Height = g.Height
	f.Stride = g.Stride()
	f.Encoding = g.Encoding
	if cap(f.Pixels) < g.Size() {
		f.Pixels = make([]byte, g.Size())
	}
	f.Pixels = f.Pixels[:g.Size()]
}

// Hardware is the set of device operations the controller drives. Calls are
// not required to be safe for concurrent use; the controller serialises
// them.
type Hardware interface {
	// IsReady reports whether the device is open and producing data.
	IsReady() bool
	// IsRemoved reports whether the device has been physically detached.
	IsRemoved() bool
	Geometry() Geometry

	// Grab acquires one image into f, overwriting its pixels in place.
	Grab(f *Frame) error

	SetExposure(v float64) error
	SetGain(v float64) error
	// SetBrightness asks the device to search for exposure/gain settings
	// producing the target mean brightness. current is the caller's latest
	// measurement, which the device uses to steer its search.
	SetBrightness(target, current float64) error
	// DisableAutoSearch stops any brightness search still running.
	DisableAutoSearch() error
	IsBrightnessSearchRunning() bool

	CurrentExposure() (float64, error)
	CurrentGain() (float64, error)

	// ExposureStep is the smallest exposure increment the device resolves.
	ExposureStep() float64
	// MaxBrightnessTolerance is how close to a brightness target the device
	// can be expected to land.
	MaxBrightnessTolerance() float64
}
