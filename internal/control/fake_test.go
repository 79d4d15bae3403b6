package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/config"
	"github.com/banshee-data/camera.control/internal/stream"
	"github.com/banshee-data/camera.control/internal/timeutil"
)

var errGlitch = errors.New("usb glitch")

// fakeHW is a scripted camera that records every call in order.
type fakeHW struct {
	mu    sync.Mutex
	calls []string

	ready      bool
	readyAfter int // IsReady calls that report false first
	readyCalls int
	removed    bool

	exposure, gain float64
	// lag is how many register reads still report the old value after a write
	lag          int
	lagLeft      int
	pendingExp   float64
	pendingGain  float64
	stuck        bool // writes never take effect
	step, tol    float64
	searching    bool
	readHook     func(n int) // called on each CurrentExposure with its 1-based count
	exposureRead int

	// levels are the brightness of successive grabs; the last one repeats
	levels []byte
	grabs  int
	// grabErr maps a 1-based grab attempt to a failure
	grabErr map[int]error
	// removeAt marks the device removed on that grab attempt
	removeAt int
}

func newFakeHW() *fakeHW {
	return &fakeHW{
		ready:    true,
		exposure: 1000,
		gain:     1,
		step:     10,
		tol:      2.5,
		levels:   []byte{128},
		grabErr:  map[int]error{},
	}
}

func (h *fakeHW) record(format string, args ...any) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *fakeHW) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Writes returns only the calls that change device state or acquire frames.
func (h *fakeHW) Writes() []string {
	var out []string
	for _, c := range h.Calls() {
		switch {
		case len(c) >= 3 && c[:3] == "Set", c == "Grab", c == "DisableAutoSearch":
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHW) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readyCalls++
	return h.ready && !h.removed && h.readyCalls > h.readyAfter
}

func (h *fakeHW) IsRemoved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

func (h *fakeHW) Geometry() camera.Geometry {
	return camera.Geometry{Width: 4, Height: 2, Encoding: "mono8", BytesPerPixel: 1}
}

func (h *fakeHW) Grab(f *camera.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("Grab")
	h.grabs++
	if h.removeAt > 0 && h.grabs >= h.removeAt {
		h.removed = true
	}
	if h.removed {
		return camera.ErrRemoved
	}
	if err := h.grabErr[h.grabs]; err != nil {
		return err
	}
	idx := h.grabs - 1
	if idx >= len(h.levels) {
		idx = len(h.levels) - 1
	}
	g := h.Geometry()
	f.Width, f.Height, f.Stride, f.Encoding = g.Width, g.Height, g.Stride(), g.Encoding
	f.Pixels = f.Pixels[:0]
	for i := 0; i < g.Size(); i++ {
		f.Pixels = append(f.Pixels, h.levels[idx])
	}
	return nil
}

func (h *fakeHW) SetExposure(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("SetExposure(%g)", v)
	if !h.stuck {
		h.pendingExp = v
		h.lagLeft = h.lag
		if h.lag == 0 {
			h.exposure = v
		}
	}
	return nil
}

func (h *fakeHW) SetGain(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("SetGain(%g)", v)
	if !h.stuck {
		h.pendingGain = v
		h.lagLeft = h.lag
		if h.lag == 0 {
			h.gain = v
		}
	}
	return nil
}

func (h *fakeHW) SetBrightness(target, current float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("SetBrightness(%g,%g)", target, current)
	h.searching = true
	return nil
}

func (h *fakeHW) DisableAutoSearch() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("DisableAutoSearch")
	h.searching = false
	return nil
}

func (h *fakeHW) IsBrightnessSearchRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.searching
}

func (h *fakeHW) settle() {
	if h.lagLeft > 0 {
		h.lagLeft--
		if h.lagLeft == 0 {
			if h.pendingExp != 0 {
				h.exposure = h.pendingExp
			}
			if h.pendingGain != 0 {
				h.gain = h.pendingGain
			}
		}
	}
}

func (h *fakeHW) CurrentExposure() (float64, error) {
	h.mu.Lock()
	h.record("CurrentExposure")
	h.exposureRead++
	n := h.exposureRead
	hook := h.readHook
	h.settle()
	v := h.exposure
	h.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return v, nil
}

func (h *fakeHW) CurrentGain() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("CurrentGain")
	h.settle()
	return h.gain, nil
}

func (h *fakeHW) ExposureStep() float64 { return h.step }

func (h *fakeHW) MaxBrightnessTolerance() float64 { return h.tol }

// fixture wires a controller to a fake camera, a mock clock and a hub.
type fixture struct {
	hw     *fakeHW
	clock  *timeutil.MockClock
	hub    *stream.Hub
	ctrl   *Controller
	fatals []error
	mu     sync.Mutex
}

func newFixture(t *testing.T, hw *fakeHW) *fixture {
	t.Helper()
	fx := &fixture{
		hw:    hw,
		clock: timeutil.NewMockClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)),
		hub:   stream.NewHub(),
	}
	ctrl, err := New(Options{
		Hardware:  hw,
		Publisher: fx.hub,
		Config:    config.EmptyControlConfig(),
		Clock:     fx.clock,
		FrameID:   "camera_test",
		OnFatal: func(err error) {
			fx.mu.Lock()
			defer fx.mu.Unlock()
			fx.fatals = append(fx.fatals, err)
		},
	})
	require.NoError(t, err)
	fx.ctrl = ctrl
	return fx
}

func (fx *fixture) Fatals() []error {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]error(nil), fx.fatals...)
}

// alternating returns levels that swing by more than the stall delta so a
// brightness loop never stalls.
func alternating(a, b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = a
		} else {
			out[i] = b
		}
	}
	return out
}

var bg = context.Background()
