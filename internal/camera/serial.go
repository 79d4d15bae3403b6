package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/camera.control/internal/monitoring"
	"github.com/banshee-data/camera.control/internal/serialmux"
	"github.com/banshee-data/camera.control/internal/timeutil"
)

// ErrNoReply is returned when the device does not answer a command in time.
var ErrNoReply = errors.New("no reply from camera")

var logf = monitoring.Prefixed("[camera] ")

// SerialCamera drives a camera over a line-oriented serial control link.
// Commands are short ASCII mnemonics followed by " #N", a per-request tag;
// every command is answered with KEY=VALUE #N on success or KEY! #N on
// failure, where KEY is the command's mnemonic without its argument. A reply
// that arrives after its request timed out carries a stale tag and is
// dropped.
type SerialCamera struct {
	mux          serialmux.SerialMuxInterface
	clock        timeutil.Clock
	replyTimeout time.Duration

	// one request in flight keeps replies unambiguous
	reqMu sync.Mutex
	seq   uint64

	removed atomic.Bool

	geometry  Geometry
	step      float64
	tolerance float64
}

// NewSerialCamera wraps a serial mux. Call Open before use and run Run in
// its own goroutine so replies are read.
func NewSerialCamera(mux serialmux.SerialMuxInterface, clock timeutil.Clock, replyTimeout time.Duration) *SerialCamera {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialCamera{mux: mux, clock: clock, replyTimeout: replyTimeout}
}

// Run reads from the serial link until ctx ends. Losing the link for any
// other reason marks the device removed. An unsolicited X=1 line from the
// device does the same.
func (c *SerialCamera) Run(ctx context.Context) error {
	id, lines := c.mux.Subscribe()
	defer c.mux.Unsubscribe(id)

	go func() {
		for line := range lines {
			if r, ok := serialmux.ParseReply(line); ok && r.Key == "X" && r.Value == "1" {
				if !c.removed.Swap(true) {
					logf("device reported removal")
				}
			}
		}
	}()

	err := c.mux.Monitor(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.removed.Store(true)
	logf("serial link lost: %v", err)
	return fmt.Errorf("serial monitor: %w", err)
}

// Open reads the device's fixed properties.
func (c *SerialCamera) Open() error {
	info, err := c.request("I?", "I")
	if err != nil {
		return fmt.Errorf("failed to read geometry: %w", err)
	}
	g, err := parseGeometry(info)
	if err != nil {
		return err
	}

	step, err := c.requestFloat("S?", "S")
	if err != nil {
		return fmt.Errorf("failed to read exposure step: %w", err)
	}
	tol, err := c.requestFloat("T?", "T")
	if err != nil {
		return fmt.Errorf("failed to read brightness tolerance: %w", err)
	}

	c.geometry, c.step, c.tolerance = g, step, tol
	logf("opened %dx%d %s, exposure step %g, brightness tolerance %g", g.Width, g.Height, g.Encoding, step, tol)
	return nil
}

// parseGeometry parses "width,height,encoding,bytes_per_pixel".
func parseGeometry(v string) (Geometry, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return Geometry{}, fmt.Errorf("malformed geometry %q", v)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	d, errD := strconv.Atoi(parts[3])
	if err := errors.Join(errW, errH, errD); err != nil {
		return Geometry{}, fmt.Errorf("malformed geometry %q: %w", v, err)
	}
	if w <= 0 || h <= 0 || d <= 0 {
		return Geometry{}, fmt.Errorf("malformed geometry %q: dimensions must be positive", v)
	}
	return Geometry{Width: w, Height: h, Encoding: parts[2], BytesPerPixel: d}, nil
}

// request sends cmd and waits for the reply carrying key.
func (c *SerialCamera) request(cmd, key string) (string, error) {
	if c.removed.Load() {
		return "", ErrRemoved
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.seq++
	tag := strconv.FormatUint(c.seq, 10)

	id, lines := c.mux.Subscribe()
	defer c.mux.Unsubscribe(id)

	if err := c.mux.SendCommand(cmd + " #" + tag); err != nil {
		return "", fmt.Errorf("send %q: %w", cmd, err)
	}

	timeout := c.clock.After(c.replyTimeout)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", ErrRemoved
			}
			r, ok := serialmux.ParseReply(line)
			if !ok || r.Key != key || r.Tag != tag {
				continue
			}
			if r.Failed {
				return "", fmt.Errorf("camera refused %q", cmd)
			}
			return r.Value, nil
		case <-timeout:
			return "", fmt.Errorf("%q: %w", cmd, ErrNoReply)
		}
	}
}

func (c *SerialCamera) requestFloat(cmd, key string) (float64, error) {
	v, err := c.request(cmd, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s reply %q: %w", key, v, err)
	}
	return f, nil
}

func (c *SerialCamera) IsReady() bool {
	v, err := c.request("R?", "R")
	return err == nil && v == "1"
}

func (c *SerialCamera) IsRemoved() bool {
	if c.removed.Load() {
		return true
	}
	v, err := c.request("X?", "X")
	if err == nil && v == "1" {
		c.removed.Store(true)
		return true
	}
	return c.removed.Load()
}

func (c *SerialCamera) Geometry() Geometry { return c.geometry }

// Grab requests one frame, answered as F=width,height,stride,<base64 pixels>.
func (c *SerialCamera) Grab(f *Frame) error {
	v, err := c.request("F", "F")
	if err != nil {
		if errors.Is(err, ErrRemoved) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFrameRejected, err)
	}

	parts := strings.SplitN(v, ",", 4)
	if len(parts) != 4 {
		return fmt.Errorf("%w: malformed frame header", ErrFrameRejected)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	stride, errS := strconv.Atoi(parts[2])
	if err := errors.Join(errW, errH, errS); err != nil {
		return fmt.Errorf("%w: %v", ErrFrameRejected, err)
	}

	n := base64.StdEncoding.DecodedLen(len(parts[3]))
	if cap(f.Pixels) < n {
		f.Pixels = make([]byte, n)
	}
	f.Pixels = f.Pixels[:n]
	n, err = base64.StdEncoding.Decode(f.Pixels, []byte(parts[3]))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFrameRejected, err)
	}
	f.Pixels = f.Pixels[:n]
	if n != stride*h {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameRejected, n, stride*h)
	}

	f.Width, f.Height, f.Stride = w, h, stride
	f.Encoding = c.geometry.Encoding
	f.Timestamp = c.clock.Now()
	return nil
}

func (c *SerialCamera) command(cmd, key string) error {
	_, err := c.request(cmd, key)
	return err
}

func (c *SerialCamera) SetExposure(v float64) error {
	return c.command("E="+formatFloat(v), "E")
}

func (c *SerialCamera) SetGain(v float64) error {
	return c.command("G="+formatFloat(v), "G")
}

func (c *SerialCamera) SetBrightness(target, current float64) error {
	return c.command("B="+formatFloat(target)+","+formatFloat(current), "B")
}

func (c *SerialCamera) DisableAutoSearch() error {
	return c.command("BX", "BX")
}

func (c *SerialCamera) IsBrightnessSearchRunning() bool {
	v, err := c.request("B?", "B")
	return err == nil && v == "1"
}

func (c *SerialCamera) CurrentExposure() (float64, error) {
	return c.requestFloat("E?", "E")
}

func (c *SerialCamera) CurrentGain() (float64, error) {
	return c.requestFloat("G?", "G")
}

func (c *SerialCamera) ExposureStep() float64 { return c.step }

func (c *SerialCamera) MaxBrightnessTolerance() float64 { return c.tolerance }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
