// Package control drives an image sensor toward requested exposure, gain and
// brightness setpoints, runs batched acquisitions, and feeds the continuous
// frame stream. Every hardware access goes through one Guard.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/config"
	"github.com/banshee-data/camera.control/internal/monitoring"
	"github.com/banshee-data/camera.control/internal/timeutil"
)

var logf = monitoring.Prefixed("[control] ")

// Publisher receives frames from the continuous loop. Publish must not
// block and must not retain f.Pixels after it returns.
type Publisher interface {
	NumSubscribers() int
	Publish(f camera.Frame)
}

// Options configures a Controller.
type Options struct {
	Hardware  camera.Hardware
	Publisher Publisher
	Config    *config.ControlConfig
	Clock     timeutil.Clock
	// FrameID labels every frame this controller acquires.
	FrameID string
	// OnFatal is called once, from whichever goroutine first observes the
	// device gone.
	OnFatal func(error)
}

// Controller owns the camera handle and the last acquired frame.
type Controller struct {
	hw      camera.Hardware
	pub     Publisher
	policy  Policy
	clock   timeutil.Clock
	frameID string
	period  time.Duration

	guard *Guard
	// frame and frameValid are only touched while holding guard
	frame      camera.Frame
	frameValid bool

	ready  atomic.Bool
	paused atomic.Bool

	fatalOnce sync.Once
	fatalErr  atomic.Value
	onFatal   func(error)

	lastMu  sync.Mutex
	last    map[Kind]Outcome
	lastAny Outcome
}

// New creates a Controller. Hardware is required.
func New(opts Options) (*Controller, error) {
	if opts.Hardware == nil {
		return nil, errors.New("control: nil hardware")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyControlConfig()
	}
	c := &Controller{
		hw:      opts.Hardware,
		pub:     opts.Publisher,
		policy:  PolicyFromConfig(cfg),
		clock:   opts.Clock,
		frameID: opts.FrameID,
		period:  cfg.GetFramePeriod(),
		guard:   NewGuard(),
		onFatal: opts.OnFatal,
		last:    make(map[Kind]Outcome),
	}
	c.ready.Store(opts.Hardware.IsReady())
	return c, nil
}

// Policy returns the controller's setpoint policy.
func (c *Controller) Policy() Policy { return c.policy }

// Ready reports device readiness as last observed.
func (c *Controller) Ready() bool { return c.ready.Load() }

// SetPaused sets the administrative sleep flag. It only gates the
// continuous loop; setpoints and batches still run while paused.
func (c *Controller) SetPaused(paused bool) {
	if c.paused.Swap(paused) != paused {
		if paused {
			logf("entering sleep: continuous acquisition suspended")
		} else {
			logf("leaving sleep: continuous acquisition resumed")
		}
	}
}

// Paused reports the administrative sleep flag.
func (c *Controller) Paused() bool { return c.paused.Load() }

// Fatal returns the error that triggered the fatal path, if any.
func (c *Controller) Fatal() error {
	if err, ok := c.fatalErr.Load().(error); ok {
		return err
	}
	return nil
}

func (c *Controller) fatal(err error) {
	c.fatalOnce.Do(func() {
		c.fatalErr.Store(err)
		c.ready.Store(false)
		logf("fatal: %v", err)
		if c.onFatal != nil {
			c.onFatal(err)
		}
	})
}

// Refresh re-reads device readiness when the guard is free and escalates
// a detached device. It never waits behind a running convergence.
func (c *Controller) Refresh() bool {
	lease, ok := c.guard.TryAcquire()
	if !ok {
		return c.ready.Load()
	}
	defer lease.Release()

	if c.hw.IsRemoved() {
		c.fatal(ErrDeviceRemoved)
		return false
	}
	ready := c.hw.IsReady()
	c.ready.Store(ready)
	return ready
}

// mustHold panics when a helper is reached without the guard, which is a
// programming error rather than a runtime condition.
func (c *Controller) mustHold(l *Lease) {
	if !c.guard.Held(l) {
		panic("control: camera access without holding the guard")
	}
}

// grab acquires one frame into f. A failure on a detached device triggers
// the fatal path.
func (c *Controller) grab(l *Lease, f *camera.Frame) error {
	c.mustHold(l)
	// devices that stamp frames themselves overwrite this
	f.Timestamp = time.Time{}
	if err := c.hw.Grab(f); err != nil {
		if c.hw.IsRemoved() {
			removed := fmt.Errorf("%w (%v)", ErrDeviceRemoved, err)
			c.fatal(removed)
			return removed
		}
		return fmt.Errorf("%w (%v)", ErrInvalidFrame, err)
	}
	f.FrameID = c.frameID
	if f.Timestamp.IsZero() {
		f.Timestamp = c.clock.Now()
	}
	c.ready.Store(true)
	return nil
}

// grabLast grabs into the controller's own frame buffer.
func (c *Controller) grabLast(l *Lease) error {
	err := c.grab(l, &c.frame)
	c.frameValid = err == nil
	return err
}

// LastFrame returns a copy of the most recently acquired frame. ok is false
// when the last grab attempt failed or nothing has been grabbed yet.
func (c *Controller) LastFrame(ctx context.Context) (f camera.Frame, ok bool, err error) {
	lease, err := c.guard.Acquire(ctx)
	if err != nil {
		return camera.Frame{}, false, ErrShutdown
	}
	defer lease.Release()
	if !c.frameValid {
		return camera.Frame{}, false, nil
	}
	return c.frame.Clone(), true, nil
}

func (c *Controller) remember(o Outcome) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	c.last[o.Kind] = o
	c.lastAny = o
}

// LastOutcome returns the most recent outcome for kind, or for any kind
// when kind is zero.
func (c *Controller) LastOutcome(kind Kind) (Outcome, bool) {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	if kind == 0 {
		return c.lastAny, c.lastAny.Kind != 0
	}
	o, ok := c.last[kind]
	return o, ok
}

// Status is a lock-free snapshot for reporting.
type Status struct {
	Ready       bool   `json:"ready"`
	Paused      bool   `json:"paused"`
	Removed     bool   `json:"removed"`
	Subscribers int    `json:"subscribers"`
	FatalError  string `json:"fatal_error,omitempty"`
}

func (c *Controller) Status() Status {
	s := Status{
		Ready:  c.ready.Load(),
		Paused: c.paused.Load(),
	}
	if err := c.Fatal(); err != nil {
		s.Removed = true
		s.FatalError = err.Error()
	}
	if c.pub != nil {
		s.Subscribers = c.pub.NumSubscribers()
	}
	return s
}
