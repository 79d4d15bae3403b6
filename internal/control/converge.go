package control

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Outcome is the result of one convergence call. It is never modified
// after it is returned.
type Outcome struct {
	Kind      Kind          `json:"kind"`
	Target    float64       `json:"target"`
	Reached   float64       `json:"reached"`
	Converged bool          `json:"converged"`
	Reason    error         `json:"-"`
	Polls     int           `json:"polls"`
	Elapsed   time.Duration `json:"elapsed"`
	// Trace holds every measurement taken, starting with the one before
	// the first hardware write.
	Trace []float64 `json:"trace"`
}

// ReasonText is Reason as a string, empty on success.
func (o Outcome) ReasonText() string {
	if o.Reason == nil {
		return ""
	}
	return o.Reason.Error()
}

// strategy is the per-kind part of the convergence loop.
type strategy struct {
	// gate returns nil once the device can be driven.
	gate func(ctx context.Context, c *Controller) error
	read func(c *Controller, l *Lease) (float64, error)
	// settled decides the short-circuit before any write.
	settled func(c *Controller, sp Setpoint, current float64) bool
	write   func(c *Controller, sp Setpoint, current float64) error
	// rewrite repeats write with the latest measurement on every poll.
	rewrite bool
	// stall enables stall detection.
	stall bool
	// finish runs on every exit from the poll loop.
	finish func(c *Controller, converged bool)
}

var strategies = map[Kind]strategy{
	KindExposure: {
		gate: requireReady,
		read: func(c *Controller, _ *Lease) (float64, error) { return c.hw.CurrentExposure() },
		settled: func(_ *Controller, sp Setpoint, cur float64) bool {
			return math.Abs(cur-sp.Target) < sp.Tolerance
		},
		write: func(c *Controller, sp Setpoint, _ float64) error { return c.hw.SetExposure(sp.Target) },
	},
	KindGain: {
		gate: requireReady,
		read: func(c *Controller, _ *Lease) (float64, error) { return c.hw.CurrentGain() },
		settled: func(_ *Controller, sp Setpoint, cur float64) bool {
			return math.Abs(cur-sp.Target) < sp.Tolerance
		},
		write: func(c *Controller, sp Setpoint, _ float64) error { return c.hw.SetGain(sp.Target) },
	},
	KindBrightness: {
		gate: waitReady,
		read: func(c *Controller, l *Lease) (float64, error) {
			if err := c.grabLast(l); err != nil {
				return 0, err
			}
			return MeanBrightness(&c.frame)
		},
		// within the device tolerance, or the settled delta when that is wider
		settled: func(c *Controller, sp Setpoint, cur float64) bool {
			d := math.Abs(cur - sp.Target)
			return d < sp.Tolerance || d <= c.policy.BrightnessSettledDelta
		},
		write: func(c *Controller, sp Setpoint, cur float64) error {
			return c.hw.SetBrightness(sp.Target, cur)
		},
		rewrite: true,
		stall:   true,
		finish: func(c *Controller, converged bool) {
			// the device must not keep hunting once we stop watching
			if converged && !c.hw.IsBrightnessSearchRunning() {
				return
			}
			if err := c.hw.DisableAutoSearch(); err != nil {
				logf("failed to disable brightness search: %v", err)
			}
		},
	},
}

func requireReady(_ context.Context, c *Controller) error {
	ready := c.hw.IsReady()
	c.ready.Store(ready)
	if !ready {
		return ErrNotReady
	}
	return nil
}

// waitReady polls readiness for up to ReadyWait, since brightness needs a
// frame from a device that may still be starting.
func waitReady(ctx context.Context, c *Controller) error {
	start := c.clock.Now()
	for {
		if c.hw.IsReady() {
			c.ready.Store(true)
			return nil
		}
		if ctx.Err() != nil {
			return ErrShutdown
		}
		if c.clock.Since(start) >= c.policy.ReadyWait {
			c.ready.Store(false)
			return ErrNotReady
		}
		c.clock.Sleep(c.policy.ReadyPoll)
	}
}

// Set acquires the guard and converges kind toward target.
func (c *Controller) Set(ctx context.Context, kind Kind, target float64) Outcome {
	lease, err := c.guard.Acquire(ctx)
	if err != nil {
		return Outcome{Kind: kind, Target: target, Reason: ErrShutdown}
	}
	defer lease.Release()
	return c.converge(ctx, lease, kind, target)
}

func (c *Controller) SetExposure(ctx context.Context, target float64) Outcome {
	return c.Set(ctx, KindExposure, target)
}

func (c *Controller) SetGain(ctx context.Context, target float64) Outcome {
	return c.Set(ctx, KindGain, target)
}

func (c *Controller) SetBrightness(ctx context.Context, target float64) Outcome {
	return c.Set(ctx, KindBrightness, target)
}

// converge drives kind toward target while l is held. It holds the guard
// through every poll sleep, so nothing else can touch the device until it
// returns. Failures are reported in the Outcome, never raised.
func (c *Controller) converge(ctx context.Context, l *Lease, kind Kind, target float64) (out Outcome) {
	c.mustHold(l)
	start := c.clock.Now()
	out = Outcome{Kind: kind, Target: target}
	defer func() {
		out.Elapsed = c.clock.Since(start)
		c.remember(out)
	}()

	s, ok := strategies[kind]
	if !ok {
		out.Reason = fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
		return out
	}
	sp, err := c.policy.Setpoint(kind, target, c.hw)
	if err != nil {
		out.Reason = err
		return out
	}
	if ctx.Err() != nil {
		out.Reason = ErrShutdown
		return out
	}
	if err := s.gate(ctx, c); err != nil {
		out.Reason = err
		return out
	}

	current, err := s.read(c, l)
	if err != nil {
		out.Reason = fmt.Errorf("read %s: %w", kind, err)
		return out
	}
	out.Reached = current
	out.Trace = append(out.Trace, current)
	if s.settled(c, sp, current) {
		out.Converged = true
		return out
	}

	if err := s.write(c, sp, current); err != nil {
		out.Reason = fmt.Errorf("write %s: %w", kind, err)
		return out
	}
	if s.finish != nil {
		defer func() { s.finish(c, out.Converged) }()
	}

	// the budget covers polling only, not the readiness wait or first write
	loopStart := c.clock.Now()
	last := current
	unchanged := 0
	for {
		if ctx.Err() != nil {
			out.Reason = ErrShutdown
			return out
		}
		c.clock.Sleep(c.policy.PollInterval)
		out.Polls++

		achieved, err := s.read(c, l)
		if err != nil {
			out.Reason = fmt.Errorf("read %s: %w", kind, err)
			return out
		}
		out.Reached = achieved
		out.Trace = append(out.Trace, achieved)

		if math.Abs(achieved-sp.Target) < sp.Tolerance {
			out.Converged = true
			return out
		}

		if s.stall {
			if math.Abs(achieved-last) <= c.policy.StallDelta {
				unchanged++
			} else {
				unchanged = 0
			}
			last = achieved
			if unchanged > c.policy.StallLimit {
				out.Reason = fmt.Errorf("%w at %.1f after %d unchanged polls", ErrStalled, achieved, unchanged)
				return out
			}
		}

		if c.clock.Since(loopStart) >= sp.Timeout {
			out.Reason = fmt.Errorf("%w: %s %v after %s", ErrTimeout, kind, achieved, sp.Timeout)
			return out
		}

		if s.rewrite {
			if err := s.write(c, sp, achieved); err != nil {
				out.Reason = fmt.Errorf("write %s: %w", kind, err)
				return out
			}
		}
	}
}
