package control

import (
	"context"
	"errors"
)

// Tick runs one step of the continuous loop: when someone is watching and
// the controller is not paused, grab a frame and publish it. It reports
// whether a frame was published. A transient grab failure is logged and
// returned wrapped in ErrInvalidFrame; the next tick simply tries again.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	if c.pub == nil || c.paused.Load() || c.pub.NumSubscribers() == 0 {
		return false, nil
	}
	if c.Fatal() != nil {
		return false, c.Fatal()
	}

	lease, err := c.guard.Acquire(ctx)
	if err != nil {
		return false, ErrShutdown
	}
	defer lease.Release()

	if err := c.grabLast(lease); err != nil {
		if !errors.Is(err, ErrDeviceRemoved) {
			logf("skipping frame: %v", err)
		}
		return false, err
	}
	c.pub.Publish(c.frame)
	return true, nil
}

// Stream calls Tick at the configured frame rate until ctx ends or the
// device is removed.
func (c *Controller) Stream(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := c.Tick(ctx); errors.Is(err, ErrDeviceRemoved) {
				return err
			}
		}
	}
}
