package control

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the device is not open or not yet producing data.
	ErrNotReady = errors.New("camera not ready")
	// ErrTimeout means convergence used up its time budget.
	ErrTimeout = errors.New("setpoint not reached before timeout")
	// ErrStalled means brightness stopped changing before reaching target.
	ErrStalled = errors.New("brightness stalled")
	// ErrGrabFailed is the parent of every frame acquisition failure.
	ErrGrabFailed = errors.New("grab failed")
	// ErrDeviceRemoved is a grab failure with the device detached. It is
	// fatal: nothing further can succeed.
	ErrDeviceRemoved = fmt.Errorf("%w: device removed", ErrGrabFailed)
	// ErrInvalidFrame is a transient grab failure.
	ErrInvalidFrame = fmt.Errorf("%w: invalid frame", ErrGrabFailed)
	// ErrBatchAborted means a batch stopped before its last target.
	ErrBatchAborted = errors.New("batch aborted")
	// ErrShutdown means the operation stopped because the service is
	// shutting down.
	ErrShutdown = errors.New("shutting down")
	// ErrUnsupportedKind is returned for a setpoint kind an operation does
	// not accept.
	ErrUnsupportedKind = errors.New("unsupported setpoint kind")
	// ErrEmptyFrame means brightness was requested of a frame with no
	// samples.
	ErrEmptyFrame = errors.New("frame has no samples")
	// ErrInvalidSetpoint means the derived tolerance or timeout is not
	// positive, or the target is not a finite number.
	ErrInvalidSetpoint = errors.New("invalid setpoint")
)
