package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/camera.control/internal/camera"
)

// BatchRequest asks for one frame per target, each taken after converging
// on that target.
type BatchRequest struct {
	Kind    Kind      `json:"kind"`
	Targets []float64 `json:"targets"`
}

// Progress is emitted after each item's grab. Completed is 1-based and
// strictly increasing.
type Progress struct {
	BatchID   string `json:"batch_id"`
	Completed int    `json:"completed_count"`
	Total     int    `json:"total"`
}

// BatchResult is the aggregate of a batch. Frames has one entry per target
// only when Success; a failed batch keeps the reached values computed up to
// and including the failing item but returns no frames.
type BatchResult struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Targets   []float64      `json:"targets"`
	Items     []Outcome      `json:"items"`
	Frames    []camera.Frame `json:"frames"`
	Reached   []float64      `json:"reached"`
	Success   bool           `json:"success"`
	Err       error          `json:"-"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// batchKinds are the kinds a batch may step through.
var batchKinds = map[Kind]bool{
	KindExposure:   true,
	KindBrightness: true,
}

// RunBatch holds the guard for the whole batch, so every frame reflects the
// setpoint applied immediately before it. A target that does not converge
// does not fail the batch; a failed grab does, and stops it.
func (c *Controller) RunBatch(ctx context.Context, req BatchRequest, progress func(Progress)) (res BatchResult) {
	res = BatchResult{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Targets:   req.Targets,
		Items:     []Outcome{},
		Frames:    []camera.Frame{},
		Reached:   []float64{},
		StartedAt: c.clock.Now(),
	}
	defer func() { res.Elapsed = c.clock.Since(res.StartedAt) }()

	if !batchKinds[req.Kind] {
		res.Err = fmt.Errorf("batch: %w: %s", ErrUnsupportedKind, req.Kind)
		return res
	}
	if len(req.Targets) == 0 {
		res.Success = true
		return res
	}

	lease, err := c.guard.Acquire(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrBatchAborted, ErrShutdown)
		return res
	}
	defer lease.Release()

	logf("batch %s: %d %s targets", res.ID, len(req.Targets), req.Kind)
	res.Success = true
	for i, target := range req.Targets {
		if ctx.Err() != nil {
			res.Success = false
			res.Err = fmt.Errorf("%w before item %d: %w", ErrBatchAborted, i+1, ErrShutdown)
			break
		}

		out := c.converge(ctx, lease, req.Kind, target)
		res.Items = append(res.Items, out)
		res.Reached = append(res.Reached, out.Reached)
		if errors.Is(out.Reason, ErrShutdown) {
			res.Success = false
			res.Err = fmt.Errorf("%w at item %d: %w", ErrBatchAborted, i+1, ErrShutdown)
			break
		}
		if !out.Converged {
			logf("batch %s: item %d %s %v not reached (%v), using %v", res.ID, i+1, req.Kind, target, out.Reason, out.Reached)
		}

		var f camera.Frame
		grabErr := c.grab(lease, &f)
		if grabErr == nil {
			res.Frames = append(res.Frames, f)
		}
		if progress != nil {
			progress(Progress{BatchID: res.ID, Completed: i + 1, Total: len(req.Targets)})
		}
		if grabErr != nil {
			res.Success = false
			res.Err = fmt.Errorf("%w at item %d: %w", ErrBatchAborted, i+1, grabErr)
			break
		}
	}

	if !res.Success {
		res.Frames = []camera.Frame{}
		logf("batch %s failed: %v", res.ID, res.Err)
	}
	return res
}

// Summary describes how far a batch landed from its targets.
type Summary struct {
	Count     int     `json:"count"`
	MeanError float64 `json:"mean_abs_error"`
	StdDev    float64 `json:"stddev_abs_error"`
	MaxError  float64 `json:"max_abs_error"`
	Converged int     `json:"converged"`
}

// Summarize computes error statistics over the items that were processed.
func Summarize(res BatchResult) Summary {
	n := len(res.Reached)
	if n > len(res.Targets) {
		n = len(res.Targets)
	}
	s := Summary{Count: n}
	if n == 0 {
		return s
	}
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		errs[i] = math.Abs(res.Reached[i] - res.Targets[i])
		s.MaxError = math.Max(s.MaxError, errs[i])
	}
	for _, it := range res.Items {
		if it.Converged {
			s.Converged++
		}
	}
	if n == 1 {
		s.MeanError = errs[0]
		return s
	}
	s.MeanError, s.StdDev = stat.MeanStdDev(errs, nil)
	return s
}
