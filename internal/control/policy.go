package control

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/config"
)

// Policy holds the timing and tolerance rules that turn a requested target
// into a Setpoint.
type Policy struct {
	PollInterval time.Duration
	ReadyWait    time.Duration
	ReadyPoll    time.Duration

	ExposureTimeout         time.Duration
	GainTimeout             time.Duration
	BrightnessTimeout       time.Duration
	BrightnessHighTimeout   time.Duration
	BrightnessHighThreshold float64

	BrightnessSettledDelta float64
	GainToleranceRatio     float64
	GainToleranceMin       float64

	// StallLimit is how many consecutive measurements may change by no
	// more than StallDelta before brightness convergence gives up.
	StallLimit int
	StallDelta float64
}

// PolicyFromConfig builds a Policy, taking defaults for unset fields.
func PolicyFromConfig(cfg *config.ControlConfig) Policy {
	if cfg == nil {
		cfg = config.EmptyControlConfig()
	}
	return Policy{
		PollInterval:            cfg.GetPollInterval(),
		ReadyWait:               cfg.GetReadyWait(),
		ReadyPoll:               cfg.GetReadyPoll(),
		ExposureTimeout:         cfg.GetExposureTimeout(),
		GainTimeout:             cfg.GetGainTimeout(),
		BrightnessTimeout:       cfg.GetBrightnessTimeout(),
		BrightnessHighTimeout:   cfg.GetBrightnessHighTimeout(),
		BrightnessHighThreshold: cfg.GetBrightnessHighThreshold(),
		BrightnessSettledDelta:  cfg.GetBrightnessSettledDelta(),
		GainToleranceRatio:      cfg.GetGainToleranceRatio(),
		GainToleranceMin:        cfg.GetGainToleranceMin(),
		StallLimit:              cfg.GetStallLimit(),
		StallDelta:              cfg.GetStallDelta(),
	}
}

// Setpoint is one convergence request with its derived limits.
type Setpoint struct {
	Kind      Kind          `json:"kind"`
	Target    float64       `json:"target"`
	Tolerance float64       `json:"tolerance"`
	Timeout   time.Duration `json:"timeout"`
}

// Validate checks the tolerance and timeout are positive and the target is
// a finite number.
func (s Setpoint) Validate() error {
	if math.IsNaN(s.Target) || math.IsInf(s.Target, 0) {
		return fmt.Errorf("%w: target %v", ErrInvalidSetpoint, s.Target)
	}
	if !(s.Tolerance > 0) {
		return fmt.Errorf("%w: %s tolerance %v", ErrInvalidSetpoint, s.Kind, s.Tolerance)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: %s timeout %v", ErrInvalidSetpoint, s.Kind, s.Timeout)
	}
	return nil
}

// Setpoint derives tolerance and timeout for target. Exposure tolerance is
// the device's exposure step, gain tolerance is a fraction of the target,
// and brightness tolerance is the device's brightness tolerance.
func (p Policy) Setpoint(kind Kind, target float64, hw camera.Hardware) (Setpoint, error) {
	sp := Setpoint{Kind: kind, Target: target}
	switch kind {
	case KindExposure:
		sp.Tolerance = hw.ExposureStep()
		sp.Timeout = p.ExposureTimeout
	case KindGain:
		sp.Tolerance = math.Max(p.GainToleranceRatio*math.Abs(target), p.GainToleranceMin)
		sp.Timeout = p.GainTimeout
	case KindBrightness:
		sp.Tolerance = hw.MaxBrightnessTolerance()
		sp.Timeout = p.BrightnessTimeout
		if target > p.BrightnessHighThreshold {
			sp.Timeout = p.BrightnessHighTimeout
		}
	default:
		return sp, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return sp, sp.Validate()
}
