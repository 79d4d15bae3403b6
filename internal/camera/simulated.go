package camera

import (
	"math"
	"sync"

	"github.com/banshee-data/camera.control/internal/timeutil"
)

// SimulatedConfig shapes the simulated sensor.
type SimulatedConfig struct {
	Geometry Geometry
	// Exposure limits in microseconds.
	MinExposure, MaxExposure float64
	MinGain, MaxGain         float64
	// SceneLevel is mean brightness per microsecond of exposure at unit gain.
	SceneLevel float64
	// SettleReads is how many register reads report the previous value
	// after a write.
	SettleReads int
	Step        float64
	Tolerance   float64
}

// DefaultSimulatedConfig is a small mono8 sensor looking at a mid-grey scene.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Geometry:    Geometry{Width: 64, Height: 48, Encoding: "mono8", BytesPerPixel: 1},
		MinExposure: 24,
		MaxExposure: 35000,
		MinGain:     0,
		MaxGain:     24,
		SceneLevel:  255.0 / 40000.0,
		SettleReads: 2,
		Step:        10,
		Tolerance:   2.5,
	}
}

// Simulated is a deterministic software sensor. Brightness is proportional
// to exposure times gain and clipped to the 8-bit range; a brightness
// search rescales exposure on every grab, so targets beyond MaxExposure at
// the current gain stall rather than converge.
type Simulated struct {
	mu    sync.Mutex
	cfg   SimulatedConfig
	clock timeutil.Clock

	ready   bool
	removed bool

	exposure, gain       float64
	prevExposure         float64
	prevGain             float64
	exposureReadsPending int
	gainReadsPending     int

	searching    bool
	searchTarget float64

	failGrabs int
	grabs     int
}

// NewSimulated creates a ready simulated sensor at mid exposure and unit gain.
func NewSimulated(cfg SimulatedConfig, clock timeutil.Clock) *Simulated {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulated{
		cfg:      cfg,
		clock:    clock,
		ready:    true,
		exposure: 20000,
		gain:     1,
	}
}

// SetReady toggles readiness, as a device coming up or going down would.
func (s *Simulated) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Remove simulates the device being unplugged.
func (s *Simulated) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	s.ready = false
}

// FailGrabs makes the next n grabs fail with ErrFrameRejected.
func (s *Simulated) FailGrabs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGrabs = n
}

// Grabs returns the number of successful grabs.
func (s *Simulated) Grabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabs
}

func (s *Simulated) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.removed
}

func (s *Simulated) IsRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

func (s *Simulated) Geometry() Geometry {
	return s.cfg.Geometry
}

func (s *Simulated) brightness() float64 {
	b := s.exposure * s.gain * s.cfg.SceneLevel
	return math.Max(0, math.Min(255, b))
}

func (s *Simulated) Grab(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrRemoved
	}
	if s.failGrabs > 0 {
		s.failGrabs--
		return ErrFrameRejected
	}

	if s.searching {
		s.stepSearch()
	}

	f.setGeometry(s.cfg.Geometry)
	level := byte(math.Round(s.brightness()))
	for i := range f.Pixels {
		f.Pixels[i] = level
	}
	f.Timestamp = s.clock.Now()
	s.grabs++
	return nil
}

// stepSearch moves exposure proportionally toward the search target.
func (s *Simulated) stepSearch() {
	cur := s.brightness()
	if cur <= 0 {
		cur = 1
	}
	next := s.exposure * s.searchTarget / cur
	s.exposure = math.Max(s.cfg.MinExposure, math.Min(s.cfg.MaxExposure, next))
	s.prevExposure = s.exposure
	s.exposureReadsPending = 0
}

func (s *Simulated) SetExposure(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrRemoved
	}
	s.prevExposure = s.exposure
	s.exposure = math.Max(s.cfg.MinExposure, math.Min(s.cfg.MaxExposure, v))
	s.exposureReadsPending = s.cfg.SettleReads
	return nil
}

func (s *Simulated) SetGain(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrRemoved
	}
	s.prevGain = s.gain
	s.gain = math.Max(s.cfg.MinGain, math.Min(s.cfg.MaxGain, v))
	s.gainReadsPending = s.cfg.SettleReads
	return nil
}

func (s *Simulated) SetBrightness(target, current float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrRemoved
	}
	s.searching = true
	s.searchTarget = target
	return nil
}

func (s *Simulated) DisableAutoSearch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searching = false
	return nil
}

func (s *Simulated) IsBrightnessSearchRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searching
}

func (s *Simulated) CurrentExposure() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return 0, ErrRemoved
	}
	if s.exposureReadsPending > 0 {
		s.exposureReadsPending--
		return s.prevExposure, nil
	}
	return s.exposure, nil
}

func (s *Simulated) CurrentGain() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return 0, ErrRemoved
	}
	if s.gainReadsPending > 0 {
		s.gainReadsPending--
		return s.prevGain, nil
	}
	return s.gain, nil
}

func (s *Simulated) ExposureStep() float64 { return s.cfg.Step }

func (s *Simulated) MaxBrightnessTolerance() float64 { return s.cfg.Tolerance }
