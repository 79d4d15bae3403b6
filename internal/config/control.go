package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical control defaults file.
const DefaultConfigPath = "config/control.defaults.json"

// ControlConfig holds the timing and tolerance knobs of the setpoint
// controller. Every field is optional; the Get* accessors fall back to the
// values the controller was tuned with on the reference sensor.
type ControlConfig struct {
	// Convergence cadence
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "100ms"
	ReadyWait    *string `json:"ready_wait,omitempty"`
	ReadyPoll    *string `json:"ready_poll,omitempty"`

	// Per-kind time budgets
	ExposureTimeout         *string  `json:"exposure_timeout,omitempty"`
	GainTimeout             *string  `json:"gain_timeout,omitempty"`
	BrightnessTimeout       *string  `json:"brightness_timeout,omitempty"`
	BrightnessHighTimeout   *string  `json:"brightness_high_timeout,omitempty"`
	BrightnessHighThreshold *float64 `json:"brightness_high_threshold,omitempty"`

	// Tolerances and stall detection
	BrightnessSettledDelta *float64 `json:"brightness_settled_delta,omitempty"`
	GainToleranceRatio     *float64 `json:"gain_tolerance_ratio,omitempty"`
	GainToleranceMin       *float64 `json:"gain_tolerance_min,omitempty"`
	StallLimit             *int     `json:"stall_limit,omitempty"`
	StallDelta             *float64 `json:"stall_delta,omitempty"`

	// Streaming and transport
	FrameRate          *float64 `json:"frame_rate,omitempty"`
	SerialReplyTimeout *string  `json:"serial_reply_timeout,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyControlConfig returns a ControlConfig with all fields set to nil.
func EmptyControlConfig() *ControlConfig {
	return &ControlConfig{}
}

// DefaultControlConfig returns a ControlConfig with every field populated
// with its default value.
func DefaultControlConfig() *ControlConfig {
	return &ControlConfig{
		PollInterval:            ptrString("100ms"),
		ReadyWait:               ptrString("3s"),
		ReadyPoll:               ptrString("20ms"),
		ExposureTimeout:         ptrString("5s"),
		GainTimeout:             ptrString("5s"),
		BrightnessTimeout:       ptrString("5s"),
		BrightnessHighTimeout:   ptrString("15s"),
		BrightnessHighThreshold: ptrFloat64(205),
		BrightnessSettledDelta:  ptrFloat64(1.0),
		GainToleranceRatio:      ptrFloat64(0.01),
		GainToleranceMin:        ptrFloat64(0.01),
		StallLimit:              ptrInt(5),
		StallDelta:              ptrFloat64(1.0),
		FrameRate:               ptrFloat64(10),
		SerialReplyTimeout:      ptrString("500ms"),
	}
}

// LoadControlConfig loads a ControlConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults through the Get* accessors.
func LoadControlConfig(path string) (*ControlConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyControlConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching upward from the working directory. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *ControlConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadControlConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ControlConfig) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"poll_interval", c.PollInterval},
		{"ready_wait", c.ReadyWait},
		{"ready_poll", c.ReadyPoll},
		{"exposure_timeout", c.ExposureTimeout},
		{"gain_timeout", c.GainTimeout},
		{"brightness_timeout", c.BrightnessTimeout},
		{"brightness_high_timeout", c.BrightnessHighTimeout},
		{"serial_reply_timeout", c.SerialReplyTimeout},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.GainToleranceRatio != nil && (*c.GainToleranceRatio <= 0 || *c.GainToleranceRatio > 1) {
		return fmt.Errorf("gain_tolerance_ratio must be in (0, 1], got %f", *c.GainToleranceRatio)
	}
	if c.GainToleranceMin != nil && *c.GainToleranceMin <= 0 {
		return fmt.Errorf("gain_tolerance_min must be positive, got %f", *c.GainToleranceMin)
	}
	if c.BrightnessSettledDelta != nil && *c.BrightnessSettledDelta <= 0 {
		return fmt.Errorf("brightness_settled_delta must be positive, got %f", *c.BrightnessSettledDelta)
	}
	if c.BrightnessHighThreshold != nil && (*c.BrightnessHighThreshold < 0 || *c.BrightnessHighThreshold > 255) {
		return fmt.Errorf("brightness_high_threshold must be between 0 and 255, got %f", *c.BrightnessHighThreshold)
	}
	if c.StallLimit != nil && *c.StallLimit < 1 {
		return fmt.Errorf("stall_limit must be at least 1, got %d", *c.StallLimit)
	}
	if c.StallDelta != nil && *c.StallDelta < 0 {
		return fmt.Errorf("stall_delta must be non-negative, got %f", *c.StallDelta)
	}
	if c.FrameRate != nil && *c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %f", *c.FrameRate)
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetPollInterval returns the convergence polling cadence.
func (c *ControlConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 100*time.Millisecond)
}

// GetReadyWait returns how long brightness convergence waits for the device.
func (c *ControlConfig) GetReadyWait() time.Duration {
	return durationOr(c.ReadyWait, 3*time.Second)
}

// GetReadyPoll returns the readiness polling cadence.
func (c *ControlConfig) GetReadyPoll() time.Duration {
	return durationOr(c.ReadyPoll, 20*time.Millisecond)
}

// GetExposureTimeout returns the exposure convergence budget.
func (c *ControlConfig) GetExposureTimeout() time.Duration {
	return durationOr(c.ExposureTimeout, 5*time.Second)
}

// GetGainTimeout returns the gain convergence budget.
func (c *ControlConfig) GetGainTimeout() time.Duration {
	return durationOr(c.GainTimeout, 5*time.Second)
}

// GetBrightnessTimeout returns the brightness convergence budget for
// targets at or below the high threshold.
func (c *ControlConfig) GetBrightnessTimeout() time.Duration {
	return durationOr(c.BrightnessTimeout, 5*time.Second)
}

// GetBrightnessHighTimeout returns the budget for bright targets.
func (c *ControlConfig) GetBrightnessHighTimeout() time.Duration {
	return durationOr(c.BrightnessHighTimeout, 15*time.Second)
}

// GetBrightnessHighThreshold returns the target above which the longer
// brightness budget applies.
func (c *ControlConfig) GetBrightnessHighThreshold() float64 {
	if c.BrightnessHighThreshold == nil {
		return 205
	}
	return *c.BrightnessHighThreshold
}

// GetBrightnessSettledDelta returns the short-circuit delta for brightness.
func (c *ControlConfig) GetBrightnessSettledDelta() float64 {
	if c.BrightnessSettledDelta == nil {
		return 1.0
	}
	return *c.BrightnessSettledDelta
}

// GetGainToleranceRatio returns the gain tolerance as a fraction of target.
func (c *ControlConfig) GetGainToleranceRatio() float64 {
	if c.GainToleranceRatio == nil {
		return 0.01
	}
	return *c.GainToleranceRatio
}

// GetGainToleranceMin returns the floor applied to the gain tolerance.
func (c *ControlConfig) GetGainToleranceMin() float64 {
	if c.GainToleranceMin == nil {
		return 0.01
	}
	return *c.GainToleranceMin
}

// GetStallLimit returns how many consecutive unchanged brightness
// measurements are tolerated before giving up.
func (c *ControlConfig) GetStallLimit() int {
	if c.StallLimit == nil {
		return 5
	}
	return *c.StallLimit
}

// GetStallDelta returns the change at or below which a measurement counts
// as unchanged.
func (c *ControlConfig) GetStallDelta() float64 {
	if c.StallDelta == nil {
		return 1.0
	}
	return *c.StallDelta
}

// GetFrameRate returns the continuous acquisition rate in Hz.
func (c *ControlConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 10
	}
	return *c.FrameRate
}

// GetFramePeriod returns the tick period derived from the frame rate.
func (c *ControlConfig) GetFramePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.GetFrameRate())
}

// GetSerialReplyTimeout returns how long the serial camera waits for a reply.
func (c *ControlConfig) GetSerialReplyTimeout() time.Duration {
	return durationOr(c.SerialReplyTimeout, 500*time.Millisecond)
}
