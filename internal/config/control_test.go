package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyControlConfig_Defaults(t *testing.T) {
	cfg := EmptyControlConfig()

	assert.Equal(t, 100*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 3*time.Second, cfg.GetReadyWait())
	assert.Equal(t, 20*time.Millisecond, cfg.GetReadyPoll())
	assert.Equal(t, 5*time.Second, cfg.GetExposureTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetGainTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetBrightnessTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetBrightnessHighTimeout())
	assert.Equal(t, 205.0, cfg.GetBrightnessHighThreshold())
	assert.Equal(t, 1.0, cfg.GetBrightnessSettledDelta())
	assert.Equal(t, 0.01, cfg.GetGainToleranceRatio())
	assert.Equal(t, 0.01, cfg.GetGainToleranceMin())
	assert.Equal(t, 5, cfg.GetStallLimit())
	assert.Equal(t, 1.0, cfg.GetStallDelta())
	assert.Equal(t, 10.0, cfg.GetFrameRate())
	assert.Equal(t, 100*time.Millisecond, cfg.GetFramePeriod())
	assert.Equal(t, 500*time.Millisecond, cfg.GetSerialReplyTimeout())
}

func TestDefaultControlConfig_MatchesEmpty(t *testing.T) {
	def := DefaultControlConfig()
	require.NoError(t, def.Validate())

	empty := EmptyControlConfig()
	if def.GetPollInterval() != empty.GetPollInterval() ||
		def.GetBrightnessHighTimeout() != empty.GetBrightnessHighTimeout() ||
		def.GetStallLimit() != empty.GetStallLimit() ||
		def.GetFrameRate() != empty.GetFrameRate() {
		t.Error("DefaultControlConfig disagrees with accessor fallbacks")
	}
}

func TestDefaultsFileMatchesDefaultControlConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultControlConfig(), cfg); diff != "" {
		t.Errorf("%s drifted from DefaultControlConfig (-want +got):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadControlConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "control.json")

	testJSON := `{
  "poll_interval": "50ms",
  "brightness_high_threshold": 200,
  "stall_limit": 8
}`
	require.NoError(t, os.WriteFile(configPath, []byte(testJSON), 0644))

	cfg, err := LoadControlConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 200.0, cfg.GetBrightnessHighThreshold())
	assert.Equal(t, 8, cfg.GetStallLimit())
	// omitted fields fall back
	assert.Equal(t, 5*time.Second, cfg.GetExposureTimeout())
	assert.Nil(t, cfg.FrameRate)
}

func TestLoadControlConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(tmpDir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("control.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "failed to stat"},
		{"bad json", write("bad.json", "{not json"), "failed to parse"},
		{"bad duration", write("dur.json", `{"poll_interval": "soon"}`), "invalid poll_interval"},
		{"negative duration", write("neg.json", `{"gain_timeout": "-1s"}`), "gain_timeout must be positive"},
		{"zero stall limit", write("stall.json", `{"stall_limit": 0}`), "stall_limit"},
		{"gain ratio", write("ratio.json", `{"gain_tolerance_ratio": 0}`), "gain_tolerance_ratio"},
		{"threshold range", write("thr.json", `{"brightness_high_threshold": 300}`), "brightness_high_threshold"},
		{"frame rate", write("rate.json", `{"frame_rate": 0}`), "frame_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadControlConfig(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadControlConfig_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "huge.json")
	big := `{"poll_interval": "100ms", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	require.NoError(t, os.WriteFile(p, []byte(big), 0644))

	_, err := LoadControlConfig(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestDurationAccessor_InvalidFallsBack(t *testing.T) {
	cfg := &ControlConfig{PollInterval: ptrString("garbage"), ReadyWait: ptrString("")}
	assert.Equal(t, 100*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 3*time.Second, cfg.GetReadyWait())
}
