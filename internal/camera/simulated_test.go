package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.control/internal/timeutil"
)

func newTestSimulated() (*Simulated, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewSimulated(DefaultSimulatedConfig(), clock), clock
}

func TestSimulated_GrabFillsFrame(t *testing.T) {
	sim, clock := newTestSimulated()
	var f Frame

	require.NoError(t, sim.Grab(&f))

	g := sim.Geometry()
	assert.Equal(t, g.Width, f.Width)
	assert.Equal(t, g.Height, f.Height)
	assert.Equal(t, g.Stride(), f.Stride)
	assert.Equal(t, "mono8", f.Encoding)
	assert.Len(t, f.Pixels, g.Size())
	assert.Equal(t, clock.Now(), f.Timestamp)
	// 20000us at unit gain on the default scene
	assert.Equal(t, byte(128), f.Pixels[0])
	assert.Equal(t, 1, sim.Grabs())
}

func TestSimulated_GrabReusesBuffer(t *testing.T) {
	sim, _ := newTestSimulated()
	f := Frame{Pixels: make([]byte, 0, 1<<16)}
	before := &f.Pixels[:1][0]

	require.NoError(t, sim.Grab(&f))
	assert.Same(t, before, &f.Pixels[0])
}

func TestSimulated_ExposureSettles(t *testing.T) {
	sim, _ := newTestSimulated()
	require.NoError(t, sim.SetExposure(10000))

	// register reports the old value for SettleReads reads
	for i := 0; i < DefaultSimulatedConfig().SettleReads; i++ {
		v, err := sim.CurrentExposure()
		require.NoError(t, err)
		assert.Equal(t, 20000.0, v)
	}
	v, err := sim.CurrentExposure()
	require.NoError(t, err)
	assert.Equal(t, 10000.0, v)
}

func TestSimulated_ClampsToLimits(t *testing.T) {
	sim, _ := newTestSimulated()
	require.NoError(t, sim.SetExposure(1e9))
	require.NoError(t, sim.SetGain(-3))

	cfg := DefaultSimulatedConfig()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	assert.Equal(t, cfg.MaxExposure, sim.exposure)
	assert.Equal(t, cfg.MinGain, sim.gain)
}

func TestSimulated_BrightnessSearch(t *testing.T) {
	sim, _ := newTestSimulated()
	require.NoError(t, sim.SetBrightness(100, 128))
	assert.True(t, sim.IsBrightnessSearchRunning())

	var f Frame
	require.NoError(t, sim.Grab(&f))
	assert.Equal(t, byte(100), f.Pixels[0])

	require.NoError(t, sim.DisableAutoSearch())
	assert.False(t, sim.IsBrightnessSearchRunning())
}

func TestSimulated_UnreachableBrightnessPlateaus(t *testing.T) {
	sim, _ := newTestSimulated()
	require.NoError(t, sim.SetBrightness(250, 128))

	var f Frame
	var levels []byte
	for i := 0; i < 4; i++ {
		require.NoError(t, sim.Grab(&f))
		levels = append(levels, f.Pixels[0])
	}
	// MaxExposure caps the scene at ~223 at unit gain
	assert.Equal(t, []byte{223, 223, 223, 223}, levels)
}

func TestSimulated_FailuresAndRemoval(t *testing.T) {
	sim, _ := newTestSimulated()
	var f Frame

	sim.FailGrabs(1)
	assert.ErrorIs(t, sim.Grab(&f), ErrFrameRejected)
	assert.NoError(t, sim.Grab(&f))

	sim.SetReady(false)
	assert.False(t, sim.IsReady())
	sim.SetReady(true)
	assert.True(t, sim.IsReady())

	sim.Remove()
	assert.True(t, sim.IsRemoved())
	assert.False(t, sim.IsReady())
	assert.ErrorIs(t, sim.Grab(&f), ErrRemoved)
	assert.ErrorIs(t, sim.SetExposure(1), ErrRemoved)
	_, err := sim.CurrentGain()
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestFrame_Clone(t *testing.T) {
	f := Frame{Pixels: []byte{1, 2, 3}, Width: 3, Height: 1, Stride: 3, FrameID: "cam"}
	c := f.Clone()
	c.Pixels[0] = 9
	assert.Equal(t, byte(1), f.Pixels[0])
	assert.Equal(t, "cam", c.FrameID)
}
