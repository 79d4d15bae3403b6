package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.control/internal/camera"
)

func TestTick_NoSubscribersDoesNothing(t *testing.T) {
	hw := newFakeHW()
	fx := newFixture(t, hw)

	published, err := fx.ctrl.Tick(bg)
	assert.False(t, published)
	assert.NoError(t, err)
	assert.Empty(t, hw.Calls())
}

func TestTick_PausedDoesNothing(t *testing.T) {
	hw := newFakeHW()
	fx := newFixture(t, hw)
	fx.hub.Subscribe(1)
	fx.ctrl.SetPaused(true)

	published, err := fx.ctrl.Tick(bg)
	assert.False(t, published)
	assert.NoError(t, err)
	assert.Empty(t, hw.Calls())
	assert.True(t, fx.ctrl.Status().Paused)

	fx.ctrl.SetPaused(false)
	published, err = fx.ctrl.Tick(bg)
	assert.True(t, published)
	assert.NoError(t, err)
}

func TestTick_PublishesFrame(t *testing.T) {
	hw := newFakeHW()
	hw.levels = []byte{42, 43}
	fx := newFixture(t, hw)
	_, frames := fx.hub.Subscribe(2)

	for range 2 {
		published, err := fx.ctrl.Tick(bg)
		require.NoError(t, err)
		require.True(t, published)
	}

	first := <-frames
	second := <-frames
	assert.Equal(t, byte(42), first.Pixels[0], "a published frame must not alias the controller buffer")
	assert.Equal(t, byte(43), second.Pixels[0])
	assert.Equal(t, "camera_test", first.FrameID)
	assert.Equal(t, 1, fx.ctrl.Status().Subscribers)
}

func TestTick_StampsEveryFrame(t *testing.T) {
	hw := newFakeHW()
	fx := newFixture(t, hw)
	_, frames := fx.hub.Subscribe(2)

	start := fx.clock.Now()
	_, err := fx.ctrl.Tick(bg)
	require.NoError(t, err)
	fx.clock.Advance(time.Second)
	_, err = fx.ctrl.Tick(bg)
	require.NoError(t, err)

	first := <-frames
	second := <-frames
	assert.Equal(t, start, first.Timestamp)
	assert.Equal(t, start.Add(time.Second), second.Timestamp)
}

func TestTick_TransientFailureRecovers(t *testing.T) {
	hw := newFakeHW()
	hw.grabErr[1] = errGlitch
	fx := newFixture(t, hw)
	_, frames := fx.hub.Subscribe(1)

	published, err := fx.ctrl.Tick(bg)
	assert.False(t, published)
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.ErrorIs(t, err, ErrGrabFailed)
	_, ok, err := fx.ctrl.LastFrame(bg)
	require.NoError(t, err)
	assert.False(t, ok, "a failed grab invalidates the last frame")

	published, err = fx.ctrl.Tick(bg)
	assert.True(t, published)
	assert.NoError(t, err)
	<-frames

	f, ok, err := fx.ctrl.LastFrame(bg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8, len(f.Pixels))
	assert.Empty(t, fx.Fatals())
}

func TestTick_DeviceRemovedIsFatalOnce(t *testing.T) {
	hw := newFakeHW()
	hw.removeAt = 1
	fx := newFixture(t, hw)
	fx.hub.Subscribe(1)

	_, err := fx.ctrl.Tick(bg)
	assert.ErrorIs(t, err, ErrDeviceRemoved)
	_, err = fx.ctrl.Tick(bg)
	assert.ErrorIs(t, err, ErrDeviceRemoved)

	assert.Len(t, fx.Fatals(), 1)
	assert.Len(t, hw.Writes(), 1, "no grab after the device is gone")
	st := fx.ctrl.Status()
	assert.True(t, st.Removed)
	assert.False(t, st.Ready)
	assert.NotEmpty(t, st.FatalError)
}

func TestRefresh(t *testing.T) {
	hw := newFakeHW()
	fx := newFixture(t, hw)

	assert.True(t, fx.ctrl.Refresh())

	lease, ok := fx.ctrl.guard.TryAcquire()
	require.True(t, ok)
	hw.ready = false
	assert.True(t, fx.ctrl.Refresh(), "a busy guard reports the cached state")
	lease.Release()
	assert.False(t, fx.ctrl.Refresh())

	hw.removed = true
	assert.False(t, fx.ctrl.Refresh())
	assert.Len(t, fx.Fatals(), 1)
}

func TestStream_PublishesUntilCancelled(t *testing.T) {
	hw := newFakeHW()
	fx := newFixture(t, hw)
	_, frames := fx.hub.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.ctrl.Stream(ctx) }()

	// the ticker is created inside Stream, so keep advancing until a frame
	// shows up
	var got camera.Frame
	deadline := time.After(5 * time.Second)
wait:
	for {
		fx.clock.Advance(100 * time.Millisecond)
		select {
		case got = <-frames:
			break wait
		case <-deadline:
			t.Fatal("no frame published")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, "camera_test", got.FrameID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}

func TestStream_ReturnsOnRemoval(t *testing.T) {
	hw := newFakeHW()
	hw.removeAt = 1
	fx := newFixture(t, hw)
	fx.hub.Subscribe(1)

	done := make(chan error, 1)
	go func() { done <- fx.ctrl.Stream(bg) }()

	deadline := time.After(5 * time.Second)
	for {
		fx.clock.Advance(100 * time.Millisecond)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrDeviceRemoved)
			assert.Len(t, fx.Fatals(), 1)
			return
		case <-deadline:
			t.Fatal("Stream kept running after removal")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
