package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSerialPort implements SerialPorter with a fixed read script.
type TestSerialPort struct {
	mu          sync.Mutex
	reader      io.Reader
	writtenData bytes.Buffer
	writeErr    error
	shortWrite  bool
	closed      bool
}

func NewTestSerialPort(data string) *TestSerialPort {
	return &TestSerialPort{reader: bytes.NewBufferString(data)}
}

func (p *TestSerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	return p.reader.Read(buf)
}

func (p *TestSerialPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortWrite {
		return len(data) - 1, nil
	}
	return p.writtenData.Write(data)
}

func (p *TestSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *TestSerialPort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writtenData.String()
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
func (errReader) Write(b []byte) (int, error) { return len(b), nil }
func (errReader) Close() error                { return nil }

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestSerialPort(""))

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2, "subscription IDs must be unique")
	assert.Len(t, id1, 16)

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// unknown IDs are ignored
	mux.Unsubscribe("not-a-subscriber")

	mux.subscriberMu.Lock()
	assert.Len(t, mux.subscribers, 1)
	mux.subscriberMu.Unlock()
}

func TestSerialMux_SendCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"appends newline", "E?", "E?\n"},
		{"keeps existing newline", "G=2.5\n", "G=2.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestSerialPort("")
			mux := NewSerialMux(port)
			require.NoError(t, mux.SendCommand(tt.command))
			assert.Equal(t, tt.want, port.WrittenData())
		})
	}
}

func TestSerialMux_SendCommand_Errors(t *testing.T) {
	port := NewTestSerialPort("")
	port.writeErr = errors.New("boom")
	assert.EqualError(t, NewSerialMux(port).SendCommand("F"), "boom")

	short := NewTestSerialPort("")
	short.shortWrite = true
	assert.ErrorIs(t, NewSerialMux(short).SendCommand("F"), ErrWriteFailed)
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize())

	var want bytes.Buffer
	for _, c := range StartupCommands {
		want.WriteString(c + "\n")
	}
	assert.Equal(t, want.String(), port.WrittenData())
}

func TestSerialMux_Initialize_WriteError(t *testing.T) {
	port := NewTestSerialPort("")
	port.writeErr = errors.New("unplugged")

	err := NewSerialMux(port).Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), StartupCommands[0])
}

func TestSerialMux_Monitor_FansOutLines(t *testing.T) {
	port := NewTestSerialPort("E=1000\nG=2.0\n")
	mux := NewSerialMux(port)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	err := mux.Monitor(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	for _, ch := range []chan string{ch1, ch2} {
		assert.Equal(t, "E=1000", <-ch)
		assert.Equal(t, "G=2.0", <-ch)
	}
}

func TestSerialMux_Monitor_ReadError(t *testing.T) {
	want := errors.New("device gone")
	mux := NewSerialMux[errReader](errReader{err: want})

	err := mux.Monitor(context.Background())
	assert.ErrorIs(t, err, want)
}

func TestSerialMux_Monitor_ContextCancel(t *testing.T) {
	port := NewScriptedPort(nil)
	mux := NewSerialMux(port)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_Monitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	var data bytes.Buffer
	for i := 0; i < subscriberBuffer*2; i++ {
		data.WriteString("R=1\n")
	}
	mux := NewSerialMux(NewTestSerialPort(data.String()))
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor blocked on a subscriber that never reads")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.closed)
}
