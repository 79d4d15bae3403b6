package serialmux

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrPortDisconnected is what readers of a ScriptedPort see after Disconnect.
var ErrPortDisconnected = errors.New("serial port disconnected")

// ScriptedPort implements SerialPorter in memory for tests. Every line
// written to it is recorded and answered with the lines returned by the
// responder, which become readable in order.
type ScriptedPort struct {
	mu      sync.Mutex
	respond func(command string) []string
	written []string
	closed  bool

	out chan string
	r   *io.PipeReader
	w   *io.PipeWriter
}

// NewScriptedPort creates a ScriptedPort. A nil responder answers nothing.
func NewScriptedPort(respond func(command string) []string) *ScriptedPort {
	r, w := io.Pipe()
	p := &ScriptedPort{
		respond: respond,
		out:     make(chan string, 256),
		r:       r,
		w:       w,
	}
	go p.pump()
	return p
}

func (p *ScriptedPort) pump() {
	for line := range p.out {
		if _, err := p.w.Write([]byte(line + "\n")); err != nil {
			return
		}
	}
}

func (p *ScriptedPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	for _, cmd := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		p.written = append(p.written, cmd)
		if p.respond == nil {
			continue
		}
		for _, line := range p.respond(cmd) {
			p.out <- line
		}
	}
	return len(b), nil
}

// Emit queues an unsolicited line from the device.
func (p *ScriptedPort) Emit(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.out <- line
	}
}

// Written returns the commands written so far, without line endings.
func (p *ScriptedPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// Disconnect simulates the cable being pulled: pending and future reads fail
// with ErrPortDisconnected.
func (p *ScriptedPort) Disconnect() {
	p.shutdown(ErrPortDisconnected)
}

func (p *ScriptedPort) Close() error {
	p.shutdown(nil)
	return nil
}

func (p *ScriptedPort) shutdown(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.out)
	if err != nil {
		p.w.CloseWithError(err)
		return
	}
	p.w.Close()
}
