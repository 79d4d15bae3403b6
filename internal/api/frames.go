package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/camera.control/internal/control"
	"github.com/banshee-data/camera.control/internal/serialmux"
	"github.com/banshee-data/camera.control/internal/stream"
	"github.com/banshee-data/camera.control/internal/version"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	control.Status
	Version     string                 `json:"version"`
	SerialPort  string                 `json:"serial_port,omitempty"`
	SerialLine  *serialmux.PortOptions `json:"serial_line,omitempty"`
	Stream      *stream.Stats          `json:"stream,omitempty"`
	LastOutcome *outcomeResponse       `json:"last_outcome,omitempty"`
}

type outcomeResponse struct {
	Kind      control.Kind `json:"kind"`
	Target    float64      `json:"target"`
	Reached   float64      `json:"reached"`
	Converged bool         `json:"converged"`
	Reason    string       `json:"reason,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	resp := StatusResponse{
		Status:     s.ctrl.Status(),
		Version:    version.String(),
		SerialPort: s.serial,
		SerialLine: s.line,
	}
	if s.hub != nil {
		st := s.hub.Stats()
		resp.Stream = &st
	}
	if o, ok := s.ctrl.LastOutcome(0); ok {
		resp.LastOutcome = &outcomeResponse{
			Kind:      o.Kind,
			Target:    o.Target,
			Reached:   o.Reached,
			Converged: o.Converged,
			Reason:    o.ReasonText(),
		}
	}
	writeJSON(w, resp)
}

// handleFrame returns the most recent frame. ?format=raw returns the bare
// pixel buffer with the geometry in headers.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	f, ok, err := s.ctrl.LastFrame(s.ctx)
	if err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no valid frame")
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		h := w.Header()
		h.Set("Content-Type", "application/octet-stream")
		h.Set("X-Frame-Id", f.FrameID)
		h.Set("X-Frame-Width", strconv.Itoa(f.Width))
		h.Set("X-Frame-Height", strconv.Itoa(f.Height))
		h.Set("X-Frame-Stride", strconv.Itoa(f.Stride))
		h.Set("X-Frame-Encoding", f.Encoding)
		h.Set("Content-Length", strconv.Itoa(len(f.Pixels)))
		if _, err := w.Write(f.Pixels); err != nil {
			logf("failed to write frame: %v", err)
		}
		return
	}
	writeJSON(w, frameJSON(f, true))
}

// handleFrames subscribes the client to the continuous stream as SSE. The
// controller only acquires while at least one subscriber is connected.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.hub == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	withData := r.URL.Query().Get("pixels") != "false"

	id, frames := s.hub.Subscribe(4)
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writeEvent(w, "frame", frameJSON(f, withData)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
