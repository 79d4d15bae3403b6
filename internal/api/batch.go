package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/control"
)

// FrameJSON is a frame on the wire. Data is base64 in JSON.
type FrameJSON struct {
	FrameID   string `json:"frame_id"`
	Timestamp string `json:"timestamp"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Stride    int    `json:"stride"`
	Encoding  string `json:"encoding"`
	Data      []byte `json:"data,omitempty"`
}

func frameJSON(f camera.Frame, withData bool) FrameJSON {
	out := FrameJSON{
		FrameID:   f.FrameID,
		Timestamp: f.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Width:     f.Width,
		Height:    f.Height,
		Stride:    f.Stride,
		Encoding:  f.Encoding,
	}
	if withData {
		out.Data = f.Pixels
	}
	return out
}

// BatchResponse is the final reply to a batch request.
type BatchResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Reached []float64       `json:"reached"`
	Frames  []FrameJSON     `json:"frames"`
	Items   []itemJSON      `json:"items"`
	Summary control.Summary `json:"summary"`
}

type itemJSON struct {
	Target    float64 `json:"target"`
	Reached   float64 `json:"reached"`
	Converged bool    `json:"converged"`
	Reason    string  `json:"reason,omitempty"`
	Polls     int     `json:"polls"`
}

func batchResponse(res control.BatchResult, withData bool) BatchResponse {
	out := BatchResponse{
		ID:      res.ID,
		Success: res.Success,
		Reached: res.Reached,
		Frames:  make([]FrameJSON, 0, len(res.Frames)),
		Items:   make([]itemJSON, 0, len(res.Items)),
		Summary: control.Summarize(res),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, f := range res.Frames {
		out.Frames = append(out.Frames, frameJSON(f, withData))
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, itemJSON{
			Target:    it.Target,
			Reached:   it.Reached,
			Converged: it.Converged,
			Reason:    it.ReasonText(),
			Polls:     it.Polls,
		})
	}
	return out
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// handleBatch runs a batch. With Accept: text/event-stream it streams a
// progress event per item and a final result event; otherwise it replies
// once with the result. ?pixels=false omits frame data.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req control.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Kind != control.KindExposure && req.Kind != control.KindBrightness {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("%v: %s", control.ErrUnsupportedKind, req.Kind))
		return
	}
	withData := r.URL.Query().Get("pixels") != "false"

	if !wantsEventStream(r) {
		res := s.ctrl.RunBatch(s.ctx, req, nil)
		s.recordBatch(res)
		writeJSON(w, batchResponse(res, withData))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// progress is delivered while the batch holds the guard, so it must
	// never wait on the client
	events := make(chan control.Progress, len(req.Targets))
	done := make(chan control.BatchResult, 1)
	go func() {
		res := s.ctrl.RunBatch(s.ctx, req, func(p control.Progress) { events <- p })
		close(events)
		done <- res
	}()

	for p := range events {
		if err := writeEvent(w, "progress", p); err != nil {
			logf("batch %s: client gone: %v", p.BatchID, err)
		}
		flusher.Flush()
	}
	res := <-done
	s.recordBatch(res)
	if err := writeEvent(w, "result", batchResponse(res, withData)); err != nil {
		logf("batch %s: failed to send result: %v", res.ID, err)
	}
	flusher.Flush()
}

func (s *Server) recordBatch(res control.BatchResult) {
	if s.store == nil || errors.Is(res.Err, control.ErrUnsupportedKind) {
		return
	}
	if err := s.store.RecordBatch(res); err != nil {
		logf("failed to record batch %s: %v", res.ID, err)
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
