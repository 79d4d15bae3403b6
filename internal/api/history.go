package api

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/camera.control/internal/control"
)

func (s *Server) historyAvailable(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "history disabled")
		return false
	}
	return true
}

// handleSetpointHistory lists logged convergences, newest first.
// Query: kind (optional), limit (default 100).
func (s *Server) handleSetpointHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w, r) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" {
		k, err := control.ParseKind(kind)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k.String()
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 1 {
		s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	entries, err := s.store.Setpoints(kind, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list setpoints: %v", err))
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w, r) {
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 {
		s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := s.store.Batches(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list batches: %v", err))
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w, r) {
		return
	}
	run, err := s.store.Batch(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load batch: %v", err))
		return
	}
	writeJSON(w, run)
}

// handleTrace renders the measurement trace of the latest convergence as an
// HTML line chart, or as a PNG with ?format=png. Query: kind (optional).
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var kind control.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := control.ParseKind(raw)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	out, ok := s.ctrl.LastOutcome(kind)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no convergence recorded yet")
		return
	}

	if r.URL.Query().Get("format") == "png" {
		s.writeTracePNG(w, out)
		return
	}

	x := make([]string, len(out.Trace))
	measured := make([]opts.LineData, len(out.Trace))
	target := make([]opts.LineData, len(out.Trace))
	for i, v := range out.Trace {
		x[i] = strconv.Itoa(i)
		measured[i] = opts.LineData{Value: v}
		target[i] = opts.LineData{Value: out.Target}
	}

	status := "converged"
	if !out.Converged {
		status = out.ReasonText()
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Convergence trace", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s -> %g", out.Kind, out.Target),
			Subtitle: fmt.Sprintf("%s, %d polls, %s", status, out.Polls, out.Elapsed),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "poll", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: out.Kind.String(), NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("measured", measured).
		AddSeries("target", target)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
