// Package api exposes the controller over HTTP/JSON under /api.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/control"
	"github.com/banshee-data/camera.control/internal/db"
	"github.com/banshee-data/camera.control/internal/monitoring"
	"github.com/banshee-data/camera.control/internal/serialmux"
	"github.com/banshee-data/camera.control/internal/stream"
	"github.com/banshee-data/camera.control/internal/timeutil"
)

var logf = monitoring.Prefixed("[api] ")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the part of control.Controller the API drives.
type Controller interface {
	Set(ctx context.Context, kind control.Kind, target float64) control.Outcome
	SetPaused(paused bool)
	RunBatch(ctx context.Context, req control.BatchRequest, progress func(control.Progress)) control.BatchResult
	Status() control.Status
	LastFrame(ctx context.Context) (camera.Frame, bool, error)
	LastOutcome(kind control.Kind) (control.Outcome, bool)
}

// Store records and serves history. *db.DB satisfies it.
type Store interface {
	RecordOutcome(o control.Outcome, at time.Time) error
	RecordBatch(res control.BatchResult) error
	Setpoints(kind string, limit int) ([]db.SetpointEntry, error)
	Batches(limit int) ([]db.BatchRun, error)
	Batch(id string) (*db.BatchRun, error)
}

// Options configures a Server. Store and Hub are optional.
type Options struct {
	Controller Controller
	Hub        *stream.Hub
	Store      Store
	Clock      timeutil.Clock
	// Context bounds every controller call; cancel it on shutdown. Request
	// contexts are not used so a dropped client cannot abort a half-applied
	// setpoint.
	Context context.Context
	// SerialPort describes the transport for /api/status.
	SerialPort string
	// SerialOptions are the normalized line settings of a real port; nil in
	// dev mode.
	SerialOptions *serialmux.PortOptions
}

type Server struct {
	ctrl   Controller
	hub    *stream.Hub
	store  Store
	clock  timeutil.Clock
	ctx    context.Context
	serial string
	line   *serialmux.PortOptions
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Server{
		ctrl:   opts.Controller,
		hub:    opts.Hub,
		store:  opts.Store,
		clock:  opts.Clock,
		ctx:    opts.Context,
		serial: opts.SerialPort,
		line:   opts.SerialOptions,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/exposure", s.setpointHandler(control.KindExposure))
	mux.HandleFunc("/api/gain", s.setpointHandler(control.KindGain))
	mux.HandleFunc("/api/brightness", s.setpointHandler(control.KindBrightness))
	mux.HandleFunc("/api/sleeping", s.handleSleeping)
	mux.HandleFunc("/api/batch", s.handleBatch)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/frame", s.handleFrame)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/history/setpoints", s.handleSetpointHistory)
	mux.HandleFunc("/api/history/batches", s.handleBatchHistory)
	mux.HandleFunc("/api/history/batches/{id}", s.handleBatchByID)
	mux.HandleFunc("/api/trace", s.handleTrace)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("failed to encode response: %v", err)
	}
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
