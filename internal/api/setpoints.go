package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/camera.control/internal/control"
)

type setpointRequest struct {
	Target *float64 `json:"target"`
}

// SetpointResponse is the reply to a single setpoint request. A setpoint
// that ran but did not converge is still a 200 with success false.
type SetpointResponse struct {
	Reached   float64 `json:"reached"`
	Success   bool    `json:"success"`
	Reason    string  `json:"reason,omitempty"`
	Polls     int     `json:"polls"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

func (s *Server) setpointHandler(kind control.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req setpointRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.Target == nil {
			s.writeJSONError(w, http.StatusBadRequest, "missing target")
			return
		}

		out := s.ctrl.Set(s.ctx, kind, *req.Target)
		s.recordOutcome(out)
		if errors.Is(out.Reason, control.ErrInvalidSetpoint) {
			s.writeJSONError(w, http.StatusBadRequest, out.ReasonText())
			return
		}
		writeJSON(w, SetpointResponse{
			Reached:   out.Reached,
			Success:   out.Converged,
			Reason:    out.ReasonText(),
			Polls:     out.Polls,
			ElapsedMS: float64(out.Elapsed.Microseconds()) / 1e3,
		})
	}
}

func (s *Server) recordOutcome(out control.Outcome) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordOutcome(out, s.clock.Now()); err != nil {
		logf("failed to record %s setpoint: %v", out.Kind, err)
	}
}

type sleepingRequest struct {
	Sleeping *bool `json:"sleeping"`
}

func (s *Server) handleSleeping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req sleepingRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Sleeping == nil {
		s.writeJSONError(w, http.StatusBadRequest, "missing sleeping")
		return
	}
	s.ctrl.SetPaused(*req.Sleeping)
	writeJSON(w, map[string]bool{"success": true})
}
