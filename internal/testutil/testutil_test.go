package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodPost, "/exposure", map[string]float64{"target": 1200})
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]float64
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["target"] != 1200 {
		t.Errorf("target = %v, want 1200", body["target"])
	}
}

func TestNewJSONRequest_NilBody(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodGet, "/status", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("nil body should not set a content type")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rec.WriteString(`{"success":true}`)

	var got struct {
		Success bool `json:"success"`
	}
	DecodeJSON(t, rec, &got)
	if !got.Success {
		t.Error("expected success=true")
	}
}
