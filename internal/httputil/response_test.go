package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]float64{"range": 1.25})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["range"] != 1.25 {
		t.Errorf("range = %v, want 1.25", got["range"])
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad pixel") }, http.StatusBadRequest, "bad pixel"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no run") }, http.StatusNotFound, "no run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.msg {
				t.Errorf("error = %q, want %q", body["error"], tt.msg)
			}
		})
	}
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSONOK(w, func() {})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, header is written before encoding", w.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Range float64 `json:"range"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"range": 2}`))
	if err := DecodeJSON(r, 1024, &v); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if v.Range != 2 {
		t.Errorf("range = %v", v.Range)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"speed": 2}`))
	if err := DecodeJSON(r, 1024, &v); err == nil {
		t.Error("expected unknown field to be rejected")
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"range": `+strings.Repeat("1", 64)+`}`))
	if err := DecodeJSON(r, 16, &v); err == nil {
		t.Error("expected oversized body to be rejected")
	}
}
