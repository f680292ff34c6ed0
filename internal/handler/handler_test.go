package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shiva/labdock/internal/service"
)

func TestWriteServiceError_StatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrUserInactive, http.StatusForbidden},
		{service.ErrEmailTaken, http.StatusConflict},
		{service.ErrBookingNotFound, http.StatusNotFound},
		{service.ErrAgentNotFound, http.StatusNotFound},
		{service.ErrBookingOverlap, http.StatusConflict},
		{service.ErrNotPending, http.StatusConflict},
		{service.ErrNotActive, http.StatusConflict},
		{service.ErrNotCancellable, http.StatusConflict},
		{service.ErrNoAgents, http.StatusServiceUnavailable},
		{service.ErrAgentUnavailable, http.StatusServiceUnavailable},
		{service.ErrTimeout, http.StatusServiceUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("%v → %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%v: decode: %v", tc.err, err)
		}
		if _, ok := body["error"]; !ok {
			t.Errorf("%v: body %v missing error key", tc.err, body)
		}
	}
}

func TestWriteServiceError_ValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, &service.ValidationError{
		Fields: map[string]string{"cpu": "must be between 1 and 16"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body struct {
		Error map[string]string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error["cpu"] == "" {
		t.Errorf("body = %+v, want field message for cpu", body)
	}
}

func TestWriteServiceError_NoStackLeak(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("pq: secret dsn in here"))
	if got := rec.Body.String(); got != "{\"error\":\"internal error\"}\n" {
		t.Errorf("body = %q, internal detail must not leak", got)
	}
}
