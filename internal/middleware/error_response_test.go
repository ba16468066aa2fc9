package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/biblioteca/internal/model"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.KindNotFound, http.StatusNotFound},
		{model.KindCapacityExceeded, http.StatusConflict},
		{model.KindActiveLoansExist, http.StatusConflict},
		{model.KindLoanHistoryExists, http.StatusConflict},
		{model.KindDuplicateUsername, http.StatusConflict},
		{model.KindSelfModificationDenied, http.StatusForbidden},
		{model.KindForbidden, http.StatusForbidden},
		{model.KindValidation, http.StatusBadRequest},
		{model.KindUnauthorized, http.StatusUnauthorized},
		{model.KindInvalidCredentials, http.StatusUnauthorized},
		{model.KindStorageUnavailable, http.StatusServiceUnavailable},
		{"", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := StatusForKind(tt.kind); got != tt.want {
				t.Errorf("StatusForKind(%q) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWriteError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("create loan: %w", model.NewCapacityExceededError("book-1"))

	WriteError(w, err)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeCapacityExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCapacityExceeded)
	}
	if body.Category != "loan" {
		t.Errorf("category = %q, want %q", body.Category, "loan")
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

func TestWriteError_PlainErrorHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, errors.New("pq: password authentication failed"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if body.Message == "pq: password authentication failed" {
		t.Error("internal error detail should not be exposed")
	}
}
