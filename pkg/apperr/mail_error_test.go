package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	base := NotFound("message")
	wrapped := fmt.Errorf("get detail: %w", base)

	got := AsAppError(wrapped)
	if got != base {
		t.Errorf("AsAppError() = %v, want %v", got, base)
	}

	plain := errors.New("boom")
	got = AsAppError(plain)
	if got.Code != CodeInternalError {
		t.Errorf("AsAppError(plain).Code = %s, want %s", got.Code, CodeInternalError)
	}
	if !errors.Is(got, plain) {
		t.Error("AsAppError(plain) does not unwrap to original error")
	}
}

func TestAsAppError_Status(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth required", AuthRequired(""), http.StatusUnauthorized},
		{"auth failed", AuthFailed(errors.New("invalid_grant")), http.StatusUnauthorized},
		{"validation", ValidationFailed("to is empty"), http.StatusBadRequest},
		{"rate limited", RateLimited("gmail"), http.StatusTooManyRequests},
		{"wrapped", fmt.Errorf("x: %w", NotFound("message")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsAppError(tt.err).Status; got != tt.want {
				t.Errorf("AsAppError().Status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuthRequired_DefaultMessage(t *testing.T) {
	err := AuthRequired("")
	if err.Message != "User must login again" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Code != CodeAuthRequired {
		t.Errorf("Code = %q, want %q", err.Code, CodeAuthRequired)
	}
}

func TestWithDetail(t *testing.T) {
	err := BadRequest("bad").WithDetail("field", "to")
	if err.Details["field"] != "to" {
		t.Errorf("Details[field] = %v, want to", err.Details["field"])
	}
}
