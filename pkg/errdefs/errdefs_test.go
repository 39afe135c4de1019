package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindIsMatchable(t *testing.T) {
	err := NotFound("worker %s", "worker-a")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected errors.Is(err, ErrNotFound) for %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Errorf("err %v should not match ErrConflict", err)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("relay failed: %w", TokenExhausted("token %s", "abc"))
	if !errors.Is(err, ErrTokenExhausted) {
		t.Errorf("kind lost through wrapping: %v", err)
	}
	if got := KindString(err); got != "token_exhausted" {
		t.Errorf("KindString() = %q, want token_exhausted", got)
	}
}

func TestKindFallsBackToInternal(t *testing.T) {
	if got := Kind(errors.New("plain")); got != ErrInternal {
		t.Errorf("Kind(plain) = %v, want ErrInternal", got)
	}
}

func TestFromKindString(t *testing.T) {
	err := FromKindString("token_expired", "token %s", "abc")
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("FromKindString(token_expired) = %v, want ErrTokenExpired match", err)
	}

	err = FromKindString("no_such_kind", "boom")
	if !errors.Is(err, ErrInternal) {
		t.Errorf("unknown kind = %v, want ErrInternal match", err)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFound("x"), http.StatusNotFound},
		{"unauthorized", Unauthorized("x"), http.StatusUnauthorized},
		{"conflict", Conflict("x"), http.StatusConflict},
		{"precondition", PreconditionFailed("x"), http.StatusConflict},
		{"already registered", AlreadyRegistered("x"), http.StatusConflict},
		{"invalid argument", Invalid("x"), http.StatusBadRequest},
		{"token invalid", TokenInvalid("x"), http.StatusBadRequest},
		{"token expired", TokenExpired("x"), http.StatusBadRequest},
		{"token exhausted", TokenExhausted("x"), http.StatusBadRequest},
		{"image not found", ImageNotFound("x"), http.StatusBadRequest},
		{"unreachable", Unreachable("x"), http.StatusBadGateway},
		{"runtime unavailable", RuntimeUnavailable("x"), http.StatusBadGateway},
		{"timeout", Timeout("x"), http.StatusGatewayTimeout},
		{"internal", Internal("x"), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
