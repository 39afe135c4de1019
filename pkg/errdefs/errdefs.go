package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind sentinels. Every error surfaced by burrow wraps exactly one of
// these, so callers can branch with errors.Is and HTTP adapters can map
// kinds to status codes in one place.
var (
	ErrInvalid            = errors.New("invalid_argument")
	ErrNotFound           = errors.New("not_found")
	ErrAlreadyRegistered  = errors.New("already_registered")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition_failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenInvalid       = errors.New("token_invalid")
	ErrTokenExpired       = errors.New("token_expired")
	ErrTokenExhausted     = errors.New("token_exhausted")
	ErrImageNotFound      = errors.New("image_not_found")
	ErrRuntimeUnavailable = errors.New("runtime_unavailable")
	ErrUnreachable        = errors.New("unreachable")
	ErrTimeout            = errors.New("timeout")
	ErrInternal           = errors.New("internal")
)

// Invalid wraps a message with the invalid_argument kind. The other
// constructors follow the same pattern.
func Invalid(format string, args ...any) error {
	return wrap(ErrInvalid, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func AlreadyRegistered(format string, args ...any) error {
	return wrap(ErrAlreadyRegistered, format, args...)
}

func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

func PreconditionFailed(format string, args ...any) error {
	return wrap(ErrPreconditionFailed, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return wrap(ErrUnauthorized, format, args...)
}

func TokenInvalid(format string, args ...any) error {
	return wrap(ErrTokenInvalid, format, args...)
}

func TokenExpired(format string, args ...any) error {
	return wrap(ErrTokenExpired, format, args...)
}

func TokenExhausted(format string, args ...any) error {
	return wrap(ErrTokenExhausted, format, args...)
}

func ImageNotFound(format string, args ...any) error {
	return wrap(ErrImageNotFound, format, args...)
}

func RuntimeUnavailable(format string, args ...any) error {
	return wrap(ErrRuntimeUnavailable, format, args...)
}

func Unreachable(format string, args ...any) error {
	return wrap(ErrUnreachable, format, args...)
}

func Timeout(format string, args ...any) error {
	return wrap(ErrTimeout, format, args...)
}

func Internal(format string, args ...any) error {
	return wrap(ErrInternal, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// FromKindString maps a wire kind name back to an error wrapping the
// matching sentinel. Unknown kinds come back as internal.
func FromKindString(kind, format string, args ...any) error {
	for _, k := range kinds {
		if k.Error() == kind {
			return wrap(k, format, args...)
		}
	}
	return wrap(ErrInternal, format, args...)
}

var kinds = []error{
	ErrInvalid, ErrNotFound, ErrAlreadyRegistered, ErrConflict, ErrPreconditionFailed,
	ErrUnauthorized, ErrTokenInvalid, ErrTokenExpired, ErrTokenExhausted,
	ErrImageNotFound, ErrRuntimeUnavailable, ErrUnreachable, ErrTimeout,
	ErrInternal,
}

// Kind returns the sentinel an error wraps, or ErrInternal when the
// error carries no kind.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// KindString returns the stable wire name of an error's kind.
func KindString(err error) string {
	return Kind(err).Error()
}

// HTTPStatus maps an error kind to the HTTP status the control plane
// returns for it. This is the only place kinds and status codes meet.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenExhausted):
		return http.StatusBadRequest
	case errors.Is(err, ErrImageNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnreachable),
		errors.Is(err, ErrRuntimeUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
