package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwbudde/govizier/internal/study"
)

// Wire error codes.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeResourceBusy    = "RESOURCE_BUSY"
	CodeCorruptState    = "CORRUPT_STATE"
	CodeTransport       = "TRANSPORT"
	CodeInternal        = "INTERNAL"
)

// ErrRemoteInternal is reported for INTERNAL responses of a peer. It is not a
// transport failure, so it never counts against a circuit breaker.
var ErrRemoteInternal = errors.New("remote internal error")

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps an error to its wire code and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, study.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, study.ErrInvalidArgument):
		return CodeInvalidArgument, http.StatusBadRequest
	case errors.Is(err, study.ErrResourceBusy):
		return CodeResourceBusy, http.StatusConflict
	case errors.Is(err, study.ErrCorruptState):
		return CodeCorruptState, http.StatusInternalServerError
	case errors.Is(err, study.ErrTransport):
		return CodeTransport, http.StatusBadGateway
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// remoteError is an error decoded from a peer's errorResponse. It matches the
// sentinel of its code with errors.Is.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.kind }

// decodeRemoteError turns an errorResponse back into the error taxonomy.
// Unknown codes are treated as transport failures.
func decodeRemoteError(status int, resp errorResponse) error {
	var kind error
	switch resp.Code {
	case CodeNotFound:
		kind = study.ErrNotFound
	case CodeInvalidArgument:
		kind = study.ErrInvalidArgument
	case CodeResourceBusy:
		kind = study.ErrResourceBusy
	case CodeCorruptState:
		kind = study.ErrCorruptState
	case CodeInternal:
		kind = ErrRemoteInternal
	default:
		kind = study.ErrTransport
	}
	msg := resp.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &remoteError{kind: kind, msg: msg}
}
