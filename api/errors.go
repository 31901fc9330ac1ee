package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/arbor/files"
	"github.com/jmcleod/arbor/users"
)

// Error taxonomy shared by all handlers. Handlers wrap one of these (or a
// domain sentinel from users/files) and mapError picks the status.
var (
	ErrClientInput    = errors.New("invalid request")
	ErrAuthentication = errors.New("authentication required")
	ErrAuthorization  = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrUnexpected     = errors.New("internal server error")
)

const (
	maxAuthBodySize     = 16 << 10
	maxSettingsBodySize = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs cause and sends a generic 500. msg must not carry
// paths, ids or other internal detail.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, cause error) {
	a.logger.LogAttrs(r.Context(), slog.LevelError, msg,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", cause),
	)
	writeError(w, http.StatusInternalServerError, msg)
}

// statusFor maps an error onto the HTTP status of its taxonomy class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrClientInput),
		errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, files.ErrEmptySlug),
		errors.Is(err, files.ErrTraversal),
		errors.Is(err, files.ErrInvalidSlug):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization),
		errors.Is(err, files.ErrEscapesRoot):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound),
		errors.Is(err, users.ErrNotFound),
		errors.Is(err, files.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrIdentifierTaken),
		errors.Is(err, users.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, files.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// mapError writes err as a JSON error response. Server-side failures are
// logged and reported with a generic message.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.writeInternalError(w, r, ErrUnexpected.Error(), err)
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into T. On failure it writes the
// error response itself and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: empty body", ErrClientInput))
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: malformed JSON", ErrClientInput))
		}
		return v, false
	}
	return v, true
}
