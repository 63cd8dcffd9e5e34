package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/apperr"
)

// endpointFunc is a handler reduced to request in, status and body or error out
type endpointFunc func(r *http.Request) (int, any, error)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type limitBody struct {
	Error       string `json:"error"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	CanStart    bool   `json:"canStart"`
	Disabled    bool   `json:"disabled"`
}

// publicError carries a client-facing message for an otherwise internal failure
type publicError struct {
	message string
	err     error
}

func (e *publicError) Error() string { return e.message + ": " + e.err.Error() }
func (e *publicError) Unwrap() error { return e.err }

// endpoint binds fn to HTTP, mapping errors onto status codes and JSON bodies
func (s *Server) endpoint(fn endpointFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		status, body, err := fn(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, status, body)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err, s.config.Ledger.LimitReachedStatus)

	var (
		verr *apperr.ValidationError
		lerr *apperr.LimitReachedError
		cerr *apperr.ConnectionError
		nerr *apperr.NotFoundError
		perr *publicError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, status, errorBody{Error: verr.Message})
	case errors.As(err, &lerr):
		writeJSON(w, status, limitBody{
			Error:       lerr.Error(),
			Attempts:    lerr.Attempts,
			MaxAttempts: lerr.MaxAttempts,
			CanStart:    false,
			Disabled:    true,
		})
	case errors.As(err, &nerr):
		writeJSON(w, status, errorBody{Error: nerr.Error()})
	case errors.As(err, &cerr):
		s.requestLog(r).WithError(err).Error("storage unavailable")
		writeJSON(w, status, errorBody{Error: "Storage unavailable", Details: cerr.Err.Error()})
	case errors.As(err, &perr):
		s.requestLog(r).WithError(err).Error(perr.message)
		writeJSON(w, status, errorBody{Error: perr.message, Details: perr.err.Error()})
	default:
		s.requestLog(r).WithError(err).Error("request failed")
		writeJSON(w, status, errorBody{Error: "Internal server error", Details: err.Error()})
	}
}

func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"request_id": requestIDFrom(r.Context()),
		"path":       r.URL.Path,
	})
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mberr *http.MaxBytesError
		if errors.As(err, &mberr) {
			return apperr.Validation("body", "Request body too large")
		}
		return apperr.Validation("body", "Invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
