package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

// APIFunc is a handler that reports failures by returning an error.
type APIFunc func(w http.ResponseWriter, r *http.Request) error

// StatusError is rendered as {"error": Code, "message": Err} with Status.
type StatusError struct {
	Status int
	Code   string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *StatusError) Unwrap() error { return e.Err }

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) makeHandler(f APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}

		var statusError *StatusError
		if errors.As(err, &statusError) {
			if statusError.Status >= http.StatusInternalServerError {
				s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
			}
			resp := errorResponse{Error: statusError.Code}
			if statusError.Err != nil {
				resp.Message = statusError.Err.Error()
			}
			_ = writeJSON(w, statusError.Status, resp)
			return
		}

		s.logger.Error(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		_ = writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "InternalError"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
