package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/auth"
	"github.com/dmitrijs2005/smartagro/internal/server/sessions"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id; incoming values are reused.
const RequestIDHeader = "X-Request-ID"

// SessionFunc is an APIFunc that runs with a live session.
type SessionFunc func(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error

// sessionToken extracts the opaque session token from the signed cookie.
func (s *Server) sessionToken(r *http.Request) (string, error) {
	c, err := r.Cookie(common.SessionCookieName)
	if err != nil {
		return "", common.ErrAuthRequired
	}
	return auth.GetSessionIDFromToken(c.Value, s.secret)
}

// requireSession redirects to the login page unless the request carries a
// valid cookie naming a live session.
func (s *Server) requireSession(f SessionFunc) APIFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		token, err := s.sessionToken(r)
		if err != nil {
			if !errors.Is(err, common.ErrAuthRequired) {
				s.logger.Debug(r.Context(), "bad session cookie", "error", err)
				s.clearCookie(w)
			}
			return redirectToLogin(w, r)
		}

		sess, err := s.sessions.Require(token)
		if err != nil {
			s.clearCookie(w)
			return redirectToLogin(w, r)
		}

		if err := f(sess, w, r); err != nil {
			if errors.Is(err, common.ErrAuthRequired) {
				s.clearCookie(w)
				return redirectToLogin(w, r)
			}
			return err
		}
		return nil
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, "/login", http.StatusSeeOther)
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		r = r.WithContext(logging.ContextWith(r.Context(), "request_id", rid))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
