package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/server/auth"
	"github.com/dmitrijs2005/smartagro/internal/server/diseases"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/dmitrijs2005/smartagro/internal/server/services"
	"github.com/dmitrijs2005/smartagro/internal/server/sessions"
)

// UploadField is the multipart field carrying the leaf photo.
const UploadField = "leaf_image"

type formPage struct {
	Form   string   `json:"form"`
	Fields []string `json:"fields"`
}

func (s *Server) handleIndex(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{"user": sess.UserName})
}

func (s *Server) handleSignupForm(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, formPage{Form: "signup", Fields: []string{"username", "password"}})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return &StatusError{Status: http.StatusBadRequest, Code: "BadRequest", Err: err}
	}

	_, err := s.accounts.Signup(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	switch {
	case err == nil:
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return nil
	case errors.Is(err, common.ErrMissingField):
		return &StatusError{Status: http.StatusBadRequest, Code: "MissingField", Err: err}
	case errors.Is(err, common.ErrPasswordTooLong):
		return &StatusError{Status: http.StatusBadRequest, Code: "PasswordTooLong", Err: err}
	case errors.Is(err, common.ErrDuplicateUsername):
		return &StatusError{Status: http.StatusConflict, Code: "DuplicateUsername", Err: err}
	default:
		return err
	}
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, formPage{Form: "login", Fields: []string{"username", "password"}})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return &StatusError{Status: http.StatusBadRequest, Code: "BadRequest", Err: err}
	}

	token, err := s.accounts.Login(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			return &StatusError{Status: http.StatusUnauthorized, Code: "InvalidCredentials", Err: err}
		}
		return err
	}

	signed, err := auth.GenerateToken(token, s.secret, s.sessionTTL)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(s.sessionTTL),
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
	return nil
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) error {
	if token, err := s.sessionToken(r); err == nil {
		s.accounts.Logout(r.Context(), token)
	}
	s.clearCookie(w)
	return redirectToLogin(w, r)
}

type diagnoseResponse struct {
	State       string   `json:"state,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Prediction  *string  `json:"prediction"`
	Confidence  *float64 `json:"confidence"`
	ImageURL    *string  `json:"image_url"`
	Rejected    string   `json:"rejected,omitempty"`
	Overwritten bool     `json:"overwritten,omitempty"`
}

func (s *Server) handleDiagnoseForm(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, diagnoseResponse{})
}

func (s *Server) handleDiagnose(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	up, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &StatusError{Status: http.StatusRequestEntityTooLarge, Code: "FileTooLarge",
				Err: fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)}
		}
		return &StatusError{Status: http.StatusBadRequest, Code: "BadRequest", Err: err}
	}

	out, err := s.diagnosis.Diagnose(r.Context(), sess.Token, up)
	if err != nil {
		return err
	}

	resp := diagnoseResponse{State: string(out.State), Filename: out.Filename, Overwritten: out.Overwritten}
	switch out.State {
	case services.StateRejected:
		resp.Rejected = out.Reason
	case services.StateClassificationFailed:
		pred, conf := string(out.Prediction), out.Confidence
		resp.Prediction, resp.Confidence = &pred, &conf
	default:
		pred, conf, ref := string(out.Prediction), out.Confidence, out.ImageRef
		resp.Prediction, resp.Confidence, resp.ImageURL = &pred, &conf, &ref
	}
	return writeJSON(w, http.StatusOK, resp)
}

// readUpload returns the leaf_image part; a missing part is an upload with
// no name so it is rejected by validation rather than here.
func readUpload(r *http.Request) (services.Upload, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return services.Upload{}, err
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	f, hdr, err := r.FormFile(UploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return services.Upload{}, nil
		}
		return services.Upload{}, err
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return services.Upload{}, err
	}
	return services.Upload{Filename: hdr.Filename, Body: body}, nil
}

func (s *Server) handleInfo(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("disease")
	info, ok := diseases.Lookup(name)
	if !ok {
		return &StatusError{Status: http.StatusNotFound, Code: "UnknownDisease", Err: fmt.Errorf("no information about %q", name)}
	}
	return writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{
		"name":        "SmartAgro",
		"description": "Upload a leaf photo to detect common crop diseases.",
		"labels":      models.Labels,
	})
}

func (s *Server) handleHistory(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{"history": sess.History})
}

func (s *Server) handleClearHistory(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	if err := s.sessions.ClearHistory(sess.Token); err != nil {
		return common.ErrAuthRequired
	}
	http.Redirect(w, r, "/history", http.StatusSeeOther)
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "pong")
}

func (s *Server) handleUploadedImage(sess *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	if s.images == nil {
		return &StatusError{Status: http.StatusNotFound, Code: "NotFound"}
	}

	name := r.PathValue("name")
	rc, err := s.images.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &StatusError{Status: http.StatusNotFound, Code: "NotFound"}
		}
		return err
	}
	defer rc.Close()

	// The type comes from the stored bytes; the name was chosen by the uploader.
	head := make([]byte, 512)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	head = head[:n]
	ct := http.DetectContentType(head)
	if !strings.HasPrefix(ct, "image/") {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), rc)); err != nil {
		s.logger.Debug(r.Context(), "image copy interrupted", "name", name, "error", err)
	}
	return nil
}
