// Package httpapi is the HTTP surface of smartagro: route dispatch, session
// gating and cookie transport. Pages are rendered as JSON documents.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/dmitrijs2005/smartagro/internal/server/services"
	"github.com/dmitrijs2005/smartagro/internal/server/sessions"
	"golang.org/x/sync/errgroup"
)

// Accounts handles signup, login and logout.
type Accounts interface {
	Signup(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, token string)
}

// Diagnoser runs uploads through the diagnosis workflow.
type Diagnoser interface {
	Diagnose(ctx context.Context, token string, up services.Upload) (*services.Outcome, error)
}

// Sessions gives read access to sessions and clears histories.
type Sessions interface {
	Require(token string) (*sessions.Session, error)
	ClearHistory(token string) error
}

// ImageOpener serves stored uploads back to the browser.
type ImageOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configures a Server. Images may be nil when uploads are not
// served by this process.
type Options struct {
	Addr           string
	Secret         []byte
	SessionTTL     time.Duration
	MaxUploadBytes int64
	Accounts       Accounts
	Diagnosis      Diagnoser
	Sessions       Sessions
	Images         ImageOpener
	Logger         logging.Logger
}

type Server struct {
	addr       string
	secret     []byte
	sessionTTL time.Duration
	maxUpload  int64
	accounts   Accounts
	diagnosis  Diagnoser
	sessions   Sessions
	images     ImageOpener
	logger     logging.Logger
}

func NewServer(o Options) *Server {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 16 << 20
	}
	return &Server{
		addr:       o.Addr,
		secret:     o.Secret,
		sessionTTL: o.SessionTTL,
		maxUpload:  o.MaxUploadBytes,
		accounts:   o.Accounts,
		diagnosis:  o.Diagnosis,
		sessions:   o.Sessions,
		images:     o.Images,
		logger:     o.Logger.With("module", "http_server"),
	}
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.makeHandler(s.requireSession(s.handleIndex)))
	mux.HandleFunc("GET /signup", s.makeHandler(s.handleSignupForm))
	mux.HandleFunc("POST /signup", s.makeHandler(s.handleSignup))
	mux.HandleFunc("GET /login", s.makeHandler(s.handleLoginForm))
	mux.HandleFunc("POST /login", s.makeHandler(s.handleLogin))
	mux.HandleFunc("GET /logout", s.makeHandler(s.handleLogout))
	mux.HandleFunc("GET /diagnose", s.makeHandler(s.requireSession(s.handleDiagnoseForm)))
	mux.HandleFunc("POST /diagnose", s.makeHandler(s.requireSession(s.handleDiagnose)))
	mux.HandleFunc("GET /info/{disease}", s.makeHandler(s.requireSession(s.handleInfo)))
	mux.HandleFunc("GET /about", s.makeHandler(s.handleAbout))
	mux.HandleFunc("GET /history", s.makeHandler(s.requireSession(s.handleHistory)))
	mux.HandleFunc("GET /clear_history", s.makeHandler(s.requireSession(s.handleClearHistory)))
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /static/uploads/{name}", s.makeHandler(s.requireSession(s.handleUploadedImage)))

	return s.withLogging(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())
		if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
