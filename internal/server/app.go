// Package server wires the smartagro components together and runs the
// HTTP surface until the process is signalled to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/cryptox"
	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/classifier"
	"github.com/dmitrijs2005/smartagro/internal/server/config"
	"github.com/dmitrijs2005/smartagro/internal/server/httpapi"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/smartagro/internal/server/services"
	"github.com/dmitrijs2005/smartagro/internal/server/sessions"
	"github.com/dmitrijs2005/smartagro/internal/server/uploads"
	"golang.org/x/sync/errgroup"
)

// RemoteClassifier is a classifier holding a connection.
type RemoteClassifier interface {
	classifier.Classifier
	Close() error
}

// dialClassifier is a seam for tests.
var dialClassifier = func(ctx context.Context, addr string, l logging.Logger) (RemoteClassifier, error) {
	return classifier.Dial(ctx, addr, l)
}

const startupTimeout = 15 * time.Second

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	classifier RemoteClassifier
	http       *httpapi.Server
}

// NewApp initializes storage, the classifier connection and the HTTP
// server. Any failure here is fatal for the process.
func NewApp(c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogBackend, os.Stdout, c.Debug)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := dbx.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	if err := app.init(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	rm, err := repomanager.NewRepositoryManager(c.DatabaseDriver)
	if err != nil {
		return err
	}
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	hasher, err := cryptox.NewHasher(c.PasswordHasher, c.BcryptCost)
	if err != nil {
		return err
	}

	store, images, err := app.newStore(ctx)
	if err != nil {
		return err
	}

	app.classifier, err = dialClassifier(ctx, c.ClassifierAddr, app.logger)
	if err != nil {
		return fmt.Errorf("classifier init error: %w", err)
	}

	sm := sessions.NewManager(app.logger)
	us := services.NewUserService(app.db, rm, hasher, sm, app.logger)
	ds := services.NewDiagnosisService(sm, uploads.NewValidator(c.AllowedExtensions), store, app.classifier,
		services.DiagnosisOptions{
			ImageWidth:  c.ImageWidth,
			ImageHeight: c.ImageHeight,
			MaxPixels:   c.MaxImagePixels,
			Timeout:     c.ClassifierTimeout,
		},
		app.logger)

	app.http = httpapi.NewServer(httpapi.Options{
		Addr:           c.HTTPAddr,
		Secret:         []byte(c.SecretKey),
		SessionTTL:     c.SessionTTL,
		MaxUploadBytes: c.MaxUploadBytes,
		Accounts:       us,
		Diagnosis:      ds,
		Sessions:       sm,
		Images:         images,
		Logger:         app.logger,
	})
	return nil
}

// newStore returns the upload store, and the same store as an image source
// when images are served from this process.
func (app *App) newStore(ctx context.Context) (uploads.Store, httpapi.ImageOpener, error) {
	c := app.config
	switch c.ImageStore {
	case "", config.StoreLocal:
		ls, err := uploads.NewLocalStore(c.UploadDir, c.UploadURLPrefix, c.UniqueUploadNames)
		if err != nil {
			return nil, nil, err
		}
		app.logger.Info(ctx, "storing uploads locally", "dir", ls.Dir())
		return ls, ls, nil
	case config.StoreS3:
		s3, err := uploads.NewS3Store(ctx, uploads.S3Options{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			PresignTTL:   c.S3PresignTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown image store %q", c.ImageStore)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) func() {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	stop := app.initSignalHandler(cancelFunc)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.http.Run(gctx)
	})

	err := g.Wait()
	app.close(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "app stopped with error", "error", err)
		return err
	}
	app.logger.Info(context.Background(), "app stopped")
	return nil
}

func (app *App) close(ctx context.Context) {
	if app.classifier != nil {
		if err := app.classifier.Close(); err != nil {
			app.logger.Warn(ctx, "closing classifier", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(ctx, "closing database", "error", err)
		}
	}
	if z, ok := app.logger.(*logging.ZapLogger); ok {
		_ = z.Sync()
	}
}
