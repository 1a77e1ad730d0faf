package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/classifier"
	"github.com/dmitrijs2005/smartagro/internal/server/imaging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/dmitrijs2005/smartagro/internal/server/uploads"
)

// State is a step of the diagnosis workflow. Rejected, ClassificationFailed
// and Recorded are terminal.
type State string

const (
	StateIdle                 State = "Idle"
	StateValidating           State = "Validating"
	StateRejected             State = "Rejected"
	StateClassifying          State = "Classifying"
	StateClassificationFailed State = "ClassificationFailed"
	StateRecorded             State = "Recorded"
)

// Upload is a file received from the diagnosis form.
type Upload struct {
	Filename string
	Body     []byte
}

// Outcome is what the diagnosis page shows. Prediction is empty for a
// rejected upload and models.LabelError when classification failed.
type Outcome struct {
	State       State
	Filename    string
	Prediction  models.Label
	Confidence  float64
	ImageRef    string
	Reason      string
	Overwritten bool
}

// HistoryAppender is the part of the session manager the orchestrator needs.
type HistoryAppender interface {
	AppendHistory(token string, rec models.DiagnosisRecord) error
}

// DiagnosisOptions holds the tunables of DiagnosisService.
type DiagnosisOptions struct {
	ImageWidth  int
	ImageHeight int
	// MaxPixels caps the declared size of an uploaded image; see imaging.Prepare.
	MaxPixels int
	// Timeout bounds reading the stored image, preprocessing and the model call.
	Timeout time.Duration
}

// DiagnosisService runs one upload through validate, store, classify and
// record. Classification problems never surface as errors: they are logged
// and reported through Outcome.
type DiagnosisService struct {
	sessions   HistoryAppender
	validator  *uploads.Validator
	store      uploads.Store
	classifier classifier.Classifier
	opts       DiagnosisOptions
	logger     logging.Logger
	now        func() time.Time
}

func NewDiagnosisService(h HistoryAppender, v *uploads.Validator, st uploads.Store, c classifier.Classifier, o DiagnosisOptions, l logging.Logger) *DiagnosisService {
	if o.ImageWidth <= 0 {
		o.ImageWidth = 224
	}
	if o.ImageHeight <= 0 {
		o.ImageHeight = 224
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = imaging.DefaultMaxPixels
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return &DiagnosisService{
		sessions:   h,
		validator:  v,
		store:      st,
		classifier: c,
		opts:       o,
		logger:     l.With("module", "diagnosis"),
		now:        time.Now,
	}
}

// Diagnose handles an upload for the session token. The only error it
// returns is common.ErrAuthRequired, when the session ended mid-request.
func (s *DiagnosisService) Diagnose(ctx context.Context, token string, up Upload) (*Outcome, error) {
	out := &Outcome{State: StateValidating, Filename: up.Filename}

	name, err := s.validator.Validate(up.Filename, len(up.Body) > 0)
	if err != nil {
		out.State = StateRejected
		var r *uploads.Rejection
		if errors.As(err, &r) {
			out.Reason = r.Reason
		} else {
			out.Reason = err.Error()
		}
		s.logger.Info(ctx, "upload rejected", "filename", up.Filename, "reason", out.Reason)
		return out, nil
	}
	out.Filename = name
	out.State = StateClassifying

	stored, err := s.store.Save(ctx, name, bytes.NewReader(up.Body))
	if err != nil {
		return s.failed(ctx, out, fmt.Errorf("store upload: %w", err)), nil
	}
	if stored.Overwritten {
		s.logger.Warn(ctx, "upload replaced an earlier file with the same name", "key", stored.Key)
	}
	out.Overwritten = stored.Overwritten

	pred, err := s.classify(ctx, stored)
	if err != nil {
		return s.failed(ctx, out, err), nil
	}

	rec := models.DiagnosisRecord{
		Filename:   name,
		Prediction: pred.Label,
		Confidence: Percent(pred.Confidence),
		ImageRef:   stored.Ref,
		CreatedAt:  s.now(),
	}
	if err := s.sessions.AppendHistory(token, rec); err != nil {
		if errors.Is(err, common.ErrSessionNotFound) {
			return nil, common.ErrAuthRequired
		}
		return s.failed(ctx, out, fmt.Errorf("append history: %w", err)), nil
	}

	out.State = StateRecorded
	out.Prediction = rec.Prediction
	out.Confidence = rec.Confidence
	out.ImageRef = rec.ImageRef
	return out, nil
}

// classify reads the stored image back, preprocesses it and asks the model,
// all under the configured timeout. A panicking classifier counts as a
// failed classification.
func (s *DiagnosisService) classify(ctx context.Context, img *uploads.StoredImage) (p classifier.Prediction, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: classifier panic: %v", common.ErrClassificationFailed, r)
		}
	}()

	rc, err := s.store.Open(ctx, img.Key)
	if err != nil {
		return p, fmt.Errorf("open stored image: %w", err)
	}
	tensor, err := imaging.Prepare(rc, s.opts.ImageWidth, s.opts.ImageHeight, s.opts.MaxPixels)
	_ = rc.Close()
	if err != nil {
		return p, fmt.Errorf("preprocess: %w", err)
	}

	p, err = s.classifier.Classify(ctx, classifier.Input{ImageRef: img.Ref, Tensor: tensor})
	if err != nil {
		return p, err
	}
	if !p.Label.Valid() || math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return classifier.Prediction{}, fmt.Errorf("%w: invalid prediction %q %v", common.ErrClassificationFailed, p.Label, p.Confidence)
	}
	return p, nil
}

func (s *DiagnosisService) failed(ctx context.Context, out *Outcome, err error) *Outcome {
	s.logger.Error(ctx, "classification failed", "filename", out.Filename, "error", err)
	out.State = StateClassificationFailed
	out.Prediction = models.LabelError
	out.Confidence = 0
	out.ImageRef = ""
	return out
}

// Percent converts a probability to a percentage rounded to two decimals.
func Percent(p float64) float64 {
	return math.Round(p*100*100) / 100
}
