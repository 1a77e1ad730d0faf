// Package classifier is the call boundary to the external leaf disease
// model. The model itself lives elsewhere; this package only moves a
// preprocessed tensor to it and maps its probability vector to a label.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/server/imaging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
)

// Input is a stored upload and its preprocessed tensor.
type Input struct {
	ImageRef string
	Tensor   *imaging.Tensor
}

// Prediction is the most probable label. Confidence is in [0,1].
type Prediction struct {
	Label      models.Label
	Confidence float64
}

// Classifier must be safe for concurrent use. Every error it returns
// matches common.ErrClassificationFailed.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Prediction, error)
}

// Func adapts an ordinary function to Classifier.
type Func func(ctx context.Context, in Input) (Prediction, error)

func (f Func) Classify(ctx context.Context, in Input) (Prediction, error) {
	return f(ctx, in)
}

// FromProbabilities picks the argmax of probs, which must hold one
// probability per label in models.Labels order. Ties go to the earlier label.
func FromProbabilities(probs []float64) (Prediction, error) {
	if len(probs) != len(models.Labels) {
		return Prediction{}, fmt.Errorf("%w: got %d probabilities, want %d",
			common.ErrClassificationFailed, len(probs), len(models.Labels))
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Prediction{}, fmt.Errorf("%w: probability %v out of range", common.ErrClassificationFailed, p)
		}
		if p > probs[best] {
			best = i
		}
	}

	return Prediction{Label: models.Labels[best], Confidence: probs[best]}, nil
}
