package classify

import (
	"context"
	"fmt"
	"time"

	"logsentinel/internal/logging"
	"logsentinel/pkg/models"
)

// Classifier scores one sealed window. Implementations must be pure with
// respect to pipeline state: the same evidence yields the same result.
type Classifier interface {
	Classify(ctx context.Context, w *models.Window) (*models.ClassificationResult, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, w *models.Window) (*models.ClassificationResult, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, w *models.Window) (*models.ClassificationResult, error) {
	return f(ctx, w)
}

// Gateway wraps a classifier with bounded retries for transient
// failures and validation of the returned result. A failure after
// retries marks the window failed; it never crashes the pipeline.
type Gateway struct {
	classifier Classifier
	maxRetries int
	backoff    time.Duration
}

// NewGateway creates a gateway. maxRetries counts retries after the
// first attempt; backoff grows linearly per attempt.
func NewGateway(c Classifier, maxRetries int, backoff time.Duration) *Gateway {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Gateway{classifier: c, maxRetries: maxRetries, backoff: backoff}
}

// Classify scores the window, retrying transient failures.
func (g *Gateway) Classify(ctx context.Context, w *models.Window) (*models.ClassificationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			logging.Warnf("Retrying classification for window %d (attempt %d/%d): %v",
				w.ID, attempt, g.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}

		res, err := g.classifier.Classify(ctx, w)
		if err != nil {
			if IsPermanent(err) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if err := validate(res); err != nil {
			return nil, Permanent(err)
		}
		res.WindowID = w.ID
		return res, nil
	}
	return nil, fmt.Errorf("classification failed after %d retries: %w", g.maxRetries, lastErr)
}

func validate(res *models.ClassificationResult) error {
	if res == nil || res.Label == "" {
		return fmt.Errorf("classifier returned no label")
	}
	if res.Probability < 0 || res.Probability > 1 {
		return fmt.Errorf("classifier probability %v outside [0,1]", res.Probability)
	}
	return nil
}
