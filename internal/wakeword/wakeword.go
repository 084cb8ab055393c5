// Package wakeword detects configured wake phrases in the live audio
// stream. Scoring is delegated to a Scorer (typically backed by a streaming
// recognizer); the Detector applies the sensitivity threshold and debounce.
package wakeword

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/audio"
)

// Event is one wake phrase activation.
type Event struct {
	Phrase     string
	Confidence float64
	Timestamp  time.Time
}

// Score is a rolling per-phrase match score for the most recent audio.
type Score struct {
	Phrase string
	Value  float64
	At     time.Time
}

// Scorer turns the raw frame stream into rolling phrase scores. The
// returned channel closes when the underlying stream ends; detection is
// restartable by calling Start again.
type Scorer interface {
	Start(ctx context.Context, frames <-chan audio.Frame) (<-chan Score, error)
}

// Config holds detection settings.
type Config struct {
	// Sensitivity is the score threshold (0.0-1.0) at which a phrase fires.
	Sensitivity float64

	// Debounce suppresses duplicate activations after a trigger.
	Debounce time.Duration
}

// Detector emits wake events from scorer output. Detection runs
// independently of any in-progress exchange; it never blocks on consumers.
type Detector struct {
	scorer Scorer
	cfg    Config
	logger *zap.Logger

	lastFire time.Time
}

// NewDetector creates a detector with the given scorer and settings.
func NewDetector(scorer Scorer, cfg Config, logger *zap.Logger) *Detector {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{scorer: scorer, cfg: cfg, logger: logger}
}

// Run starts detection over the frame stream. The returned channel carries
// activations and closes when the stream ends or ctx is cancelled. Events
// are sent non-blockingly: if the consumer's buffer is full the event is
// dropped here, because the session keeps its own single pending slot.
func (d *Detector) Run(ctx context.Context, frames <-chan audio.Frame) (<-chan Event, error) {
	scores, err := d.scorer.Start(ctx, frames)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case score, ok := <-scores:
				if !ok {
					return
				}
				if ev, fired := d.evaluate(score); fired {
					d.logger.Info("wake word detected",
						zap.String("phrase", ev.Phrase),
						zap.Float64("confidence", ev.Confidence))
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
	}()
	return out, nil
}

// evaluate applies threshold and debounce to one score.
func (d *Detector) evaluate(score Score) (Event, bool) {
	if score.Value < d.cfg.Sensitivity {
		return Event{}, false
	}
	now := score.At
	if now.IsZero() {
		now = time.Now()
	}
	if !d.lastFire.IsZero() && now.Sub(d.lastFire) < d.cfg.Debounce {
		return Event{}, false
	}
	d.lastFire = now
	return Event{Phrase: score.Phrase, Confidence: score.Value, Timestamp: now}, true
}
