// Package speech defines the external speech collaborators: streaming and
// one-shot recognition, synthesis, and playback. The core never owns the
// speech models; it invokes them through these narrow interfaces.
package speech

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/voiced/internal/audio"
)

// Collaborator failure classes. Both degrade the exchange, never the session.
var (
	// ErrRecognition means an audio window could not be transcribed;
	// the session re-prompts the user.
	ErrRecognition = errors.New("speech recognition failed")

	// ErrSynthesis means text could not be rendered to audio; the session
	// falls back to the text sink.
	ErrSynthesis = errors.New("speech synthesis failed")
)

// Hypothesis is one streaming transcription result. Partial hypotheses are
// revised as more audio arrives; a final hypothesis closes the phrase.
type Hypothesis struct {
	Text  string
	Final bool
	At    time.Time
}

// Stream is a streaming recognizer: it consumes the live frame stream and
// emits hypotheses continuously. Wake word scoring and the legacy
// continuous mode are built on this.
type Stream interface {
	Start(ctx context.Context, frames <-chan audio.Frame) (<-chan Hypothesis, error)
}

// Recognizer transcribes one bounded audio window.
type Recognizer interface {
	Recognize(ctx context.Context, window audio.Buffer) (string, error)
}

// Synthesizer renders text to playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Buffer, error)
}

// Player plays a synthesized buffer to the output device.
type Player interface {
	Play(ctx context.Context, buf audio.Buffer) error
}
