package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/audio"
)

// ExecConfig describes a subprocess collaborator.
type ExecConfig struct {
	Command string
	Args    []string
}

// streamEvent is the JSON-lines protocol streaming recognizers speak on
// stdout: one object per hypothesis.
type streamEvent struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
	Final   *bool  `json:"final"`
}

// ExecStream runs a streaming recognizer subprocess: PCM frames in on
// stdin, JSON-lines hypotheses out on stdout.
type ExecStream struct {
	cfg    ExecConfig
	logger *zap.Logger
}

// NewExecStream creates a streaming recognizer backed by the given command.
func NewExecStream(cfg ExecConfig, logger *zap.Logger) *ExecStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecStream{cfg: cfg, logger: logger}
}

func (s *ExecStream) Start(ctx context.Context, frames <-chan audio.Frame) (<-chan Hypothesis, error) {
	if s.cfg.Command == "" {
		return nil, fmt.Errorf("%w: no stream recognizer configured", ErrRecognition)
	}
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", ErrRecognition, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %v", ErrRecognition, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrRecognition, s.cfg.Command, err)
	}

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if _, err := stdin.Write(frame.Data); err != nil {
					return
				}
			}
		}
	}()

	out := make(chan Hypothesis, 32)
	go func() {
		defer close(out)
		readHypotheses(ctx, stdout, out)
	}()
	go func() {
		_ = cmd.Wait()
	}()

	return out, nil
}

func readHypotheses(ctx context.Context, r io.Reader, out chan<- Hypothesis) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hyp, ok := parseStreamLine(line)
		if !ok {
			continue
		}
		select {
		case out <- hyp:
		case <-ctx.Done():
			return
		}
	}
}

func parseStreamLine(line string) (Hypothesis, bool) {
	if strings.HasPrefix(line, "{") {
		var evt streamEvent
		if err := json.Unmarshal([]byte(line), &evt); err == nil {
			text := strings.TrimSpace(evt.Text)
			final := true
			if text == "" && evt.Partial != "" {
				text = strings.TrimSpace(evt.Partial)
				final = false
			}
			if evt.Final != nil {
				final = *evt.Final
			}
			if text == "" {
				return Hypothesis{}, false
			}
			return Hypothesis{Text: text, Final: final, At: time.Now()}, true
		}
	}
	// Plain lines are treated as final transcripts.
	return Hypothesis{Text: line, Final: true, At: time.Now()}, true
}

// ExecRecognizer transcribes one window with a one-shot subprocess: the
// PCM window on stdin, the transcript on stdout.
type ExecRecognizer struct {
	cfg ExecConfig
}

// NewExecRecognizer creates a one-shot recognizer backed by the given command.
func NewExecRecognizer(cfg ExecConfig) *ExecRecognizer {
	return &ExecRecognizer{cfg: cfg}
}

func (r *ExecRecognizer) Recognize(ctx context.Context, window audio.Buffer) (string, error) {
	if r.cfg.Command == "" {
		return "", fmt.Errorf("%w: no recognizer configured", ErrRecognition)
	}
	cmd := exec.CommandContext(ctx, r.cfg.Command, r.cfg.Args...)
	cmd.Stdin = bytes.NewReader(window.Data)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRecognition, r.cfg.Command, err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrRecognition)
	}
	return text, nil
}

// ExecSynthesizer renders text with a subprocess (piper-style): text on
// stdin, audio bytes on stdout.
type ExecSynthesizer struct {
	cfg        ExecConfig
	sampleRate int
}

// NewExecSynthesizer creates a synthesizer backed by the given command.
func NewExecSynthesizer(cfg ExecConfig, sampleRate int) *ExecSynthesizer {
	return &ExecSynthesizer{cfg: cfg, sampleRate: sampleRate}
}

func (s *ExecSynthesizer) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	if s.cfg.Command == "" {
		return audio.Buffer{}, fmt.Errorf("%w: no synthesizer configured", ErrSynthesis)
	}
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Stdin = strings.NewReader(text)
	out, err := cmd.Output()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %s: %v", ErrSynthesis, s.cfg.Command, err)
	}
	if len(out) == 0 {
		return audio.Buffer{}, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}
	return audio.Buffer{Data: out, Format: audio.PCM16(s.sampleRate)}, nil
}

// ExecPlayer plays audio with a subprocess (aplay-style): audio on stdin.
type ExecPlayer struct {
	cfg ExecConfig
}

// NewExecPlayer creates a player backed by the given command.
func NewExecPlayer(cfg ExecConfig) *ExecPlayer {
	return &ExecPlayer{cfg: cfg}
}

func (p *ExecPlayer) Play(ctx context.Context, buf audio.Buffer) error {
	if p.cfg.Command == "" {
		return fmt.Errorf("%w: no player configured", ErrSynthesis)
	}
	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	cmd.Stdin = bytes.NewReader(buf.Data)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: playback via %s: %v", ErrSynthesis, p.cfg.Command, err)
	}
	return nil
}
