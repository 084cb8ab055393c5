// Package session drives the interaction loop: listen for the wake phrase,
// capture the command, run the exchange, deliver the response.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voiced/internal/audio"
	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/conversation"
	"github.com/fyrsmithlabs/voiced/internal/metrics"
	"github.com/fyrsmithlabs/voiced/internal/speech"
	"github.com/fyrsmithlabs/voiced/internal/wakeword"
)

// Mode is the controller's current phase.
type Mode int

const (
	ModeListening Mode = iota
	ModeCapturing
	ModeProcessing
	ModeResponding
)

func (m Mode) String() string {
	switch m {
	case ModeCapturing:
		return "capturing"
	case ModeProcessing:
		return "processing"
	case ModeResponding:
		return "responding"
	default:
		return "listening"
	}
}

// rePrompt is spoken when the recognizer cannot make out the command.
const rePrompt = "Sorry, I didn't catch that."

// Exchanger runs one utterance through planning, tools, and phrasing.
type Exchanger interface {
	HandleUtterance(ctx context.Context, utterance string) (string, error)
	History() *conversation.History
}

// WakeSource emits wake activations from the frame stream.
type WakeSource interface {
	Run(ctx context.Context, frames <-chan audio.Frame) (<-chan wakeword.Event, error)
}

// textRequest is a typed command submitted while the controller runs.
type textRequest struct {
	text  string
	reply chan textReply
}

type textReply struct {
	response string
	err      error
}

// Controller owns the session state machine. All mode transitions happen on
// the Run goroutine; external callers interact through SubmitText, Stop, and
// the config event channel.
type Controller struct {
	capture    audio.Capture
	wake       WakeSource
	recognizer speech.Recognizer
	synth      speech.Synthesizer
	player     speech.Player
	exchanger  Exchanger
	cfgEvents  <-chan *config.Config
	textOut    io.Writer
	logger     *zap.Logger

	cfg *config.Config

	id        string
	startedAt time.Time

	textCh chan textRequest
	stopCh chan struct{}

	mu       sync.Mutex
	mode     Mode
	exCancel context.CancelFunc
}

// Options bundles the controller's collaborators.
type Options struct {
	Capture      audio.Capture
	Wake         WakeSource
	Recognizer   speech.Recognizer
	Synthesizer  speech.Synthesizer
	Player       speech.Player
	Exchanger    Exchanger
	ConfigEvents <-chan *config.Config
	TextOutput   io.Writer
	Logger       *zap.Logger
}

// New creates a controller in listening mode.
func New(cfg *config.Config, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := opts.TextOutput
	if out == nil {
		out = io.Discard
	}
	return &Controller{
		id:         uuid.NewString(),
		startedAt:  time.Now(),
		capture:    opts.Capture,
		wake:       opts.Wake,
		recognizer: opts.Recognizer,
		synth:      opts.Synthesizer,
		player:     opts.Player,
		exchanger:  opts.Exchanger,
		cfgEvents:  opts.ConfigEvents,
		textOut:    out,
		logger:     logger,
		cfg:        cfg,
		textCh:     make(chan textRequest),
		stopCh:     make(chan struct{}, 1),
	}
}

// ID returns the session identifier assigned at construction.
func (c *Controller) ID() string { return c.id }

// StartedAt returns when the session was created.
func (c *Controller) StartedAt() time.Time { return c.startedAt }

// Mode reports the current phase.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.logger.Debug("session mode", zap.Stringer("mode", m))
}

// Stop cancels any in-flight exchange and returns the session to listening.
// A stop while already listening is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.exCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case c.stopCh <- struct{}{}:
	default:
	}
}

// SubmitText runs one typed command through the session, bypassing audio
// capture. It blocks until the exchange completes or ctx is cancelled.
func (c *Controller) SubmitText(ctx context.Context, text string) (string, error) {
	req := textRequest{text: text, reply: make(chan textReply, 1)}
	select {
	case c.textCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.response, rep.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// errStreamEnded signals the audio frame stream closed under the session.
var errStreamEnded = errors.New("audio stream ended")

// Run executes the session loop until ctx is cancelled. When the audio
// stream ends the capture device and wake pipeline are reopened; only a
// failure to reopen terminates the loop.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("session started",
		zap.String("session_id", c.id),
		zap.String("output_mode", c.cfg.Session.OutputMode),
		zap.Bool("continuous", c.cfg.Session.Continuous))

	for {
		err := c.runPipeline(ctx)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if !errors.Is(err, errStreamEnded) {
			return err
		}
		c.logger.Warn("audio stream ended, reopening capture")
	}
}

// runPipeline opens the capture stream and drives the session loop over it.
// Wake detection runs for the whole lifetime of the stream; activations
// arriving mid-exchange are coalesced so only the newest pending one is
// acted on afterwards.
func (c *Controller) runPipeline(ctx context.Context) error {
	frames, err := c.capture.Start(ctx)
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	wakeFrames := make(chan audio.Frame, 8)
	captureFrames := make(chan audio.Frame, 8)
	router := newFrameRouter(wakeFrames)
	go router.run(ctx, frames)

	var wakeCh <-chan wakeword.Event
	if c.wake != nil {
		raw, err := c.wake.Run(ctx, wakeFrames)
		if err != nil {
			return fmt.Errorf("start wake detection: %w", err)
		}
		wakeCh = coalesce(ctx, raw)
	}

	for {
		if c.cfg.Session.Continuous {
			select {
			case <-ctx.Done():
				return nil
			case <-router.done:
				return errStreamEnded
			default:
			}
			if err := c.continuousCycle(ctx, router, captureFrames); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("continuous cycle failed", zap.Error(err))
			}
			c.applyPendingConfig()
			continue
		}

		c.setMode(ModeListening)
		select {
		case <-ctx.Done():
			return nil
		case <-router.done:
			return errStreamEnded
		case cfg := <-c.cfgEvents:
			c.applyConfig(cfg)
		case <-c.stopCh:
			// Already listening, nothing to cancel.
		case req := <-c.textCh:
			c.handleText(ctx, req)
			c.applyPendingConfig()
		case ev, ok := <-wakeCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamEnded
			}
			metrics.WakeDetections.WithLabelValues(ev.Phrase).Inc()
			c.handleWake(ctx, router, captureFrames)
			c.applyPendingConfig()
		}
	}
}

// handleText runs one typed command and reports the response to the caller.
// The exchange passes through the same processing and responding phases as
// a spoken one.
func (c *Controller) handleText(ctx context.Context, req textRequest) {
	resp, err := c.runExchange(ctx, req.text)
	if err == nil {
		c.setMode(ModeResponding)
	}
	req.reply <- textReply{response: resp, err: err}
}

// handleWake runs the capture-process-respond path for one activation.
func (c *Controller) handleWake(ctx context.Context, router *frameRouter, captureFrames chan audio.Frame) {
	utterance, err := c.captureCommand(ctx, router, captureFrames)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, audio.ErrNoSpeech):
			c.logger.Info("no command after wake, returning to listening")
			metrics.Exchanges.WithLabelValues("no_speech").Inc()
		default:
			c.logger.Warn("command capture failed", zap.Error(err))
			c.deliver(ctx, rePrompt)
		}
		return
	}

	resp, err := c.runExchange(ctx, utterance)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Info("exchange stopped, returning to listening")
		} else if ctx.Err() == nil {
			c.logger.Error("exchange failed", zap.Error(err))
		}
		return
	}
	c.deliver(ctx, resp)
}

// captureCommand records until end of speech and transcribes the window.
func (c *Controller) captureCommand(ctx context.Context, router *frameRouter, captureFrames chan audio.Frame) (string, error) {
	c.setMode(ModeCapturing)
	router.setSink(captureFrames)
	defer router.setSink(nil)

	buf, err := audio.CollectWindow(ctx, captureFrames, audio.WindowConfig{
		Silence:          c.cfg.Session.SilenceTimeout.Duration(),
		NoSpeech:         c.cfg.Session.SilenceTimeout.Duration(),
		MaxDuration:      c.cfg.Session.CaptureTimeout.Duration(),
		SilenceThreshold: c.cfg.Speech.SilenceThreshold,
	})
	if err != nil {
		return "", err
	}

	text, err := c.recognizer.Recognize(ctx, buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", speech.ErrRecognition, err)
	}
	if text == "" {
		return "", audio.ErrNoSpeech
	}
	c.logger.Info("command captured", zap.String("utterance", text))
	return text, nil
}

// runExchange processes one utterance with stop and shutdown handling. The
// exchange context survives the loop context for the shutdown grace period
// so an in-flight exchange can drain.
func (c *Controller) runExchange(ctx context.Context, utterance string) (string, error) {
	c.setMode(ModeProcessing)

	exCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.mu.Lock()
	c.exCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.exCancel = nil
		c.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			grace := c.cfg.Session.ShutdownGrace.Duration()
			select {
			case <-done:
			case <-time.After(grace):
				cancel()
			}
		}
	}()

	return c.exchanger.HandleUtterance(exCtx, utterance)
}

// deliver speaks or prints the response per the configured output mode. A
// synthesis or playback failure falls back to text so the response is never
// silently lost.
func (c *Controller) deliver(ctx context.Context, response string) {
	c.setMode(ModeResponding)

	if c.cfg.Session.OutputMode == config.OutputVoice && c.synth != nil {
		spoken, err := c.synth.Synthesize(ctx, response)
		if err == nil {
			if err = c.player.Play(ctx, spoken); err == nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("voice output failed, falling back to text", zap.Error(err))
	}
	fmt.Fprintln(c.textOut, response)
}

// continuousCycle is the legacy always-on mode: capture a command without a
// wake phrase, run it, respond, repeat.
func (c *Controller) continuousCycle(ctx context.Context, router *frameRouter, captureFrames chan audio.Frame) error {
	utterance, err := c.captureCommand(ctx, router, captureFrames)
	if err != nil {
		if errors.Is(err, audio.ErrNoSpeech) {
			return nil
		}
		return err
	}
	resp, err := c.runExchange(ctx, utterance)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	c.deliver(ctx, resp)
	return nil
}

// applyConfig installs a replacement config between exchanges. Audio and
// provider topology changes need a daemon restart; session-level settings
// take effect immediately.
func (c *Controller) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	c.cfg = cfg
	c.exchanger.History().SetPolicy(conversation.Policy{
		ResetAfterResponse: cfg.Session.HistoryReset,
		MaxTurns:           cfg.Session.MaxTurns,
	})
	c.logger.Info("configuration replaced",
		zap.String("output_mode", cfg.Session.OutputMode),
		zap.Bool("history_reset", cfg.Session.HistoryReset))
}

// applyPendingConfig drains at most one queued config event after an
// exchange completes.
func (c *Controller) applyPendingConfig() {
	select {
	case cfg := <-c.cfgEvents:
		c.applyConfig(cfg)
	default:
	}
}
