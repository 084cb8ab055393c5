package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voiced/internal/audio"
	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/conversation"
	"github.com/fyrsmithlabs/voiced/internal/wakeword"
)

// fakeCapture emits loud frames for a few hundred milliseconds and then
// endless quiet ones, so a capture window opens on speech and closes on
// silence.
type fakeCapture struct{}

func pcmFrame(amplitude int16, samples int) audio.Frame {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return audio.Frame{Format: audio.PCM16(16000), Data: data}
}

func (f *fakeCapture) Name() string { return "fake" }

func (f *fakeCapture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		start := time.Now()
		for {
			frame := pcmFrame(0, 160)
			if time.Since(start) < 300*time.Millisecond {
				frame = pcmFrame(12000, 160)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return out, nil
}

func (f *fakeCapture) Close() error { return nil }

// fakeWake emits scripted events on demand. Like the transcript scorer it
// drains its frame stream and ends with it.
type fakeWake struct {
	events chan wakeword.Event
}

func (f *fakeWake) Run(ctx context.Context, frames <-chan audio.Frame) (<-chan wakeword.Event, error) {
	out := make(chan wakeword.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-f.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case _, ok := <-frames:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// restartingCapture closes its first stream immediately; later streams
// behave like fakeCapture.
type restartingCapture struct {
	mu     sync.Mutex
	starts int
}

func (f *restartingCapture) Name() string { return "restarting" }

func (f *restartingCapture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	f.mu.Lock()
	f.starts++
	n := f.starts
	f.mu.Unlock()

	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		if n == 1 {
			return
		}
		start := time.Now()
		for {
			frame := pcmFrame(0, 160)
			if time.Since(start) < 300*time.Millisecond {
				frame = pcmFrame(12000, 160)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return out, nil
}

func (f *restartingCapture) Close() error { return nil }

func (f *restartingCapture) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeRecognizer struct {
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, buf audio.Buffer) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynth struct {
	err    error
	spoken []string
	mu     sync.Mutex
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	if f.err != nil {
		return audio.Buffer{}, f.err
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	return audio.Buffer{Format: audio.PCM16(22050), Data: []byte{0, 0}}, nil
}

type fakePlayer struct {
	err error
}

func (f *fakePlayer) Play(ctx context.Context, buf audio.Buffer) error { return f.err }

type fakeExchanger struct {
	mu      sync.Mutex
	history *conversation.History
	replies map[string]string
	calls   []string
	block   chan struct{}
	err     error
}

func newFakeExchanger(replies map[string]string) *fakeExchanger {
	return &fakeExchanger{history: conversation.NewHistory(conversation.Policy{}), replies: replies}
}

func (f *fakeExchanger) HandleUtterance(ctx context.Context, utterance string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, utterance)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	reply := f.replies[utterance]
	f.history.Append(conversation.RoleUser, utterance)
	f.history.Append(conversation.RoleAssistant, reply)
	f.history.CompleteExchange()
	return reply, nil
}

func (f *fakeExchanger) History() *conversation.History { return f.history }

func (f *fakeExchanger) utterances() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func testConfig(outputMode string) *config.Config {
	cfg := config.Default()
	cfg.Session.OutputMode = outputMode
	cfg.Session.SilenceTimeout = config.Duration(50 * time.Millisecond)
	cfg.Session.CaptureTimeout = config.Duration(2 * time.Second)
	cfg.Session.ShutdownGrace = config.Duration(100 * time.Millisecond)
	cfg.Speech.SilenceThreshold = 0.1
	return cfg
}

func TestSubmitText_RunsExchangeAndPrints(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"what time is it": "nine o'clock"})
	var out bytes.Buffer
	c := New(testConfig(config.OutputText), Options{
		Capture:    &fakeCapture{},
		Recognizer: &fakeRecognizer{},
		Exchanger:  ex,
		TextOutput: &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	resp, err := c.SubmitText(ctx, "what time is it")
	require.NoError(t, err)
	assert.Equal(t, "nine o'clock", resp)
	assert.Equal(t, []string{"what time is it"}, ex.utterances())

	cancel()
	require.NoError(t, <-done)
}

func TestWake_CapturesAndRespondsWithVoice(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"turn on the lights": "Lights are on."})
	wake := &fakeWake{events: make(chan wakeword.Event, 1)}
	synth := &fakeSynth{}
	var out bytes.Buffer

	c := New(testConfig(config.OutputVoice), Options{
		Capture:     &fakeCapture{},
		Wake:        wake,
		Recognizer:  &fakeRecognizer{text: "turn on the lights"},
		Synthesizer: synth,
		Player:      &fakePlayer{},
		Exchanger:   ex,
		TextOutput:  &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wake.events <- wakeword.Event{Phrase: "jarvis", Confidence: 1.0, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.spoken) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Lights are on.", synth.spoken[0])
	assert.Empty(t, out.String())

	cancel()
	require.NoError(t, <-done)
}

func TestWake_SynthesisFailureFallsBackToText(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"hello": "Hi there."})
	wake := &fakeWake{events: make(chan wakeword.Event, 1)}
	var out bytes.Buffer

	c := New(testConfig(config.OutputVoice), Options{
		Capture:     &fakeCapture{},
		Wake:        wake,
		Recognizer:  &fakeRecognizer{text: "hello"},
		Synthesizer: &fakeSynth{err: errors.New("piper crashed")},
		Player:      &fakePlayer{},
		Exchanger:   ex,
		TextOutput:  &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wake.events <- wakeword.Event{Phrase: "jarvis"}

	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte("Hi there."))
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// A wake with no command after it returns to listening without an exchange.
func TestWake_NoSpeechReturnsToListening(t *testing.T) {
	ex := newFakeExchanger(nil)
	wake := &fakeWake{events: make(chan wakeword.Event, 1)}

	// Recognizer returning empty text marks the window as command-free.
	rec := &fakeRecognizer{text: ""}
	c := New(testConfig(config.OutputText), Options{
		Capture:    &fakeCapture{},
		Wake:       wake,
		Recognizer: rec,
		Exchanger:  ex,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wake.events <- wakeword.Event{Phrase: "jarvis"}

	require.Eventually(t, func() bool {
		return rec.callCount() == 1 && c.Mode() == ModeListening
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, ex.utterances())

	cancel()
	require.NoError(t, <-done)
}

func TestStop_CancelsInFlightExchange(t *testing.T) {
	ex := newFakeExchanger(nil)
	ex.block = make(chan struct{})

	c := New(testConfig(config.OutputText), Options{
		Capture:    &fakeCapture{},
		Recognizer: &fakeRecognizer{},
		Exchanger:  ex,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	type result struct {
		resp string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := c.SubmitText(ctx, "long running thing")
		resCh <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		return len(ex.utterances()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	c.Stop()

	select {
	case res := <-resCh:
		require.ErrorIs(t, res.err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("exchange was not cancelled")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestConfigReplacement_AppliesBetweenExchanges(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"hi": "hello"})
	cfgCh := make(chan *config.Config, 1)
	var out bytes.Buffer

	c := New(testConfig(config.OutputText), Options{
		Capture:      &fakeCapture{},
		Recognizer:   &fakeRecognizer{},
		Exchanger:    ex,
		ConfigEvents: cfgCh,
		TextOutput:   &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	next := testConfig(config.OutputText)
	next.Session.HistoryReset = true
	cfgCh <- next

	// The idle loop consumes the replacement before the next exchange.
	require.Eventually(t, func() bool { return len(cfgCh) == 0 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, err := c.SubmitText(ctx, "hi")
	require.NoError(t, err)

	// The reset policy from the replacement config cleared the exchange.
	assert.Zero(t, ex.History().Len())

	cancel()
	require.NoError(t, <-done)
}

// The capture device is reopened when its stream ends; the session keeps
// serving wake activations on the new stream.
func TestRun_ReopensCaptureWhenStreamEnds(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"hello": "Hi there."})
	wake := &fakeWake{events: make(chan wakeword.Event, 1)}
	capture := &restartingCapture{}
	var out bytes.Buffer

	c := New(testConfig(config.OutputText), Options{
		Capture:    capture,
		Wake:       wake,
		Recognizer: &fakeRecognizer{text: "hello"},
		Exchanger:  ex,
		TextOutput: &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return capture.startCount() >= 2
	}, 3*time.Second, 10*time.Millisecond)

	wake.events <- wakeword.Event{Phrase: "jarvis"}
	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte("Hi there."))
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestContinuous_ReopensCaptureWhenStreamEnds(t *testing.T) {
	cfg := testConfig(config.OutputText)
	cfg.Session.Continuous = true
	ex := newFakeExchanger(map[string]string{"hello": "Hi there."})
	capture := &restartingCapture{}
	var out bytes.Buffer

	c := New(cfg, Options{
		Capture:    capture,
		Recognizer: &fakeRecognizer{text: "hello"},
		Exchanger:  ex,
		TextOutput: &out,
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return capture.startCount() >= 2 && bytes.Contains(out.Bytes(), []byte("Hi there."))
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// A typed exchange passes through the responding phase like a spoken one.
func TestHandleText_EntersRespondingMode(t *testing.T) {
	ex := newFakeExchanger(map[string]string{"hi": "hello"})
	c := New(testConfig(config.OutputText), Options{Exchanger: ex})

	req := textRequest{text: "hi", reply: make(chan textReply, 1)}
	c.handleText(t.Context(), req)

	rep := <-req.reply
	require.NoError(t, rep.err)
	assert.Equal(t, "hello", rep.response)
	assert.Equal(t, ModeResponding, c.Mode())
}

func TestCoalesce_KeepsNewestPendingEvent(t *testing.T) {
	in := make(chan wakeword.Event)
	out := coalesce(t.Context(), in)

	for i, phrase := range []string{"first", "second", "third"} {
		in <- wakeword.Event{Phrase: phrase, Confidence: float64(i)}
	}

	ev := <-out
	assert.Equal(t, "third", ev.Phrase)

	close(in)
	_, ok := <-out
	assert.False(t, ok)
}

func TestFrameRouter_RedirectsAndRestores(t *testing.T) {
	frames := make(chan audio.Frame)
	def := make(chan audio.Frame, 4)
	alt := make(chan audio.Frame, 4)
	r := newFrameRouter(def)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go r.run(ctx, frames)

	frames <- pcmFrame(1, 4)
	require.Eventually(t, func() bool { return len(def) == 1 }, time.Second, time.Millisecond)

	r.setSink(alt)
	frames <- pcmFrame(2, 4)
	require.Eventually(t, func() bool { return len(alt) == 1 }, time.Second, time.Millisecond)

	r.setSink(nil)
	frames <- pcmFrame(3, 4)
	require.Eventually(t, func() bool { return len(def) == 2 }, time.Second, time.Millisecond)
	assert.Len(t, alt, 1)
}
