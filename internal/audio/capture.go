package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// frameChanDepth absorbs short stalls downstream without blocking the
// reader. Dropped frames are unrecoverable, so the reader never waits.
const frameChanDepth = 64

// ReaderCapture reads fixed-size PCM frames from an io.Reader. It backs the
// exec capture below and lets tests feed synthetic audio.
type ReaderCapture struct {
	name      string
	r         io.Reader
	format    Format
	frameSize int
	logger    *zap.Logger
}

// NewReaderCapture wraps r as a Capture producing frames of frameSize bytes.
func NewReaderCapture(name string, r io.Reader, format Format, frameSize int, logger *zap.Logger) *ReaderCapture {
	if frameSize <= 0 {
		frameSize = 3200 // 100ms of 16kHz mono s16le
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReaderCapture{name: name, r: r, format: format, frameSize: frameSize, logger: logger}
}

func (c *ReaderCapture) Name() string { return c.name }

func (c *ReaderCapture) Start(ctx context.Context) (<-chan Frame, error) {
	if c.r == nil {
		return nil, errors.New("reader capture: nil reader")
	}
	out := make(chan Frame, frameChanDepth)
	go c.readLoop(ctx, out)
	return out, nil
}

func (c *ReaderCapture) Close() error { return nil }

func (c *ReaderCapture) readLoop(ctx context.Context, out chan<- Frame) {
	defer close(out)
	buf := make([]byte, c.frameSize)
	for {
		n, err := io.ReadFull(c.r, buf)
		if n > 0 {
			frame := Frame{Data: append([]byte(nil), buf[:n]...), Format: c.format, Timestamp: time.Now()}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			default:
				// Downstream stalled; drop rather than block ingestion.
				c.logger.Debug("dropping audio frame", zap.String("capture", c.name))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Warn("capture read error", zap.String("capture", c.name), zap.Error(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// ExecCapture spawns an external recorder (arecord, sox, ffmpeg) and reads
// raw PCM from its stdout. Device handling stays in the collaborator.
type ExecCapture struct {
	command   string
	args      []string
	format    Format
	frameSize int
	logger    *zap.Logger
	cmd       *exec.Cmd
}

// NewExecCapture creates a capture backed by the given recorder command.
func NewExecCapture(command string, args []string, format Format, logger *zap.Logger) *ExecCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecCapture{
		command:   command,
		args:      args,
		format:    format,
		frameSize: format.SampleRate * format.Channels / 10 * 2, // 100ms frames
		logger:    logger,
	}
}

func (c *ExecCapture) Name() string { return c.command }

func (c *ExecCapture) Start(ctx context.Context) (<-chan Frame, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting recorder %s: %w", c.command, err)
	}
	c.cmd = cmd

	inner := NewReaderCapture(c.command, stdout, c.format, c.frameSize, c.logger)
	frames, err := inner.Start(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			c.logger.Warn("recorder exited", zap.String("command", c.command), zap.Error(err))
		}
	}()

	return frames, nil
}

func (c *ExecCapture) Close() error {
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}
