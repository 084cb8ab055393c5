// Package audio provides the microphone capture abstraction and the
// capture-window buffering used to cut one spoken command out of the
// continuous frame stream.
package audio

import (
	"context"
	"time"
)

// Format describes raw PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// PCM16 is the canonical format for voiced pipelines: 16-bit little-endian
// mono PCM at the configured sample rate.
func PCM16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, Encoding: "pcm_s16le"}
}

// Frame is one fixed-size chunk of captured audio.
type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Time
}

// Buffer is a bounded window of captured audio, e.g. one spoken command.
type Buffer struct {
	Data   []byte
	Format Format
}

// Duration returns the playing time of the buffer.
func (b Buffer) Duration() time.Duration {
	bytesPerSecond := b.Format.SampleRate * b.Format.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(b.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Capture produces the lazy, infinite frame stream from an input device.
// The stream never terminates under normal operation; if the underlying
// device fails, the channel closes and the caller restarts the capture.
type Capture interface {
	Name() string
	Start(ctx context.Context) (<-chan Frame, error)
	Close() error
}
