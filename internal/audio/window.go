package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Window collection errors.
var (
	// ErrNoSpeech means the capture timed out before any speech was heard.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrStreamClosed means the frame stream ended mid-capture.
	ErrStreamClosed = errors.New("audio stream closed")
)

// WindowConfig controls how a command window is cut from the frame stream.
type WindowConfig struct {
	// Silence ends the window once speech has been heard and the stream
	// stays below the threshold for this long.
	Silence time.Duration

	// NoSpeech abandons the window when nothing above the threshold
	// arrives at all within this duration.
	NoSpeech time.Duration

	// MaxDuration hard-caps the window length.
	MaxDuration time.Duration

	// SilenceThreshold is the normalized RMS (0.0-1.0) below which a frame
	// counts as quiet.
	SilenceThreshold float64
}

// CollectWindow buffers frames until end of speech and returns the window.
//
// End of speech is a silence timeout: once at least one frame exceeded the
// threshold, a run of quiet frames lasting cfg.Silence closes the window.
// If no frame exceeds the threshold within cfg.NoSpeech, ErrNoSpeech is
// returned and no window is produced.
func CollectWindow(ctx context.Context, frames <-chan Frame, cfg WindowConfig) (Buffer, error) {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}

	var (
		buf         Buffer
		spoke       bool
		quietSince  time.Time
		deadline    = time.NewTimer(cfg.NoSpeech)
		maxDeadline = time.NewTimer(cfg.MaxDuration)
	)
	defer deadline.Stop()
	defer maxDeadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return Buffer{}, ctx.Err()

		case <-deadline.C:
			if !spoke {
				return Buffer{}, ErrNoSpeech
			}

		case <-maxDeadline.C:
			if !spoke {
				return Buffer{}, ErrNoSpeech
			}
			return buf, nil

		case frame, ok := <-frames:
			if !ok {
				if spoke {
					return buf, nil
				}
				return Buffer{}, ErrStreamClosed
			}
			if buf.Format.SampleRate == 0 {
				buf.Format = frame.Format
			}
			buf.Data = append(buf.Data, frame.Data...)

			if RMS(frame.Data) >= cfg.SilenceThreshold {
				spoke = true
				quietSince = time.Time{}
				continue
			}
			if !spoke {
				continue
			}
			if quietSince.IsZero() {
				quietSince = time.Now()
				continue
			}
			if time.Since(quietSince) >= cfg.Silence {
				return buf, nil
			}
		}
	}
}

// RMS computes the normalized root mean square (0.0-1.0) of 16-bit
// little-endian PCM samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
