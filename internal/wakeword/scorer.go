package wakeword

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/voiced/internal/audio"
	"github.com/fyrsmithlabs/voiced/internal/speech"
)

// TranscriptScorer scores wake phrases against partial transcripts from a
// streaming recognizer. A phrase scores 1.0 on an exact token-sequence match
// in the hypothesis tail and proportionally less on partial token overlap.
type TranscriptScorer struct {
	stream  speech.Stream
	phrases [][]string
	labels  []string
}

// NewTranscriptScorer builds a scorer for the given phrases. Phrases are
// matched case-insensitively on whitespace-separated tokens.
func NewTranscriptScorer(stream speech.Stream, phrases []string) *TranscriptScorer {
	s := &TranscriptScorer{stream: stream}
	for _, p := range phrases {
		toks := tokens(p)
		if len(toks) == 0 {
			continue
		}
		s.phrases = append(s.phrases, toks)
		s.labels = append(s.labels, p)
	}
	return s
}

// Start begins scoring. Each recognizer hypothesis produces at most one
// score per configured phrase.
func (s *TranscriptScorer) Start(ctx context.Context, frames <-chan audio.Frame) (<-chan Score, error) {
	hyps, err := s.stream.Start(ctx, frames)
	if err != nil {
		return nil, err
	}

	out := make(chan Score, 4)
	go func() {
		defer close(out)
		for hyp := range hyps {
			heard := tokens(hyp.Text)
			if len(heard) == 0 {
				continue
			}
			for i, phrase := range s.phrases {
				v := matchScore(heard, phrase)
				if v <= 0 {
					continue
				}
				at := hyp.At
				if at.IsZero() {
					at = time.Now()
				}
				select {
				case out <- Score{Phrase: s.labels[i], Value: v, At: at}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// matchScore returns 1.0 when phrase appears as a contiguous token sequence
// in heard, otherwise the fraction of phrase tokens present anywhere.
func matchScore(heard, phrase []string) float64 {
	if containsSeq(heard, phrase) {
		return 1.0
	}
	found := 0
	for _, pt := range phrase {
		for _, ht := range heard {
			if ht == pt {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(phrase))
}

func containsSeq(heard, phrase []string) bool {
	if len(phrase) > len(heard) {
		return false
	}
	for i := 0; i+len(phrase) <= len(heard); i++ {
		ok := true
		for j, pt := range phrase {
			if heard[i+j] != pt {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(s)))
}
