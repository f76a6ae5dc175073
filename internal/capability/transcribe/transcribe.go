// Package transcribe implements capability.Transcriber: speech-to-text with
// per-segment timing and an audio analysis summary.
package transcribe

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mbarrow/framewatch/internal/capability"
)

const callTimeout = 5 * time.Minute

type rawSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type rawTranscript struct {
	Language      string       `json:"language"`
	Text          string       `json:"text"`
	Segments      []rawSegment `json:"segments"`
	SpeechRatio   float64      `json:"speech_ratio"`
	SpeechSeconds float64      `json:"speech_seconds"`
	MusicDetected bool         `json:"music_detected"`
	VADAvailable  bool         `json:"vad_available"`
}

// Transcriber shells out to a speech-to-text binary for the whole video.
type Transcriber struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Transcriber.
func New(binPath string) *Transcriber {
	return &Transcriber{bin: binPath, breaker: capability.NewBreaker("transcribe")}
}

// Probe reports whether the configured binary is resolvable.
func Probe(binPath string) error {
	_, err := exec.LookPath(binPath)
	return err
}

// Transcribe converts videoPath's audio track to text. A failure is
// reported as a RuntimeError Result; the caller records it into
// report.transcript.error and continues the job rather than treating it as
// fatal (TranscriptError, per §7).
func (t *Transcriber) Transcribe(ctx context.Context, videoPath string) capability.Result[capability.Transcript] {
	raw, err := t.breaker.Execute(func() (any, error) {
		var out rawTranscript
		args := []string{"--input", videoPath, "--format", "json"}
		if err := capability.RunJSON(ctx, callTimeout, t.bin, args, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return capability.RuntimeError[capability.Transcript](fmt.Errorf("transcribe: %w", err))
	}

	r := raw.(rawTranscript)
	segments := make([]capability.SubtitleSegment, 0, len(r.Segments))
	for _, s := range r.Segments {
		segments = append(segments, capability.SubtitleSegment{StartSec: s.Start, EndSec: s.End, Text: s.Text})
	}
	return capability.Ok(capability.Transcript{
		Language: r.Language,
		Text:     r.Text,
		Segments: segments,
		AudioAnalysis: capability.AudioAnalysis{
			SpeechRatio:   r.SpeechRatio,
			SpeechSeconds: r.SpeechSeconds,
			MusicDetected: r.MusicDetected,
			VADAvailable:  r.VADAvailable,
		},
	})
}
