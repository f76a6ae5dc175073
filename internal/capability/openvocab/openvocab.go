// Package openvocab implements capability.OpenVocabScorer, backing both
// source="open_vocab" detection and source="verify" confirmation.
package openvocab

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mbarrow/framewatch/internal/capability"
)

const callTimeout = 30 * time.Second

// Scorer shells out to an open-vocabulary scoring binary per frame.
type Scorer struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Scorer.
func New(binPath string) *Scorer {
	return &Scorer{bin: binPath, breaker: capability.NewBreaker("open_vocab")}
}

// Probe reports whether the configured binary is resolvable.
func Probe(binPath string) error {
	_, err := exec.LookPath(binPath)
	return err
}

// Score scores frame against the given label list.
func (s *Scorer) Score(ctx context.Context, frame capability.Frame, labels []string) capability.Result[map[string]float64] {
	raw, err := s.breaker.Execute(func() (any, error) {
		var out map[string]float64
		args := []string{"--image", frame.ImagePath, "--format", "json"}
		for _, l := range labels {
			args = append(args, "--label", l)
		}
		if err := capability.RunJSON(ctx, callTimeout, s.bin, args, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return capability.RuntimeError[map[string]float64](fmt.Errorf("open_vocab: %w", err))
	}
	return capability.Ok(raw.(map[string]float64))
}
