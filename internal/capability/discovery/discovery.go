// Package discovery implements capability.CaptionDiscovery: an open-ended
// caption model, shelled out to the way yolo.Detector shells out to its
// detector binary.
package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mbarrow/framewatch/internal/capability"
)

const callTimeout = 30 * time.Second

type rawCandidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Discovery shells out to a captioning binary per frame.
type Discovery struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Discovery capability.
func New(binPath string) *Discovery {
	return &Discovery{bin: binPath, breaker: capability.NewBreaker("discovery")}
}

// Probe reports whether the configured binary is resolvable.
func Probe(binPath string) error {
	_, err := exec.LookPath(binPath)
	return err
}

// Discover proposes candidate labels for one frame's caption.
func (d *Discovery) Discover(ctx context.Context, frame capability.Frame) capability.Result[[]capability.ScoredLabel] {
	raw, err := d.breaker.Execute(func() (any, error) {
		var out []rawCandidate
		args := []string{"--image", frame.ImagePath, "--format", "json"}
		if err := capability.RunJSON(ctx, callTimeout, d.bin, args, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return capability.RuntimeError[[]capability.ScoredLabel](fmt.Errorf("discovery: %w", err))
	}

	candidates := make([]capability.ScoredLabel, 0, len(raw.([]rawCandidate)))
	for _, r := range raw.([]rawCandidate) {
		candidates = append(candidates, capability.ScoredLabel{Label: r.Label, Score: r.Score})
	}
	return capability.Ok(candidates)
}
