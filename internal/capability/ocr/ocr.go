// Package ocr implements capability.OcrReader.
package ocr

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mbarrow/framewatch/internal/capability"
)

const callTimeout = 20 * time.Second

type rawResult struct {
	Text string  `json:"text"`
	Conf float64 `json:"conf"` // 0-100 vendor scale
	X    int     `json:"x"`
	Y    int     `json:"y"`
	W    int     `json:"w"`
	H    int     `json:"h"`
}

// Reader shells out to an OCR binary per frame.
type Reader struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Reader.
func New(binPath string) *Reader {
	return &Reader{bin: binPath, breaker: capability.NewBreaker("ocr")}
}

// Probe reports whether the configured binary is resolvable.
func Probe(binPath string) error {
	_, err := exec.LookPath(binPath)
	return err
}

// Read extracts on-screen text from one frame. Confidence is normalized
// from the vendor's 0-100 scale to [0,1].
func (r *Reader) Read(ctx context.Context, frame capability.Frame) capability.Result[[]capability.Detection] {
	raw, err := r.breaker.Execute(func() (any, error) {
		var out []rawResult
		args := []string{"--image", frame.ImagePath, "--format", "json"}
		if err := capability.RunJSON(ctx, callTimeout, r.bin, args, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return capability.RuntimeError[[]capability.Detection](fmt.Errorf("ocr: %w", err))
	}

	dets := make([]capability.Detection, 0, len(raw.([]rawResult)))
	for _, res := range raw.([]rawResult) {
		dets = append(dets, capability.Detection{
			RawText:    res.Text,
			Label:      res.Text,
			Confidence: res.Conf / 100.0,
			Box:        &capability.BoundingBox{X: res.X, Y: res.Y, W: res.W, H: res.H},
		})
	}
	return capability.Ok(dets)
}
