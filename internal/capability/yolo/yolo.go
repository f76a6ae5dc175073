// Package yolo implements capability.ObjectDetector by shelling out to a
// fixed-vocabulary detector binary, the way
// library_service/internal/ffprobe shells out to ffprobe.
package yolo

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mbarrow/framewatch/internal/capability"
)

const callTimeout = 30 * time.Second

type rawDetection struct {
	Label string  `json:"label"`
	Conf  float64 `json:"conf"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
}

// Detector shells out to a YOLO inference binary per frame.
type Detector struct {
	bin     string
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Detector. It always returns a Detector and does not
// check whether binPath resolves on PATH — callers check with Probe before
// wiring the capability into the Fuser.
func New(binPath string) *Detector {
	return &Detector{bin: binPath, breaker: capability.NewBreaker("yolo")}
}

// Probe reports whether the configured binary is resolvable, used at
// worker startup to decide whether this capability is Unavailable.
func Probe(binPath string) error {
	_, err := exec.LookPath(binPath)
	return err
}

// Detect runs the detector against one frame.
func (d *Detector) Detect(ctx context.Context, frame capability.Frame) capability.Result[[]capability.Detection] {
	raw, err := d.breaker.Execute(func() (any, error) {
		var out []rawDetection
		args := []string{"--image", frame.ImagePath, "--format", "json"}
		if err := capability.RunJSON(ctx, callTimeout, d.bin, args, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return capability.RuntimeError[[]capability.Detection](fmt.Errorf("yolo: %w", err))
	}

	dets := make([]capability.Detection, 0, len(raw.([]rawDetection)))
	for _, r := range raw.([]rawDetection) {
		dets = append(dets, capability.Detection{
			Label:      r.Label,
			Confidence: r.Conf,
			Box:        &capability.BoundingBox{X: r.X, Y: r.Y, W: r.W, H: r.H},
		})
	}
	return capability.Ok(dets)
}
