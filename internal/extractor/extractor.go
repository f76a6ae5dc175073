// Package extractor implements the FrameExtractor capability: a primary
// ffmpeg path and a conservative fallback, with optional smart-sampling
// pruning of a uniform grid.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	"github.com/mbarrow/framewatch/internal/capability"
	"github.com/mbarrow/framewatch/internal/pipelineerr"
)

const extractTimeout = 10 * time.Minute

// Extractor shells out to ffmpeg the way
// library_service/internal/ffprobe.ProbeFileWithContext shells out to
// ffprobe: exec.CommandContext with a bounded timeout and wrapped errors.
type Extractor struct {
	log            *logrus.Logger
	ffmpegBin      string
	diffThreshold  float64
	minKeep        int
}

// New constructs an Extractor. ffmpegBin defaults to "ffmpeg" on the PATH.
func New(log *logrus.Logger, ffmpegBin string, diffThreshold float64, minKeep int) *Extractor {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Extractor{log: log, ffmpegBin: ffmpegBin, diffThreshold: diffThreshold, minKeep: minKeep}
}

// Extract samples frames from videoPath at intervalSec, trying the primary
// codec path first and falling back to a conservative invocation when the
// primary yields zero frames. When smartSampling is enabled the uniform
// grid is pruned by pixel-difference similarity.
func (e *Extractor) Extract(ctx context.Context, videoPath string, intervalSec int, smartSampling bool, outDir string) ([]capability.ExtractedFrame, error) {
	if intervalSec < 1 {
		intervalSec = 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindPersistenceError, fmt.Errorf("create frames dir: %w", err))
	}

	frames, err := e.runFFmpeg(ctx, videoPath, intervalSec, outDir, primaryArgs)
	if err != nil || len(frames) == 0 {
		e.log.WithFields(logrus.Fields{"video": videoPath, "err": err}).Warn("primary extraction produced no frames, trying fallback")
		frames, err = e.runFFmpeg(ctx, videoPath, intervalSec, outDir, fallbackArgs)
	}
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindExtractionFailed, err)
	}
	if len(frames) == 0 {
		return nil, pipelineerr.Wrap(pipelineerr.KindExtractionFailed, fmt.Errorf("zero frames produced for %s", videoPath))
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampSec < frames[j].TimestampSec })

	if smartSampling {
		frames, err = e.pruneSimilar(frames)
		if err != nil {
			e.log.WithError(err).Warn("smart sampling prune failed, keeping full grid")
		}
	}

	for i := range frames {
		frames[i].Index = i
	}
	return frames, nil
}

type argBuilder func(videoPath string, intervalSec int, pattern string) []string

func primaryArgs(videoPath string, intervalSec int, pattern string) []string {
	return []string{
		"-y", "-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d,scene", intervalSec),
		"-vsync", "vfr", "-q:v", "2",
		pattern,
	}
}

func fallbackArgs(videoPath string, intervalSec int, pattern string) []string {
	return []string{
		"-y", "-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-q:v", "4",
		pattern,
	}
}

func (e *Extractor) runFFmpeg(ctx context.Context, videoPath string, intervalSec int, outDir string, build argBuilder) ([]capability.ExtractedFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	pattern := filepath.Join(outDir, "frame_%06d.jpg")
	args := build(videoPath, intervalSec, pattern)
	cmd := exec.CommandContext(ctx, e.ffmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var frames []capability.ExtractedFrame
	idx := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		frames = append(frames, capability.ExtractedFrame{
			Index:        idx,
			TimestampSec: float64(idx * intervalSec),
			ImagePath:    filepath.Join(outDir, entry.Name()),
		})
		idx++
	}
	return frames, nil
}

// pruneSimilar collapses successive frames whose normalized pixel-difference
// score falls below the configured threshold into a single representative,
// always retaining at least minKeep frames.
func (e *Extractor) pruneSimilar(frames []capability.ExtractedFrame) ([]capability.ExtractedFrame, error) {
	if len(frames) <= e.minKeep {
		return frames, nil
	}

	kept := []capability.ExtractedFrame{frames[0]}
	prevBuf, err := loadGrayBuffer(frames[0].ImagePath)
	if err != nil {
		return frames, err
	}

	for i := 1; i < len(frames); i++ {
		buf, err := loadGrayBuffer(frames[i].ImagePath)
		if err != nil {
			kept = append(kept, frames[i])
			continue
		}
		diff := meanAbsDiff(prevBuf, buf)
		remaining := len(frames) - i
		mustKeep := len(kept)+remaining <= e.minKeep
		if diff >= e.diffThreshold || mustKeep {
			kept = append(kept, frames[i])
			prevBuf = buf
		}
	}
	if len(kept) < e.minKeep && len(kept) < len(frames) {
		return frames, nil
	}
	return kept, nil
}

const grayDim = 32

// loadGrayBuffer decodes a JPEG and downscales it to a fixed-size grayscale
// buffer for cheap comparison.
func loadGrayBuffer(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, err
	}
	small := image.NewGray(image.Rect(0, 0, grayDim, grayDim))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return small.Pix, nil
}

// meanAbsDiff returns the mean absolute luma delta between two equal-length
// grayscale buffers, normalized to [0,1].
func meanAbsDiff(a, b []byte) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var sum int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(a)) / 255.0
}
