// Package detect runs Detector Fusion: up to five detection sources over a
// frame sequence, each with independent cadence and thresholds, merged into
// a flat per-frame detection list.
package detect

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mbarrow/framewatch/internal/capability"
	"github.com/mbarrow/framewatch/internal/metrics"
)

// Config holds every per-source threshold and cadence from the external
// interfaces configuration list.
type Config struct {
	MinConfidence float64

	OpenVocabEnabled        bool
	OpenVocabThreshold      float64
	OpenVocabEveryN         int
	OpenVocabMinConsecutive int
	OpenVocabLabels         []string

	DiscoveryEnabled        bool
	DiscoveryEveryN         int
	DiscoveryMinScore       float64
	DiscoveryMinConsecutive int
	DiscoveryMaxPhrases     int
	DiscoveryOnlyMilitary   bool

	VerifyEnabled   bool
	VerifyThreshold float64
	VerifyEveryN    int
	VerifyMaxLabels int

	OCREnabled       bool
	OCREveryN        int
	OCRMinConfidence float64 // 0-100 scale
}

// Sources is the set of capabilities available to the fuser. Any field may
// be nil, meaning that capability is Unavailable; the fuser records the
// skip and continues.
type Sources struct {
	YOLO      capability.ObjectDetector
	Discovery capability.CaptionDiscovery
	OpenVocab capability.OpenVocabScorer
	OCR       capability.OcrReader
}

// Fuser drives cadence and merges the configured sources' output into the
// flat per-frame detection list consumed by the Temporal Aggregator.
type Fuser struct {
	cfg     Config
	lex     LexiconConfig
	sources Sources
	log     *logrus.Logger

	mu sync.Mutex // serializes calls onto the (assumed not-thread-safe) model handles

	// discoveryRun tracks consecutive-frame survival per candidate label for
	// the discovery min-consecutive gate.
	discoveryRun map[string]int
}

// New constructs a Fuser. Any Sources field left nil is treated as
// Unavailable for the lifetime of the job.
func New(cfg Config, lex LexiconConfig, sources Sources, log *logrus.Logger) *Fuser {
	return &Fuser{cfg: cfg, lex: lex, sources: sources, log: log, discoveryRun: make(map[string]int)}
}

// SkipLog records which optional sources are unavailable at construction,
// for the per-job stage log (§4.2).
func (f *Fuser) SkipLog() []string {
	var skipped []string
	if f.sources.YOLO == nil {
		skipped = append(skipped, "yolo")
	}
	if f.sources.Discovery == nil {
		skipped = append(skipped, "discovery")
	}
	if f.sources.OpenVocab == nil {
		skipped = append(skipped, "open_vocab")
	}
	if f.sources.OCR == nil {
		skipped = append(skipped, "ocr")
	}
	return skipped
}

// FrameResult is the detection fusion output for one frame plus any
// non-fatal per-source errors.
type FrameResult struct {
	Detections []capability.Detection
	Errors     map[capability.Source]error
}

// Detect runs every eligible source (per cadence, counted over the pruned
// frame sequence at position k) against frame and merges the results.
func (f *Fuser) Detect(ctx context.Context, frame capability.Frame, k int) FrameResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := FrameResult{Errors: make(map[capability.Source]error)}

	if f.sources.YOLO != nil {
		res := f.sources.YOLO.Detect(ctx, frame)
		switch res.Status {
		case capability.StatusOK:
			metrics.RecordDetectorCall(string(capability.SourceYOLO), "ok")
			for _, d := range res.Value {
				if d.Confidence < f.cfg.MinConfidence {
					continue
				}
				d.Label = f.lex.mapLabel(NormalizeLabel(d.Label))
				if d.Label == "" {
					continue
				}
				d.Source = capability.SourceYOLO
				result.Detections = append(result.Detections, d)
			}
		case capability.StatusRuntimeError:
			metrics.RecordDetectorCall(string(capability.SourceYOLO), "runtime_error")
			result.Errors[capability.SourceYOLO] = res.Err
		}
	}

	if f.cfg.DiscoveryEnabled && f.sources.Discovery != nil && eligible(k, f.cfg.DiscoveryEveryN) {
		result.Detections = append(result.Detections, f.runDiscovery(ctx, frame, k, &result)...)
	}

	if f.cfg.OpenVocabEnabled && f.sources.OpenVocab != nil && eligible(k, f.cfg.OpenVocabEveryN) {
		scores := f.sources.OpenVocab.Score(ctx, frame, f.cfg.OpenVocabLabels)
		switch scores.Status {
		case capability.StatusOK:
			metrics.RecordDetectorCall(string(capability.SourceOpenVocab), "ok")
			for label, score := range scores.Value {
				if score < f.cfg.OpenVocabThreshold {
					continue
				}
				norm := NormalizeLabel(label)
				if norm == "" {
					continue
				}
				result.Detections = append(result.Detections, capability.Detection{
					Label: norm, Source: capability.SourceOpenVocab, Confidence: score,
				})
			}
		case capability.StatusRuntimeError:
			metrics.RecordDetectorCall(string(capability.SourceOpenVocab), "runtime_error")
			result.Errors[capability.SourceOpenVocab] = scores.Err
		}
	}

	if f.cfg.OCREnabled && f.sources.OCR != nil && eligible(k, f.cfg.OCREveryN) {
		res := f.sources.OCR.Read(ctx, frame)
		switch res.Status {
		case capability.StatusOK:
			metrics.RecordDetectorCall(string(capability.SourceOCR), "ok")
			for _, d := range res.Value {
				if d.Confidence*100 < f.cfg.OCRMinConfidence {
					continue
				}
				d.Label = NormalizeLabel(d.Label)
				if d.Label == "" {
					continue
				}
				d.Source = capability.SourceOCR
				result.Detections = append(result.Detections, d)
			}
		case capability.StatusRuntimeError:
			metrics.RecordDetectorCall(string(capability.SourceOCR), "runtime_error")
			result.Errors[capability.SourceOCR] = res.Err
		}
	}

	return result
}

// runDiscovery tokenizes the caption into candidate phrases, scores, filters
// against the stop-list and (optionally) the domain lexicon, and enforces
// the min-consecutive-frame survival gate.
func (f *Fuser) runDiscovery(ctx context.Context, frame capability.Frame, k int, result *FrameResult) []capability.Detection {
	res := f.sources.Discovery.Discover(ctx, frame)
	if res.Status == capability.StatusRuntimeError {
		metrics.RecordDetectorCall(string(capability.SourceDiscovery), "runtime_error")
		result.Errors[capability.SourceDiscovery] = res.Err
		return nil
	}
	if res.Status != capability.StatusOK {
		return nil
	}
	metrics.RecordDetectorCall(string(capability.SourceDiscovery), "ok")

	seen := make(map[string]bool)
	var kept []capability.Detection
	count := 0
	for _, cand := range res.Value {
		if count >= f.cfg.DiscoveryMaxPhrases {
			break
		}
		phrase := NormalizeLabel(cand.Label)
		if phrase == "" || cand.Score < f.cfg.DiscoveryMinScore || f.lex.isStopPhrase(phrase) {
			continue
		}
		if f.cfg.DiscoveryOnlyMilitary && !f.lex.inLexicon(phrase) {
			continue
		}
		seen[phrase] = true
		f.discoveryRun[phrase]++
		if f.discoveryRun[phrase] < f.cfg.DiscoveryMinConsecutive {
			continue
		}
		kept = append(kept, capability.Detection{
			Label: phrase, Source: capability.SourceDiscovery, Confidence: cand.Score,
		})
		count++
	}
	// Reset the run counter for any tracked phrase absent from this frame.
	for phrase := range f.discoveryRun {
		if !seen[phrase] {
			f.discoveryRun[phrase] = 0
		}
	}

	if f.cfg.VerifyEnabled && f.sources.OpenVocab != nil && len(kept) > 0 && eligible(k, f.cfg.VerifyEveryN) {
		kept = f.verify(ctx, frame, kept)
	}
	return kept
}

// verify re-scores the top-K discovery candidates against the open-vocab
// scorer; unconfirmed candidates are dropped.
func (f *Fuser) verify(ctx context.Context, frame capability.Frame, candidates []capability.Detection) []capability.Detection {
	labels := make([]string, 0, len(candidates))
	limit := f.cfg.VerifyMaxLabels
	for i, c := range candidates {
		if i >= limit {
			break
		}
		labels = append(labels, c.Label)
	}
	scores := f.sources.OpenVocab.Score(ctx, frame, labels)
	if scores.Status != capability.StatusOK {
		return candidates // verification itself unavailable; pass through unconfirmed
	}
	var confirmed []capability.Detection
	for _, c := range candidates {
		score, ok := scores.Value[c.Label]
		if ok && score >= f.cfg.VerifyThreshold {
			c.Source = capability.SourceVerify
			confirmed = append(confirmed, c)
		}
	}
	return confirmed
}

func eligible(k, everyN int) bool {
	if everyN < 1 {
		everyN = 1
	}
	return k%everyN == 0
}
