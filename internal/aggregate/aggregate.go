// Package aggregate implements the Temporal Aggregator: it merges per-frame
// detections into entity summaries with time ranges, consistency filtering,
// and confidence scoring.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/mbarrow/framewatch/internal/capability"
)

// FrameInput is one frame's detections, in the shape the aggregator
// consumes — sorted ascending by timestamp by the caller.
type FrameInput struct {
	Index        int
	TimestampSec float64
	Detections   []capability.Detection
}

// TimeRange is a closed interval during which an entity was continuously
// present.
type TimeRange struct {
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
}

// EntitySummary is the per-label aggregation result.
type EntitySummary struct {
	Count           int       `json:"count"`
	Appearances     int       `json:"appearances"`
	Presence        float64   `json:"presence"`
	TimeRanges      []TimeRange `json:"time_ranges"`
	ConfidenceScore float64   `json:"confidence_score"`
	Sources         []string  `json:"sources"`
}

// Config carries the consistency and confidence thresholds. YOLOMinConsecutive
// applies to labels whose only contributing sources are YOLO;
// OpenVocabMinConsecutive applies to labels whose only contributing source is
// the open-vocabulary scorer; every other label (discovery/OCR/verify origin,
// or a mix of sources) uses OtherMinConsecutive, per §4.5.
type Config struct {
	YOLOMinConsecutive      int
	OpenVocabMinConsecutive int
	OtherMinConsecutive     int
	ConfidenceMinScore      float64
	IntervalSec             int
}

// Aggregate is a pure function of frames and config: given the same input it
// produces byte-identical output (determinism requirement, §4.5/§8).
func Aggregate(frames []FrameInput, cfg Config) map[string]EntitySummary {
	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampSec < frames[j].TimestampSec })

	type instance struct {
		pos        int
		confidence float64
		source     capability.Source
	}
	labelInstances := make(map[string][]instance)
	labelSourcesAll := make(map[string]map[string]bool)

	for pos, f := range frames {
		for _, d := range f.Detections {
			labelInstances[d.Label] = append(labelInstances[d.Label], instance{pos: pos, confidence: d.Confidence, source: d.Source})
			if labelSourcesAll[d.Label] == nil {
				labelSourcesAll[d.Label] = make(map[string]bool)
			}
			labelSourcesAll[d.Label][string(d.Source)] = true
		}
	}

	framesAnalyzed := len(frames)
	entities := make(map[string]EntitySummary)

	labels := make([]string, 0, len(labelInstances))
	for label := range labelInstances {
		labels = append(labels, label)
	}
	sort.Strings(labels) // ties in label ordering broken by label string order

	for _, label := range labels {
		occ := make([]bool, framesAnalyzed)
		for _, inst := range labelInstances[label] {
			occ[inst.pos] = true
		}

		minConsecutive := cfg.OtherMinConsecutive
		switch {
		case onlySource(labelSourcesAll[label], capability.SourceYOLO):
			minConsecutive = cfg.YOLOMinConsecutive
		case onlySource(labelSourcesAll[label], capability.SourceOpenVocab):
			minConsecutive = cfg.OpenVocabMinConsecutive
		}

		runs := consistencyFilter(occ, minConsecutive)
		if len(runs) == 0 {
			continue
		}
		survivingPos := make(map[int]bool)
		appearances := 0
		for _, r := range runs {
			for p := r.start; p <= r.end; p++ {
				survivingPos[p] = true
			}
			appearances += r.end - r.start + 1
		}

		// Restrict instances, confidences, sources and OCR evidence to the
		// frames whose occurrence survived the consistency filter.
		var confidences []float64
		sources := make(map[string]bool)
		ocrEvidence := false
		count := 0
		for _, inst := range labelInstances[label] {
			if !survivingPos[inst.pos] {
				continue
			}
			count++
			confidences = append(confidences, inst.confidence)
			sources[string(inst.source)] = true
			if inst.source == capability.SourceOCR {
				ocrEvidence = true
			}
		}

		presence := round4(float64(appearances) / float64(framesAnalyzed))

		timeRanges := make([]TimeRange, 0, len(runs))
		longestRun := 0
		for _, r := range runs {
			length := r.end - r.start + 1
			if length > longestRun {
				longestRun = length
			}
			start := frames[r.start].TimestampSec
			end := frames[r.end].TimestampSec
			if end <= start {
				end = start + float64(cfg.IntervalSec)
			}
			timeRanges = append(timeRanges, TimeRange{
				StartSec:   round1(start),
				EndSec:     round1(end),
				StartLabel: formatMMSS(start),
				EndLabel:   formatMMSS(end),
			})
		}

		meanConf := mean(confidences)
		sourceDiversity := float64(len(sources)) / 5.0
		consistencyRatio := float64(longestRun) / float64(appearances)
		ocrEvidenceScore := 0.0
		if ocrEvidence {
			ocrEvidenceScore = 1.0
		}
		score := 0.45*meanConf + 0.25*sourceDiversity + 0.20*consistencyRatio + 0.10*ocrEvidenceScore
		score = clamp01(score)
		if score < cfg.ConfidenceMinScore {
			continue
		}

		sourceList := make([]string, 0, len(sources))
		for s := range sources {
			sourceList = append(sourceList, s)
		}
		sort.Strings(sourceList)

		entities[label] = EntitySummary{
			Count:           count,
			Appearances:     appearances,
			Presence:        presence,
			TimeRanges:      timeRanges,
			ConfidenceScore: round4(score),
			Sources:         sourceList,
		}
	}

	return entities
}

func onlySource(sources map[string]bool, want capability.Source) bool {
	if len(sources) == 0 {
		return false
	}
	for s := range sources {
		if s != string(want) {
			return false
		}
	}
	return true
}

type run struct{ start, end int }

// consistencyFilter zeroes runs of occ shorter than minConsecutive and
// returns the surviving maximal runs of consecutive true values. A single
// frame gap between two runs is never merged.
func consistencyFilter(occ []bool, minConsecutive int) []run {
	if minConsecutive < 1 {
		minConsecutive = 1
	}
	var runs []run
	i := 0
	for i < len(occ) {
		if !occ[i] {
			i++
			continue
		}
		start := i
		for i < len(occ) && occ[i] {
			i++
		}
		end := i - 1
		if end-start+1 >= minConsecutive {
			runs = append(runs, run{start: start, end: end})
		}
	}
	return runs
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }

func formatMMSS(sec float64) string {
	total := int(math.Round(sec))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
