// Package report assembles and persists the canonical Report artifact, and
// draws the annotated-frame overlay. The atomic write pattern is grounded on
// link270-shrinkray/internal/jobs/queue.go's save(): write to a temp file in
// the same directory, then os.Rename.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbarrow/framewatch/internal/aggregate"
)

// Transcript mirrors capability.Transcript for the report's optional
// transcript block, plus an error field for a non-fatal TranscriptError.
type Transcript struct {
	Language string  `json:"language,omitempty"`
	Text     string  `json:"text,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	AudioAnalysis *AudioAnalysis `json:"audio_analysis,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Segment is one timed transcript span.
type Segment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// AudioAnalysis summarizes the audio track.
type AudioAnalysis struct {
	SpeechRatio   float64 `json:"speech_ratio"`
	SpeechSeconds float64 `json:"speech_seconds"`
	MusicDetected bool    `json:"music_detected"`
	VADAvailable  bool    `json:"vad_available"`
}

// Report is the canonical, durable artifact (bit-stable JSON shape, §6).
type Report struct {
	VideoID        string                            `json:"video_id"`
	Filename       string                            `json:"filename"`
	DurationSec    float64                           `json:"duration_sec"`
	IntervalSec    int                               `json:"interval_sec"`
	FramesAnalyzed int                               `json:"frames_analyzed"`
	UniqueEntities int                               `json:"unique_entities"`
	Entities       map[string]aggregate.EntitySummary `json:"entities"`
	Transcript     *Transcript                       `json:"transcript,omitempty"`
}

// Assemble builds the full Report, the canonical artifact persisted by
// WriteAtomic.
func Assemble(videoID, filename string, durationSec float64, intervalSec, framesAnalyzed int, entities map[string]aggregate.EntitySummary, transcript *Transcript) Report {
	return Report{
		VideoID:        videoID,
		Filename:       filename,
		DurationSec:    durationSec,
		IntervalSec:    intervalSec,
		FramesAnalyzed: framesAnalyzed,
		UniqueEntities: len(entities),
		Entities:       entities,
		Transcript:     transcript,
	}
}

// WriteAtomic serializes r as indented JSON and writes it to path via a
// temp-file-then-rename, preventing torn reads by a concurrent get_report.
func WriteAtomic(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("report: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

// Read loads a previously written Report for determinism checks and for
// serving get_report.
func Read(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("report: read: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("report: unmarshal: %w", err)
	}
	return r, nil
}
