// Package capability defines the narrow interfaces through which the
// ingestion pipeline consumes every external model: frame extraction,
// object detection, caption discovery, open-vocabulary scoring, OCR,
// transcription, and embedding. Each capability may report itself
// Unavailable at construction time; the Stage Driver treats that as "skip
// this source" rather than a fatal error.
package capability

import "context"

// Status tags the outcome of a capability call with one of three states,
// replacing exception-driven "optional feature missing" control flow.
type Status int

const (
	// StatusOK means the call completed and the payload is valid, even if
	// the payload is an empty list (e.g. zero detections on a frame).
	StatusOK Status = iota
	// StatusUnavailable means the capability was never constructed
	// (missing binary/weights). Recorded once per worker.
	StatusUnavailable
	// StatusRuntimeError means the capability raised on this particular
	// call. Non-fatal unless it occurs on every frame for a mandatory
	// source.
	StatusRuntimeError
)

// Result is the tagged tri-state result of invoking a capability.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Status: StatusOK, Value: v} }

// Unavailable produces a Result reporting the capability is absent.
func Unavailable[T any](err error) Result[T] {
	return Result[T]{Status: StatusUnavailable, Err: err}
}

// RuntimeError produces a Result reporting a mid-job failure.
func RuntimeError[T any](err error) Result[T] {
	return Result[T]{Status: StatusRuntimeError, Err: err}
}

// BoundingBox is an axis-aligned box in pixel units, clipped to image
// bounds by the producing capability.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Source identifies the detection's producing capability.
type Source string

const (
	SourceYOLO       Source = "yolo"
	SourceDiscovery  Source = "discovery"
	SourceOpenVocab  Source = "open_vocab"
	SourceVerify     Source = "verify"
	SourceOCR        Source = "ocr"
)

// Detection is a single observation attached to a frame.
type Detection struct {
	Label      string       `json:"label"`
	Source     Source       `json:"source"`
	Confidence float64      `json:"confidence"`
	Box        *BoundingBox `json:"box,omitempty"`
	RawText    string       `json:"raw_text,omitempty"` // OCR only
}

// Frame is the unit of work handed to every detector capability.
type Frame struct {
	Index        int
	TimestampSec float64
	ImagePath    string
	Width        int
	Height       int
}

// ScoredLabel is a candidate label with a confidence score, used by caption
// discovery and the open-vocabulary scorer.
type ScoredLabel struct {
	Label string
	Score float64
}

// SubtitleSegment is one timed span of a transcript.
type SubtitleSegment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// AudioAnalysis summarizes the speech/music content of the source audio.
type AudioAnalysis struct {
	SpeechRatio   float64
	SpeechSeconds float64
	MusicDetected bool
	VADAvailable  bool
}

// Transcript is the full result of transcribing a video's audio track.
type Transcript struct {
	Language      string
	Text          string
	Segments      []SubtitleSegment
	AudioAnalysis AudioAnalysis
}

// ExtractedFrame is one frame yielded by a FrameExtractor, before any
// detection has run against it.
type ExtractedFrame struct {
	Index        int
	TimestampSec float64
	ImagePath    string
}

// FrameExtractor samples stills from a video file.
type FrameExtractor interface {
	// Extract streams frames in ascending timestamp order. It returns
	// ExtractionFailed (via pipelineerr) if zero frames are produced.
	Extract(ctx context.Context, videoPath string, intervalSec int, smartSampling bool, outDir string) ([]ExtractedFrame, error)
}

// ObjectDetector runs a fixed-vocabulary detector (e.g. YOLO) against a
// frame. It must never error on a decodable frame; an empty slice is valid.
type ObjectDetector interface {
	Detect(ctx context.Context, frame Frame) Result[[]Detection]
}

// CaptionDiscovery proposes open-ended candidate labels from a frame
// caption, each with a score in [0,1].
type CaptionDiscovery interface {
	Discover(ctx context.Context, frame Frame) Result[[]ScoredLabel]
}

// OpenVocabScorer scores a frame against a configured label list. The same
// capability backs both "open_vocab" detections and "verify" confirmation.
type OpenVocabScorer interface {
	Score(ctx context.Context, frame Frame, labels []string) Result[map[string]float64]
}

// OcrReader extracts and scores on-screen text.
type OcrReader interface {
	Read(ctx context.Context, frame Frame) Result[[]Detection]
}

// Transcriber converts a video's audio track to text with per-segment
// timing. It always returns a value; failures are reported as a non-fatal
// TranscriptError attached to the Transcript by the caller.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string) Result[Transcript]
}

// Embedder produces a fixed-length dense vector for a label or query
// string. Optional: the Search Indexer degrades to a token-overlap
// fallback when no Embedder is configured.
type Embedder interface {
	Embed(ctx context.Context, text string) Result[[]float64]
}
