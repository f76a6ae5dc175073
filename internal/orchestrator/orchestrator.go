// Package orchestrator ties the job store, broker, stage driver, detector
// fusion, temporal aggregator, report assembler and search indexer together
// and implements the operations behind the REST surface in §6.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mbarrow/framewatch/internal/aggregate"
	"github.com/mbarrow/framewatch/internal/broker"
	"github.com/mbarrow/framewatch/internal/capability"
	"github.com/mbarrow/framewatch/internal/config"
	"github.com/mbarrow/framewatch/internal/detect"
	"github.com/mbarrow/framewatch/internal/jobstore"
	"github.com/mbarrow/framewatch/internal/metrics"
	"github.com/mbarrow/framewatch/internal/pipelineerr"
	"github.com/mbarrow/framewatch/internal/report"
	"github.com/mbarrow/framewatch/internal/searchindex"
	"github.com/mbarrow/framewatch/internal/stagedriver"
)

// Capabilities bundles every capability handle the orchestrator threads
// into each job's detector fusion and transcription stages. Any field may
// be nil (Unavailable at construction).
type Capabilities struct {
	Extractor   capability.FrameExtractor
	YOLO        capability.ObjectDetector
	Discovery   capability.CaptionDiscovery
	OpenVocab   capability.OpenVocabScorer
	OCR         capability.OcrReader
	Transcriber capability.Transcriber
}

// Orchestrator is the Job Orchestrator's worker-side driver: it owns the
// durable store, the broker consumer loop, and the per-worker capability
// table, and exposes the operations the thin API layer calls.
type Orchestrator struct {
	store  *jobstore.Store
	bro    broker.Broker
	cfg    *config.Config
	lex    detect.LexiconConfig
	caps   Capabilities
	index  *searchindex.Index
	log    *logrus.Logger
	workerID string
}

// New constructs an Orchestrator.
func New(store *jobstore.Store, bro broker.Broker, cfg *config.Config, lex detect.LexiconConfig, caps Capabilities, index *searchindex.Index, log *logrus.Logger, workerID string) *Orchestrator {
	return &Orchestrator{store: store, bro: bro, cfg: cfg, lex: lex, caps: caps, index: index, log: log, workerID: workerID}
}

// dataPaths computes the per-job file layout under the configured data root.
type dataPaths struct {
	videoDir      string
	framesDir     string
	annotatedDir  string
	reportsDir    string
	reportPath    string
	transcriptPath string
	frameIndexPath string
}

func (o *Orchestrator) paths(videoID string) dataPaths {
	return dataPaths{
		videoDir:       filepath.Join(o.cfg.DataDir, "videos", videoID),
		framesDir:      filepath.Join(o.cfg.DataDir, "frames", videoID),
		annotatedDir:   filepath.Join(o.cfg.DataDir, "frames", videoID, "annotated"),
		reportsDir:     filepath.Join(o.cfg.DataDir, "reports", videoID),
		reportPath:     filepath.Join(o.cfg.DataDir, "reports", videoID, "report.json"),
		transcriptPath: filepath.Join(o.cfg.DataDir, "reports", videoID, "transcript.json"),
		frameIndexPath: filepath.Join(o.cfg.DataDir, "frames", videoID, "frames.json"),
	}
}

// CreateJob implements create_job: creates the queued job record and
// enqueues a task. It never blocks on processing.
func (o *Orchestrator) CreateJob(ctx context.Context, filename string, intervalSec int, voiceFilePath, sourceVideoPath string) (string, error) {
	intervalSec = config.ClampInterval(intervalSec)
	videoID, err := o.store.Submit(ctx, filename, intervalSec, voiceFilePath)
	if err != nil {
		return "", err
	}

	paths := o.paths(videoID)
	if err := os.MkdirAll(paths.videoDir, 0o755); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}
	destVideoPath := filepath.Join(paths.videoDir, "video"+filepath.Ext(sourceVideoPath))
	if err := copyFile(sourceVideoPath, destVideoPath); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.KindInputInvalid, err)
	}
	if err := o.store.SetVideoPath(ctx, videoID, destVideoPath, paths.framesDir); err != nil {
		return "", err
	}

	if err := o.bro.Enqueue(ctx, broker.Task{VideoID: videoID}); err != nil {
		return "", fmt.Errorf("orchestrator: enqueue: %w", err)
	}
	return videoID, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// GetJob implements get_job.
func (o *Orchestrator) GetJob(ctx context.Context, videoID string) (*jobstore.Job, error) {
	return o.store.Get(ctx, videoID)
}

// JobStatus is the response shape for get_status.
type JobStatus struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage"`
	StatusText   string `json:"status_text"`
}

// GetStatus implements get_status, safe to poll at 1-2 Hz.
func (o *Orchestrator) GetStatus(ctx context.Context, videoID string) (JobStatus, error) {
	j, err := o.store.Get(ctx, videoID)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{Status: string(j.Status), Progress: j.Progress, CurrentStage: j.CurrentStage, StatusText: j.StatusText}, nil
}

// GetReport implements get_report.
func (o *Orchestrator) GetReport(ctx context.Context, videoID string) (report.Report, error) {
	j, err := o.store.Get(ctx, videoID)
	if err != nil {
		return report.Report{}, err
	}
	if j.Status != jobstore.StatusCompleted {
		return report.Report{}, pipelineerr.ErrNotReady
	}
	return report.Read(j.ReportPath)
}

// DeleteJob implements delete_job.
func (o *Orchestrator) DeleteJob(ctx context.Context, videoID string) error {
	j, err := o.store.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if err := o.store.Delete(ctx, videoID, o.cfg.StaleAfter); err != nil {
		return err
	}
	paths := o.paths(videoID)
	os.RemoveAll(paths.videoDir)
	os.RemoveAll(paths.framesDir)
	os.RemoveAll(paths.reportsDir)
	if j.Status == jobstore.StatusCompleted {
		o.index.RemoveVideo(videoID)
	}
	return nil
}

// Search implements search.
func (o *Orchestrator) Search(q searchindex.Query) searchindex.SearchResponse {
	return o.index.Search(q)
}

// FrameRecord is one entry of the persisted frames.json index.
type FrameRecord struct {
	Index         int                     `json:"index"`
	TimestampSec  float64                 `json:"timestamp_sec"`
	Filename      string                  `json:"filename"`
	AnnotatedFile string                  `json:"annotated_filename,omitempty"`
	Detections    []capability.Detection  `json:"detections"`
}

// ListFrames implements list_frames: pageable, optionally filtered by
// entity label, identical filter semantics for annotated and raw frames
// per the resolved Open Question in §9.
func (o *Orchestrator) ListFrames(ctx context.Context, videoID string, page, pageSize int, annotated bool, entity string) ([]FrameRecord, int, error) {
	records, err := o.readFrameIndex(videoID)
	if err != nil {
		return nil, 0, err
	}
	if entity != "" {
		filtered := records[:0:0]
		for _, r := range records {
			for _, d := range r.Detections {
				if d.Label == entity {
					filtered = append(filtered, r)
					break
				}
			}
		}
		records = filtered
	}
	total := len(records)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return records[start:end], total, nil
}

// NearestFrame implements nearest_frame: the frame whose timestamp is
// closest to timestampSec (ties -> earlier), optionally constrained to
// frames containing entity.
func (o *Orchestrator) NearestFrame(ctx context.Context, videoID string, timestampSec float64, entity string) (FrameRecord, int, error) {
	records, err := o.readFrameIndex(videoID)
	if err != nil {
		return FrameRecord{}, 0, err
	}
	best := -1
	bestDelta := -1.0
	for i, r := range records {
		if entity != "" {
			has := false
			for _, d := range r.Detections {
				if d.Label == entity {
					has = true
					break
				}
			}
			if !has {
				continue
			}
		}
		delta := r.TimestampSec - timestampSec
		if delta < 0 {
			delta = -delta
		}
		if best == -1 || delta < bestDelta || (delta == bestDelta && r.TimestampSec < records[best].TimestampSec) {
			best = i
			bestDelta = delta
		}
	}
	if best == -1 {
		return FrameRecord{}, 0, fmt.Errorf("orchestrator: no matching frame")
	}
	return records[best], best, nil
}

func (o *Orchestrator) readFrameIndex(videoID string) ([]FrameRecord, error) {
	data, err := os.ReadFile(o.paths(videoID).frameIndexPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read frame index: %w", err)
	}
	var records []FrameRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("orchestrator: parse frame index: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// Run starts the worker loop: it consumes tasks from the broker and
// processes each job's pipeline to completion.
func (o *Orchestrator) Run(ctx context.Context) error {
	tasks, err := o.bro.Consume(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case task, ok := <-tasks:
			if !ok {
				return nil
			}
			o.processTask(ctx, task)
		}
	}
}

// processTask re-derives the job from the store before doing any work, so
// broker redelivery after a crash is idempotent: a task whose job is
// already completed or failed is acknowledged without work (§7 retry
// policy).
func (o *Orchestrator) processTask(ctx context.Context, task broker.Task) {
	j, err := o.store.Get(ctx, task.VideoID)
	if err != nil {
		o.log.WithError(err).WithField("video_id", task.VideoID).Error("task references unknown job")
		return
	}
	if j.Status == jobstore.StatusCompleted || j.Status == jobstore.StatusFailed {
		return
	}

	o.store.SetWorker(ctx, task.VideoID, o.workerID)
	if err := o.store.UpdateStatus(ctx, task.VideoID, jobstore.StatusProcessing, 0, "", ""); err != nil {
		o.log.WithError(err).Error("failed to mark job processing")
		return
	}

	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()
	defer metrics.DeleteJobProgress(task.VideoID)

	if err := o.runPipeline(ctx, j); err != nil {
		o.log.WithError(err).WithField("video_id", task.VideoID).Warn("job pipeline ended with error")
	}
}

// RecoverStale resets processing jobs abandoned by a crashed worker back to
// queued and discards their partial frame directories, then re-enqueues
// them. Call once at cmd/worker startup.
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	recovered, err := o.store.RecoverStale(ctx, o.cfg.StaleAfter)
	if err != nil {
		return err
	}
	for _, j := range recovered {
		os.RemoveAll(o.paths(j.VideoID).framesDir)
		if err := o.bro.Enqueue(ctx, broker.Task{VideoID: j.VideoID}); err != nil {
			o.log.WithError(err).WithField("video_id", j.VideoID).Error("failed to re-enqueue recovered job")
			continue
		}
		o.log.WithField("video_id", j.VideoID).Info("recovered stale job, re-enqueued")
	}
	return nil
}

// aggregateConfig resolves the per-source consecutive-run thresholds and the
// job's own sampling interval per §4.5.
func (o *Orchestrator) aggregateConfig(intervalSec int) aggregate.Config {
	return aggregate.Config{
		YOLOMinConsecutive:      o.cfg.MinConsecutive,
		OpenVocabMinConsecutive: o.cfg.OpenVocabMinConsecutive,
		OtherMinConsecutive:     1,
		ConfidenceMinScore:      o.cfg.ConfidenceMinScore,
		IntervalSec:             intervalSec,
	}
}

func (o *Orchestrator) fuserConfig() detect.Config {
	return detect.Config{
		MinConfidence:           o.cfg.MinConfidence,
		OpenVocabEnabled:        o.cfg.OpenVocabEnabled,
		OpenVocabThreshold:      o.cfg.OpenVocabThreshold,
		OpenVocabEveryN:         o.cfg.OpenVocabEveryN,
		OpenVocabMinConsecutive: o.cfg.OpenVocabMinConsecutive,
		OpenVocabLabels:         o.cfg.OpenVocabLabels,
		DiscoveryEnabled:        o.cfg.DiscoveryEnabled,
		DiscoveryEveryN:         o.cfg.DiscoveryEveryN,
		DiscoveryMinScore:       o.cfg.DiscoveryMinScore,
		DiscoveryMinConsecutive: o.cfg.DiscoveryMinConsecutive,
		DiscoveryMaxPhrases:     o.cfg.DiscoveryMaxPhrases,
		DiscoveryOnlyMilitary:   o.cfg.DiscoveryOnlyMilitary,
		VerifyEnabled:           o.cfg.VerifyEnabled,
		VerifyThreshold:         o.cfg.VerifyThreshold,
		VerifyEveryN:            o.cfg.VerifyEveryN,
		VerifyMaxLabels:         o.cfg.VerifyMaxLabels,
		OCREnabled:              o.cfg.OCREnabled,
		OCREveryN:               o.cfg.OCREveryN,
		OCRMinConfidence:        o.cfg.OCRMinConfidence,
	}
}
