package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mbarrow/framewatch/internal/aggregate"
	"github.com/mbarrow/framewatch/internal/capability"
	"github.com/mbarrow/framewatch/internal/detect"
	"github.com/mbarrow/framewatch/internal/jobstore"
	"github.com/mbarrow/framewatch/internal/metrics"
	"github.com/mbarrow/framewatch/internal/pipelineerr"
	"github.com/mbarrow/framewatch/internal/report"
	"github.com/mbarrow/framewatch/internal/stagedriver"
)

// jobRun carries mutable state threaded across the stage closures for one
// job execution.
type jobRun struct {
	job          *jobstore.Job
	paths        dataPaths
	frames       []capability.ExtractedFrame
	frameResults []aggregate.FrameInput
	frameRecords []FrameRecord
	transcript   *report.Transcript
	entities     map[string]aggregate.EntitySummary
}

// runPipeline walks the ordered stage list for one job, grounded on
// library_service/internal/pipeline/ingest.go's IngestMedia stage sequence
// but generalized into stagedriver's declarative []StageSpec table.
func (o *Orchestrator) runPipeline(ctx context.Context, j *jobstore.Job) error {
	run := &jobRun{job: j, paths: o.paths(j.VideoID)}

	progress := func(ctx context.Context, p int, stage stagedriver.Name, text string) error {
		metrics.SetJobProgress(j.VideoID, float64(p))
		return o.store.UpdateStatus(ctx, j.VideoID, jobstore.StatusProcessing, p, string(stage), text)
	}
	finish := func(ctx context.Context, err error) error {
		return o.finishJob(ctx, run, err)
	}

	driver := stagedriver.New(o.log, progress, finish, 250*time.Millisecond, 5)

	stages := []stagedriver.StageSpec{
		{
			Name: stagedriver.StageExtractingFrames, ProgressStart: 0, ProgressEnd: 20, Mandatory: true,
			SoftTimeout: 10 * time.Minute,
			Run: func(ctx context.Context, report func(float64)) error {
				return o.stageExtractFrames(ctx, run, report)
			},
		},
		{
			Name: stagedriver.StageTranscribingAudio, ProgressStart: 20, ProgressEnd: 20, Mandatory: false,
			SoftTimeout: 5 * time.Minute,
			Run: func(ctx context.Context, report func(float64)) error {
				return o.stageTranscribe(ctx, run)
			},
		},
		{
			Name: stagedriver.StageDetectingEntities, ProgressStart: 20, ProgressEnd: 80, Mandatory: true,
			SoftTimeout: 30 * time.Minute,
			Run: func(ctx context.Context, report func(float64)) error {
				return o.stageDetectEntities(ctx, run, report)
			},
		},
		{
			Name: stagedriver.StageAggregatingReport, ProgressStart: 80, ProgressEnd: 95, Mandatory: true,
			SoftTimeout: 2 * time.Minute,
			Run: func(ctx context.Context, report func(float64)) error {
				return o.stageAggregate(ctx, run)
			},
		},
		{
			Name: stagedriver.StageIndexingSearch, ProgressStart: 95, ProgressEnd: 100, Mandatory: false,
			SoftTimeout: time.Minute,
			Run: func(ctx context.Context, report func(float64)) error {
				return o.stageIndex(ctx, run)
			},
		},
	}

	return driver.Run(ctx, j.VideoID, stages)
}

func (o *Orchestrator) stageExtractFrames(ctx context.Context, run *jobRun, reportFn func(float64)) error {
	if o.caps.Extractor == nil {
		return pipelineerr.Wrap(pipelineerr.KindExtractionFailed, fmt.Errorf("no frame extractor configured"))
	}
	frames, err := o.caps.Extractor.Extract(ctx, run.job.VideoPath, run.job.IntervalSec, o.cfg.SmartSamplingEnabled, run.paths.framesDir)
	if err != nil {
		return err
	}
	run.frames = frames
	reportFn(1.0)
	return nil
}

func (o *Orchestrator) stageTranscribe(ctx context.Context, run *jobRun) error {
	if o.caps.Transcriber == nil {
		return nil
	}
	res := o.caps.Transcriber.Transcribe(ctx, run.job.VideoPath)
	if res.Status != capability.StatusOK {
		run.transcript = &report.Transcript{Error: errString(res.Err)}
		return nil // non-fatal per §7: recorded into report.transcript.error
	}
	segments := make([]report.Segment, 0, len(res.Value.Segments))
	for _, s := range res.Value.Segments {
		segments = append(segments, report.Segment{StartSec: s.StartSec, EndSec: s.EndSec, Text: s.Text})
	}
	run.transcript = &report.Transcript{
		Language: res.Value.Language,
		Text:     res.Value.Text,
		Segments: segments,
		AudioAnalysis: &report.AudioAnalysis{
			SpeechRatio:   res.Value.AudioAnalysis.SpeechRatio,
			SpeechSeconds: res.Value.AudioAnalysis.SpeechSeconds,
			MusicDetected: res.Value.AudioAnalysis.MusicDetected,
			VADAvailable:  res.Value.AudioAnalysis.VADAvailable,
		},
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) stageDetectEntities(ctx context.Context, run *jobRun, reportFn func(float64)) error {
	fuser := detect.New(o.fuserConfig(), o.lex, detect.Sources{
		YOLO: o.caps.YOLO, Discovery: o.caps.Discovery, OpenVocab: o.caps.OpenVocab, OCR: o.caps.OCR,
	}, o.log)

	total := len(run.frames)
	mandatoryErrors := 0
	for k, f := range run.frames {
		frame := capability.Frame{Index: f.Index, TimestampSec: f.TimestampSec, ImagePath: f.ImagePath}
		result := fuser.Detect(ctx, frame, k)
		if err, ok := result.Errors[capability.SourceYOLO]; ok && err != nil {
			mandatoryErrors++
		}
		run.frameResults = append(run.frameResults, aggregate.FrameInput{
			Index: f.Index, TimestampSec: f.TimestampSec, Detections: result.Detections,
		})
		if total > 0 {
			reportFn(float64(k+1) / float64(total))
		}
		if err := ctx.Err(); err != nil {
			return pipelineerr.Wrap(pipelineerr.KindCancelled, err)
		}
	}

	// Fatal only if a mandatory source (YOLO) errored on every frame.
	if o.caps.YOLO != nil && total > 0 && mandatoryErrors == total {
		return pipelineerr.Wrap(pipelineerr.KindCapabilityRuntimeError, fmt.Errorf("yolo failed on every frame"))
	}
	return nil
}

func (o *Orchestrator) stageAggregate(ctx context.Context, run *jobRun) error {
	entities := aggregate.Aggregate(run.frameResults, o.aggregateConfig(run.job.IntervalSec))
	run.entities = entities

	if o.cfg.AnnotateFrames {
		for _, fi := range run.frameResults {
			srcPath := findFramePath(run.frames, fi.Index)
			if srcPath == "" {
				continue
			}
			annotatedPath, err := report.AnnotateFrame(srcPath, run.paths.annotatedDir, fi.Detections)
			if err != nil {
				o.log.WithError(err).WithField("frame", fi.Index).Warn("annotation failed")
			}
			run.frameRecords = append(run.frameRecords, FrameRecord{
				Index: fi.Index, TimestampSec: fi.TimestampSec,
				Filename: srcPath, AnnotatedFile: annotatedPath, Detections: fi.Detections,
			})
		}
	} else {
		for _, fi := range run.frameResults {
			run.frameRecords = append(run.frameRecords, FrameRecord{
				Index: fi.Index, TimestampSec: fi.TimestampSec,
				Filename: findFramePath(run.frames, fi.Index), Detections: fi.Detections,
			})
		}
	}

	data, err := json.MarshalIndent(run.frameRecords, "", "  ")
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}
	if err := os.WriteFile(run.paths.frameIndexPath, data, 0o644); err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}

	durationSec := 0.0
	if len(run.frames) > 0 {
		durationSec = run.frames[len(run.frames)-1].TimestampSec
	}
	rep := report.Assemble(run.job.VideoID, run.job.Filename, durationSec, run.job.IntervalSec, len(run.frames), entities, run.transcript)
	if err := report.WriteAtomic(run.paths.reportPath, rep); err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}
	return nil
}

func (o *Orchestrator) stageIndex(ctx context.Context, run *jobRun) error {
	durationSec := 0.0
	if len(run.frames) > 0 {
		durationSec = run.frames[len(run.frames)-1].TimestampSec
	}
	o.index.IndexReport(run.job.VideoID, run.job.Filename, string(jobstore.StatusCompleted), durationSec, time.Now().UTC().Format(time.RFC3339), run.entities)
	return nil
}

func (o *Orchestrator) finishJob(ctx context.Context, run *jobRun, stageErr error) error {
	durationSec := 0.0
	if len(run.frames) > 0 {
		durationSec = run.frames[len(run.frames)-1].TimestampSec
	}
	result := jobstore.FinishResult{
		DurationSec:    durationSec,
		FramesAnalyzed: len(run.frames),
		UniqueEntities: len(run.entities),
		ReportPath:     run.paths.reportPath,
	}
	if stageErr != nil {
		result.Err = stageErr.Error()
		os.RemoveAll(run.paths.framesDir)
	} else {
		summary, _ := json.Marshal(run.entities)
		result.EntitySummaryJSON = summary
	}
	return o.store.Finish(ctx, run.job.VideoID, result)
}

func findFramePath(frames []capability.ExtractedFrame, index int) string {
	for _, f := range frames {
		if f.Index == index {
			return f.ImagePath
		}
	}
	return ""
}
