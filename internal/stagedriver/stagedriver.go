// Package stagedriver walks the ingestion pipeline's ordered stage list,
// enforcing each stage's progress budget and failure policy. It generalizes
// library_service/internal/pipeline/ingest.go's hardcoded
// StageValidating -> ... -> StageComplete function into a declarative
// []StageSpec table, so the progress-range/mandatory/failure-policy columns
// are data rather than control flow.
package stagedriver

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mbarrow/framewatch/internal/metrics"
	"github.com/mbarrow/framewatch/internal/pipelineerr"
)

// Name identifies one pipeline stage.
type Name string

const (
	StageExtractingFrames  Name = "extracting_frames"
	StageTranscribingAudio Name = "transcribing_audio"
	StageDetectingEntities Name = "detecting_entities"
	StageAggregatingReport Name = "aggregating_report"
	StageIndexingSearch    Name = "indexing_search"
)

// ProgressFunc persists one progress observation. The stagedriver package
// does not depend on jobstore directly so it stays testable in isolation;
// the orchestrator wires a closure around jobstore.Store.UpdateStatus.
type ProgressFunc func(ctx context.Context, progress int, stage Name, statusText string) error

// FinishFunc persists the terminal outcome.
type FinishFunc func(ctx context.Context, err error) error

// StageFunc is the work performed by one stage. It reports incremental
// progress within [0,1] via report, and returns a non-nil error to trigger
// the stage's failure policy.
type StageFunc func(ctx context.Context, report func(fraction float64)) error

// StageSpec declares one entry in the pipeline's stage table.
type StageSpec struct {
	Name          Name
	ProgressStart int
	ProgressEnd   int
	Mandatory     bool
	SoftTimeout   time.Duration
	Run           StageFunc
}

// Driver walks a []StageSpec in order, persisting debounced progress and
// honoring cooperative cancellation and per-stage soft timeouts.
type Driver struct {
	log             *logrus.Logger
	progress        ProgressFunc
	finish          FinishFunc
	debounceEvery   time.Duration
	debounceFrames  int
}

// New constructs a Driver. debounceEvery/debounceFrames default to 250ms/5
// frames per §4.6 when zero.
func New(log *logrus.Logger, progress ProgressFunc, finish FinishFunc, debounceEvery time.Duration, debounceFrames int) *Driver {
	if debounceEvery <= 0 {
		debounceEvery = 250 * time.Millisecond
	}
	if debounceFrames <= 0 {
		debounceFrames = 5
	}
	return &Driver{log: log, progress: progress, finish: finish, debounceEvery: debounceEvery, debounceFrames: debounceFrames}
}

// Run executes stages in order. A mandatory stage's error is fatal and
// stops the walk; a non-mandatory stage's error is logged and swallowed,
// leaving the job to continue at the stage's final progress value.
func (d *Driver) Run(ctx context.Context, videoID string, stages []StageSpec) error {
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			// ctx is already cancelled, so finish's terminal persistence write
			// must not inherit it or the "cancelled" status update would itself
			// fail with context.Canceled and never reach the store.
			cancelErr := pipelineerr.Wrap(pipelineerr.KindCancelled, err)
			d.finish(context.Background(), cancelErr)
			return cancelErr
		}

		stageCtx := ctx
		var cancel context.CancelFunc
		if stage.SoftTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, stage.SoftTimeout)
		}

		debouncer := newDebouncer(d.debounceEvery, d.debounceFrames)
		reporter := func(fraction float64) {
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 1 {
				fraction = 1
			}
			progress := stage.ProgressStart + int(fraction*float64(stage.ProgressEnd-stage.ProgressStart))
			if !debouncer.shouldWrite() {
				return
			}
			if err := d.progress(ctx, progress, stage.Name, ""); err != nil {
				d.log.WithError(err).WithField("stage", stage.Name).Warn("progress write failed")
			}
		}

		d.log.WithFields(logrus.Fields{"video_id": videoID, "stage": stage.Name}).Info("stage starting")
		err := stage.Run(stageCtx, reporter)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if stageCtx.Err() == context.DeadlineExceeded {
				err = pipelineerr.Wrap(pipelineerr.KindStageTimeout, fmt.Errorf("stage_timeout:%s", stage.Name))
			}
			if stage.Mandatory {
				metrics.RecordStageOutcome(string(stage.Name), "failed")
				d.log.WithError(err).WithField("stage", stage.Name).Error("mandatory stage failed, job failing")
				// Use a fresh context: if the mandatory failure was itself
				// caused by ctx cancellation, the terminal persistence write
				// must still go through rather than failing the same way.
				d.finish(context.Background(), err)
				return err
			}
			metrics.RecordStageOutcome(string(stage.Name), "failed")
			d.log.WithError(err).WithField("stage", stage.Name).Warn("non-mandatory stage failed, continuing")
		} else {
			metrics.RecordStageOutcome(string(stage.Name), "ok")
		}

		if err := d.progress(ctx, stage.ProgressEnd, stage.Name, ""); err != nil {
			d.log.WithError(err).Warn("final stage progress write failed")
		}
	}
	return d.finish(ctx, nil)
}

// debouncer gates writes to at most once per interval or per N reports,
// whichever comes first, mirroring IngestProgress.saveProgress's
// Redis-backed write cadence in the teacher pipeline.
type debouncer struct {
	interval time.Duration
	every    int
	last     time.Time
	count    int
}

func newDebouncer(interval time.Duration, every int) *debouncer {
	return &debouncer{interval: interval, every: every, last: time.Time{}}
}

func (d *debouncer) shouldWrite() bool {
	d.count++
	if d.count >= d.every || time.Since(d.last) >= d.interval {
		d.count = 0
		d.last = time.Now()
		return true
	}
	return false
}
