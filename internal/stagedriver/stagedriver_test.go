package stagedriver

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

type progressEvent struct {
	progress int
	stage    Name
}

func newRecordingDriver() (*Driver, *[]progressEvent, *error) {
	var events []progressEvent
	var finishErr error
	finishCalled := new(bool)
	progress := func(ctx context.Context, p int, stage Name, text string) error {
		events = append(events, progressEvent{progress: p, stage: stage})
		return nil
	}
	finish := func(ctx context.Context, err error) error {
		*finishCalled = true
		finishErr = err
		return nil
	}
	d := New(silentLogger(), progress, finish, time.Millisecond, 1)
	return d, &events, &finishErr
}

func TestDriverRunsStagesInOrderAndReportsFinalProgress(t *testing.T) {
	d, events, finishErr := newRecordingDriver()
	stages := []StageSpec{
		{Name: StageExtractingFrames, ProgressStart: 0, ProgressEnd: 20, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			report(1.0)
			return nil
		}},
		{Name: StageDetectingEntities, ProgressStart: 20, ProgressEnd: 80, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			return nil
		}},
	}
	err := d.Run(context.Background(), "vid1", stages)
	require.NoError(t, err)
	require.NoError(t, *finishErr)

	last := (*events)[len(*events)-1]
	require.Equal(t, 80, last.progress)
	require.Equal(t, StageDetectingEntities, last.stage)
}

func TestDriverMandatoryStageFailureStopsTheWalk(t *testing.T) {
	d, _, finishErr := newRecordingDriver()
	ranSecond := false
	stages := []StageSpec{
		{Name: StageExtractingFrames, ProgressStart: 0, ProgressEnd: 20, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			return errors.New("ffmpeg exploded")
		}},
		{Name: StageDetectingEntities, ProgressStart: 20, ProgressEnd: 80, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			ranSecond = true
			return nil
		}},
	}
	err := d.Run(context.Background(), "vid1", stages)
	require.Error(t, err)
	require.Error(t, *finishErr)
	require.False(t, ranSecond, "a mandatory stage failure must stop the walk before later stages run")
}

func TestDriverNonMandatoryStageFailureContinues(t *testing.T) {
	d, _, finishErr := newRecordingDriver()
	ranSecond := false
	stages := []StageSpec{
		{Name: StageTranscribingAudio, ProgressStart: 0, ProgressEnd: 20, Mandatory: false, Run: func(ctx context.Context, report func(float64)) error {
			return errors.New("whisper unavailable")
		}},
		{Name: StageDetectingEntities, ProgressStart: 20, ProgressEnd: 80, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			ranSecond = true
			return nil
		}},
	}
	err := d.Run(context.Background(), "vid1", stages)
	require.NoError(t, err)
	require.NoError(t, *finishErr)
	require.True(t, ranSecond, "a non-mandatory stage failure must not stop the walk")
}

func TestDriverStageSoftTimeoutIsFatal(t *testing.T) {
	d, _, finishErr := newRecordingDriver()
	stages := []StageSpec{
		{Name: StageDetectingEntities, ProgressStart: 0, ProgressEnd: 80, Mandatory: true, SoftTimeout: 10 * time.Millisecond, Run: func(ctx context.Context, report func(float64)) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}
	err := d.Run(context.Background(), "vid1", stages)
	require.Error(t, err)
	require.Error(t, *finishErr)
}

func TestDriverRespectsCancellationBeforeStageStart(t *testing.T) {
	d, _, finishErr := newRecordingDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	stages := []StageSpec{
		{Name: StageExtractingFrames, ProgressStart: 0, ProgressEnd: 20, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			ran = true
			return nil
		}},
	}
	err := d.Run(ctx, "vid1", stages)
	require.Error(t, err)
	require.Error(t, *finishErr)
	require.False(t, ran)
}

func TestDriverFinishReceivesALiveContextOnCancellation(t *testing.T) {
	var finishCtxErr error
	finishCalled := false
	finish := func(ctx context.Context, err error) error {
		finishCalled = true
		finishCtxErr = ctx.Err()
		return nil
	}
	progress := func(ctx context.Context, p int, stage Name, text string) error { return nil }
	d := New(silentLogger(), progress, finish, time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stages := []StageSpec{
		{Name: StageExtractingFrames, ProgressStart: 0, ProgressEnd: 20, Mandatory: true, Run: func(ctx context.Context, report func(float64)) error {
			return nil
		}},
	}
	err := d.Run(ctx, "vid1", stages)
	require.Error(t, err)
	require.True(t, finishCalled)
	require.NoError(t, finishCtxErr, "finish must not be handed the already-cancelled context, or its own terminal write would fail with context.Canceled")
}
