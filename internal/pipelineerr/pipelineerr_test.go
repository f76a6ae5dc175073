package pipelineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKindAndCause(t *testing.T) {
	cause := errors.New("ffmpeg exited 1")
	err := Wrap(KindExtractionFailed, cause)

	require.True(t, Is(err, KindExtractionFailed))
	require.False(t, Is(err, KindInputInvalid))
	require.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindExtractionFailed, kind)
}

func TestWrapfFormatsCause(t *testing.T) {
	err := Wrapf(KindStageTimeout, "stage %s exceeded %d seconds", "detecting_entities", 60)
	require.Contains(t, err.Error(), "detecting_entities")
	require.True(t, Is(err, KindStageTimeout))
}

func TestKindOfOnPlainErrorReturnsFalse(t *testing.T) {
	_, ok := KindOf(errors.New("not a pipeline error"))
	require.False(t, ok)
}

func TestFatalClassifiesKinds(t *testing.T) {
	require.True(t, Fatal(KindInputInvalid))
	require.True(t, Fatal(KindExtractionFailed))
	require.True(t, Fatal(KindStageTimeout))
	require.True(t, Fatal(KindCancelled))
	require.True(t, Fatal(KindPersistenceError))

	require.False(t, Fatal(KindCapabilityUnavailable))
	require.False(t, Fatal(KindCapabilityRuntimeError))
	require.False(t, Fatal(KindTranscriptError))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	require.NotErrorIs(t, ErrJobNotFound, ErrInvalidTransition)
	require.NotErrorIs(t, ErrNotTerminal, ErrNotReady)
}
