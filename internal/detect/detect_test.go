package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/capability"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeYOLO struct {
	result capability.Result[[]capability.Detection]
}

func (f fakeYOLO) Detect(ctx context.Context, frame capability.Frame) capability.Result[[]capability.Detection] {
	return f.result
}

type fakeDiscovery struct {
	result capability.Result[[]capability.ScoredLabel]
}

func (f fakeDiscovery) Discover(ctx context.Context, frame capability.Frame) capability.Result[[]capability.ScoredLabel] {
	return f.result
}

type countingOpenVocab struct {
	calls  int
	scores map[string]float64
}

func (o *countingOpenVocab) Score(ctx context.Context, frame capability.Frame, labels []string) capability.Result[map[string]float64] {
	o.calls++
	return capability.Ok(o.scores)
}

func baseFrame(idx int) capability.Frame {
	return capability.Frame{Index: idx, TimestampSec: float64(idx) * 5, ImagePath: "frame.jpg"}
}

func TestFuserSkipsUnavailableSources(t *testing.T) {
	fuser := New(Config{MinConfidence: 0.1}, DefaultLexicon(), Sources{}, silentLogger())
	skipped := fuser.SkipLog()
	require.ElementsMatch(t, []string{"yolo", "discovery", "open_vocab", "ocr"}, skipped)

	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Empty(t, result.Detections)
	require.Empty(t, result.Errors)
}

func TestFuserMapsYOLOLabelsThroughLexicon(t *testing.T) {
	sources := Sources{
		YOLO: fakeYOLO{result: capability.Ok([]capability.Detection{
			{Label: "truck", Confidence: 0.8},
			{Label: "person", Confidence: 0.9},
		})},
	}
	fuser := New(Config{MinConfidence: 0.1}, DefaultLexicon(), sources, silentLogger())
	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Len(t, result.Detections, 2)

	labels := map[string]bool{}
	for _, d := range result.Detections {
		labels[d.Label] = true
		require.Equal(t, capability.SourceYOLO, d.Source)
	}
	require.True(t, labels["armored vehicle"])
	require.True(t, labels["military personnel"])
}

func TestFuserDropsDetectionsBelowMinConfidence(t *testing.T) {
	sources := Sources{
		YOLO: fakeYOLO{result: capability.Ok([]capability.Detection{
			{Label: "tank", Confidence: 0.05},
		})},
	}
	fuser := New(Config{MinConfidence: 0.5}, DefaultLexicon(), sources, silentLogger())
	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Empty(t, result.Detections)
}

func TestFuserRecordsYOLORuntimeError(t *testing.T) {
	sources := Sources{
		YOLO: fakeYOLO{result: capability.RuntimeError[[]capability.Detection](errors.New("model crashed"))},
	}
	fuser := New(Config{}, DefaultLexicon(), sources, silentLogger())
	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Empty(t, result.Detections)
	require.Error(t, result.Errors[capability.SourceYOLO])
}

func TestFuserDiscoveryMinConsecutiveGate(t *testing.T) {
	sources := Sources{
		Discovery: fakeDiscovery{result: capability.Ok([]capability.ScoredLabel{
			{Label: "desert camo", Score: 0.5},
		})},
	}
	cfg := Config{
		DiscoveryEnabled:        true,
		DiscoveryEveryN:         1,
		DiscoveryMinScore:       0.2,
		DiscoveryMinConsecutive: 2,
		DiscoveryMaxPhrases:     8,
		DiscoveryOnlyMilitary:   false,
	}
	fuser := New(cfg, DefaultLexicon(), sources, silentLogger())

	// First frame: the candidate has not survived two consecutive frames yet.
	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Empty(t, result.Detections)

	// Second consecutive frame: the gate opens.
	result = fuser.Detect(context.Background(), baseFrame(1), 1)
	require.Len(t, result.Detections, 1)
	require.Equal(t, "desert camo", result.Detections[0].Label)
}

func TestFuserDiscoveryOnlyMilitaryFiltersNonLexiconPhrases(t *testing.T) {
	sources := Sources{
		Discovery: fakeDiscovery{result: capability.Ok([]capability.ScoredLabel{
			{Label: "tank", Score: 0.5},
			{Label: "picnic basket", Score: 0.5},
		})},
	}
	cfg := Config{
		DiscoveryEnabled:        true,
		DiscoveryEveryN:         1,
		DiscoveryMinScore:       0.2,
		DiscoveryMinConsecutive: 1,
		DiscoveryMaxPhrases:     8,
		DiscoveryOnlyMilitary:   true,
	}
	fuser := New(cfg, DefaultLexicon(), sources, silentLogger())
	result := fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Len(t, result.Detections, 1)
	require.Equal(t, "tank", result.Detections[0].Label)
}

func TestFuserVerifyOnlyRunsEveryVerifyEveryNFrames(t *testing.T) {
	ov := &countingOpenVocab{scores: map[string]float64{"tank": 0.9}}
	sources := Sources{
		Discovery: fakeDiscovery{result: capability.Ok([]capability.ScoredLabel{
			{Label: "tank", Score: 0.5},
		})},
		OpenVocab: ov,
	}
	cfg := Config{
		DiscoveryEnabled:        true,
		DiscoveryEveryN:         1,
		DiscoveryMinScore:       0.2,
		DiscoveryMinConsecutive: 1,
		DiscoveryMaxPhrases:     8,
		VerifyEnabled:           true,
		VerifyEveryN:            3,
		VerifyThreshold:         0.5,
		VerifyMaxLabels:         5,
	}
	fuser := New(cfg, DefaultLexicon(), sources, silentLogger())

	fuser.Detect(context.Background(), baseFrame(0), 0)
	require.Equal(t, 1, ov.calls, "frame 0 is verify-eligible")

	fuser.Detect(context.Background(), baseFrame(1), 1)
	require.Equal(t, 1, ov.calls, "frame 1 must skip verification per VerifyEveryN=3")

	fuser.Detect(context.Background(), baseFrame(2), 2)
	require.Equal(t, 1, ov.calls, "frame 2 must skip verification per VerifyEveryN=3")

	fuser.Detect(context.Background(), baseFrame(3), 3)
	require.Equal(t, 2, ov.calls, "frame 3 is verify-eligible again")
}

func TestEligibleCadence(t *testing.T) {
	require.True(t, eligible(0, 3))
	require.False(t, eligible(1, 3))
	require.False(t, eligible(2, 3))
	require.True(t, eligible(3, 3))
}
