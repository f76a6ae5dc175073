package openvocab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/capability"
)

func writeFakeScorer(t *testing.T, stdout string, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-openvocab.sh")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\nexit %d\n", stdout, exitCode)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestProbeResolvesRealBinary(t *testing.T) {
	require.NoError(t, Probe("/bin/echo"))
}

func TestProbeErrorsOnMissingBinary(t *testing.T) {
	require.Error(t, Probe("/no/such/binary-xyz"))
}

func TestScoreParsesLabelScoreMap(t *testing.T) {
	bin := writeFakeScorer(t, `{"tank":0.8,"truck":0.2}`, 0)
	s := New(bin)

	res := s.Score(context.Background(), capability.Frame{ImagePath: "/tmp/frame.jpg"}, []string{"tank", "truck"})
	require.Equal(t, capability.StatusOK, res.Status)
	require.Equal(t, 0.8, res.Value["tank"])
	require.Equal(t, 0.2, res.Value["truck"])
}

func TestScoreReturnsRuntimeErrorOnNonZeroExit(t *testing.T) {
	bin := writeFakeScorer(t, `{}`, 1)
	s := New(bin)

	res := s.Score(context.Background(), capability.Frame{ImagePath: "/tmp/frame.jpg"}, []string{"tank"})
	require.Equal(t, capability.StatusRuntimeError, res.Status)
}
