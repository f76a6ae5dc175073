package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/capability"
)

func writeFakeReader(t *testing.T, stdout string, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ocr.sh")
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

func TestReadNormalizesVendorConfidenceScale(t *testing.T) {
	bin := writeFakeReader(t, `[{"text":"ARMY 3RD BN","conf":87.5,"x":1,"y":2,"w":3,"h":4}]`, 0)
	r := New(bin)

	res := r.Read(context.Background(), capability.Frame{ImagePath: "/tmp/frame.jpg"})
	require.Equal(t, capability.StatusOK, res.Status)
	require.Len(t, res.Value, 1)
	require.Equal(t, "ARMY 3RD BN", res.Value[0].RawText)
	require.InDelta(t, 0.875, res.Value[0].Confidence, 1e-9)
}

func TestReadReturnsRuntimeErrorOnNonZeroExit(t *testing.T) {
	bin := writeFakeReader(t, `[]`, 1)
	r := New(bin)

	res := r.Read(context.Background(), capability.Frame{ImagePath: "/tmp/frame.jpg"})
	require.Equal(t, capability.StatusRuntimeError, res.Status)
}
