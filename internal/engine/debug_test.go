// internal/engine/debug_test.go
package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/renew-cli/api/schemas"
)

func TestCaptureStateWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	fake := newFakeSession()
	fake.text = "please verify"
	fake.frames = []schemas.FrameHandle{
		{Index: 1, URL: "https://challenges.cloudflare.com/x", ParentID: "top", TargetID: "t1"},
	}

	d := NewDebugCapture(fake, dir, zap.NewNop())
	d.CaptureState(context.Background(), "Challenge Exhausted")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	assert.True(t, hasArtifact(names, "debug_state_challenge_exhausted_", ".html"))
	assert.True(t, hasArtifact(names, "debug_state_challenge_exhausted_", ".json"))
	assert.True(t, hasArtifact(names, "debug_state_challenge_exhausted_", ".png"))
	assert.True(t, hasArtifact(names, "turnstile_debug_frame_1_", ".html"))
	assert.True(t, hasArtifact(names, "turnstile_debug_frame_1_", ".json"))
}

func TestCaptureStateDisabledWithoutDir(t *testing.T) {
	fake := newFakeSession()
	d := NewDebugCapture(fake, "", zap.NewNop())

	d.CaptureState(context.Background(), "anything")
	assert.Empty(t, fake.screenshots)
}

func TestFrameMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fake := newFakeSession()
	fake.location = "https://portal.example/renew"
	frame := schemas.FrameHandle{Index: 2, URL: "https://challenges.cloudflare.com/y", ParentID: "top", TargetID: "t2"}
	fake.frames = []schemas.FrameHandle{frame}

	d := NewDebugCapture(fake, dir, zap.NewNop())
	d.CaptureState(context.Background(), "snapshot")

	path := findArtifact(t, dir, "turnstile_debug_frame_2_", ".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var meta frameMetadata
	require.NoError(t, jsonx.Unmarshal(data, &meta))
	require.Len(t, meta.Frames, 1)
	if diff := cmp.Diff(frame, meta.Frames[0]); diff != "" {
		t.Fatalf("frame metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeMarkup(t *testing.T) {
	markup := `<html><head><style>body{color:red}</style><script>var x=1;</script></head>
		<body><h1>Renewal</h1><p>Step 2 of 3</p></body></html>`

	got := summarizeMarkup(markup, 100)
	assert.Contains(t, got, "Renewal")
	assert.Contains(t, got, "Step 2 of 3")
	assert.NotContains(t, got, "var x=1")
	assert.NotContains(t, got, "color:red")
}

func TestSummarizeMarkupHonorsLimit(t *testing.T) {
	markup := "<p>" + strings.Repeat("a", 500) + "</p>"
	assert.Len(t, summarizeMarkup(markup, 50), 50)
}

func hasArtifact(names []string, prefix, suffix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			return true
		}
	}
	return false
}

func findArtifact(t *testing.T, dir, prefix, suffix string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), suffix) {
			return filepath.Join(dir, e.Name())
		}
	}
	t.Fatalf("no artifact %s*%s in %s", prefix, suffix, dir)
	return ""
}
