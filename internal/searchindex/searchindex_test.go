package searchindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/aggregate"
	"github.com/mbarrow/framewatch/internal/report"
)

func entities(labels ...string) map[string]aggregate.EntitySummary {
	m := make(map[string]aggregate.EntitySummary)
	for _, l := range labels {
		m[l] = aggregate.EntitySummary{Presence: 0.5, Appearances: 10}
	}
	return m
}

func TestIndexExactMatch(t *testing.T) {
	idx := New(nil)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("tank", "truck"))

	resp := idx.Search(Query{Q: "tank"})
	require.Equal(t, 1, resp.ExactMatchesCount)
	require.Equal(t, 1, resp.TotalUniqueVideos)
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "vid1", resp.Jobs[0].VideoID)
}

func TestIndexJaccardFallbackFindsSimilarLabel(t *testing.T) {
	idx := New(nil)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("armored vehicle"))

	resp := idx.Search(Query{Q: "vehicle armored convoy", Similarity: 0.1})
	require.Equal(t, 0, resp.ExactMatchesCount)
	require.Equal(t, 1, resp.AIEnhancementsCount)
	require.Equal(t, "armored vehicle", resp.SimilarEntities[0].Label)
}

func TestIndexRemoveVideoDropsRows(t *testing.T) {
	idx := New(nil)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("tank"))
	idx.RemoveVideo("vid1")

	resp := idx.Search(Query{Q: "tank"})
	require.Equal(t, 0, resp.TotalUniqueVideos)
}

func TestIndexReportReplacesPriorRowsForSameVideo(t *testing.T) {
	idx := New(nil)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("tank"))
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("truck"))

	resp := idx.Search(Query{Q: "tank"})
	require.Equal(t, 0, resp.ExactMatchesCount, "re-indexing the same video must replace, not append, its rows")

	resp = idx.Search(Query{Q: "truck"})
	require.Equal(t, 1, resp.ExactMatchesCount)
}

func TestIndexMinPresenceAndMinFramesFilter(t *testing.T) {
	idx := New(nil)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("tank"))

	resp := idx.Search(Query{Q: "tank", MinPresence: 0.9})
	require.Equal(t, 0, resp.TotalUniqueVideos)

	resp = idx.Search(Query{Q: "tank", MinFrames: 100})
	require.Equal(t, 0, resp.TotalUniqueVideos)
}

type stubEmbedder struct {
	vectors map[string][]float64
}

func (s stubEmbedder) Embed(text string) ([]float64, bool) {
	v, ok := s.vectors[text]
	return v, ok
}

func TestRebuildPopulatesIndexFromReportsOnDisk(t *testing.T) {
	dir := t.TempDir()
	for videoID, labels := range map[string][]string{"vid1": {"tank"}, "vid2": {"truck"}} {
		r := report.Assemble(videoID, videoID+".mp4", 60, 5, 12, entities(labels...), nil)
		require.NoError(t, report.WriteAtomic(filepath.Join(dir, videoID, "report.json"), r))
	}

	idx := New(nil)
	require.NoError(t, idx.Rebuild(dir))

	resp := idx.Search(Query{Q: "tank"})
	require.Equal(t, 1, resp.TotalUniqueVideos)
	resp = idx.Search(Query{Q: "truck"})
	require.Equal(t, 1, resp.TotalUniqueVideos)
}

func TestRebuildOnMissingDirIsNotFatal(t *testing.T) {
	idx := New(nil)
	require.NoError(t, idx.Rebuild(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestRebuildSkipsDirectoriesWithoutAReport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vid-no-report"), 0o755))

	idx := New(nil)
	require.NoError(t, idx.Rebuild(dir))

	resp := idx.Search(Query{Q: "anything"})
	require.Equal(t, 0, resp.TotalUniqueVideos)
}

func TestIndexUsesEmbedderCosineWhenConfigured(t *testing.T) {
	embedder := stubEmbedder{vectors: map[string][]float64{
		"soldier": {1, 0},
		"marine":  {0.9, 0.1},
	}}
	idx := New(embedder)
	idx.IndexReport("vid1", "clip.mp4", "completed", 60, "2026-01-01T00:00:00Z", entities("marine"))

	resp := idx.Search(Query{Q: "soldier", Similarity: 0.5})
	require.Equal(t, 1, resp.AIEnhancementsCount)
	require.Equal(t, "marine", resp.SimilarEntities[0].Label)
}
