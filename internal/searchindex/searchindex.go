// Package searchindex builds and answers queries over all completed jobs.
// It is an in-process, rebuildable structure protected by a sync.RWMutex
// the way §5 specifies: readers proceed concurrently, the writer briefly
// blocks readers while swapping in a new per-job row. The request/response
// shape (typed query struct, typed ranked response) is grounded on
// library_service/internal/search/meilisearch.go's doRequest/typed structs,
// even though this index lives in-process rather than behind an external
// MeiliSearch server.
package searchindex

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbarrow/framewatch/internal/aggregate"
	"github.com/mbarrow/framewatch/internal/detect"
	"github.com/mbarrow/framewatch/internal/matcher"
	"github.com/mbarrow/framewatch/internal/report"
)

// Row is one (video_id, label) tuple in the index.
type Row struct {
	VideoID     string
	Label       string
	Presence    float64
	Appearances int
	Filename    string
	Status      string
	DurationSec float64
	CreatedAt   string
	Tokens      map[string]bool
	Embedding   []float64
}

// Embedder produces a dense vector for a string. The index degrades to a
// token-Jaccard fallback when nil.
type Embedder interface {
	Embed(text string) ([]float64, bool)
}

// Index is the in-process search structure.
type Index struct {
	mu   sync.RWMutex
	rows []Row

	embedder Embedder
}

// New constructs an empty Index. embedder may be nil.
func New(embedder Embedder) *Index {
	return &Index{embedder: embedder}
}

// IndexReport ingests one completed job's report, replacing any prior rows
// for that video_id.
func (idx *Index) IndexReport(videoID, filename, status string, durationSec float64, createdAt string, entities map[string]aggregate.EntitySummary) {
	var rows []Row
	for label, summary := range entities {
		rows = append(rows, Row{
			VideoID:     videoID,
			Label:       label,
			Presence:    summary.Presence,
			Appearances: summary.Appearances,
			Filename:    filename,
			Status:      status,
			DurationSec: durationSec,
			CreatedAt:   createdAt,
			Tokens:      tokenSet(label),
		})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	filtered := idx.rows[:0:0]
	for _, r := range idx.rows {
		if r.VideoID != videoID {
			filtered = append(filtered, r)
		}
	}
	idx.rows = append(filtered, rows...)
}

// RemoveVideo drops every row for videoID, used by delete_job.
func (idx *Index) RemoveVideo(videoID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	filtered := idx.rows[:0:0]
	for _, r := range idx.rows {
		if r.VideoID != videoID {
			filtered = append(filtered, r)
		}
	}
	idx.rows = filtered
}

// Rebuild repopulates the index from every reports/<video_id>/report.json
// found under reportsDir, so a restarted worker's index reflects all
// previously completed jobs rather than starting empty. A report.json's
// existence implies the job reached completed; its file mtime stands in for
// created_at since the report artifact itself carries no timestamp.
func (idx *Index) Rebuild(reportsDir string) error {
	entries, err := os.ReadDir(reportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("searchindex: read reports dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoID := entry.Name()
		path := filepath.Join(reportsDir, videoID, "report.json")
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		r, err := report.Read(path)
		if err != nil {
			continue
		}
		idx.IndexReport(videoID, r.Filename, "completed", r.DurationSec, info.ModTime().UTC().Format(time.RFC3339), r.Entities)
	}
	return nil
}

func tokenSet(label string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(label) {
		set[tok] = true
	}
	return set
}

// MatchedEntity is one label matched within a single job.
type MatchedEntity struct {
	Label       string  `json:"label"`
	Presence    float64 `json:"presence"`
	Appearances int     `json:"frames"`
}

// JobMatch is the per-job response entry.
type JobMatch struct {
	VideoID  string          `json:"video_id"`
	Filename string          `json:"filename"`
	Entities []MatchedEntity `json:"matched_entities"`
}

// SimilarEntity is a semantic-pass hit with its similarity score.
type SimilarEntity struct {
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// SearchResponse is the full ranked answer to a query.
type SearchResponse struct {
	Jobs                []JobMatch      `json:"jobs"`
	SimilarEntities     []SimilarEntity `json:"similar_entities"`
	ExactMatchesCount   int             `json:"exact_matches_count"`
	AIEnhancementsCount int             `json:"ai_enhancements_count"`
	TotalUniqueVideos   int             `json:"total_unique_videos"`
}

// Query carries the search parameters from §4.8.
type Query struct {
	Q           string
	Similarity  float64
	MinPresence float64
	MinFrames   int
}

// Search answers q against the index: an exact substring pass, an optional
// semantic pass (embedding cosine similarity when an Embedder is
// configured, else normalized-token Jaccard overlap via
// internal/matcher), then presence/frame-count filtering.
func (idx *Index) Search(q Query) SearchResponse {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	normalizedQ := detect.NormalizeLabel(q.Q)
	qTokens := tokenSet(normalizedQ)

	jobEntities := make(map[string]map[string]MatchedEntity)
	jobMeta := make(map[string]Row)
	exactLabels := make(map[string]bool)
	similarLabels := make(map[string]float64)

	for _, row := range idx.rows {
		if row.Presence < q.MinPresence || row.Appearances < q.MinFrames {
			continue
		}
		jobMeta[row.VideoID] = row

		isExact := strings.Contains(row.Label, normalizedQ)
		isSimilar := false
		similarity := 0.0
		if !isExact && normalizedQ != "" {
			if idx.embedder != nil {
				if vec, ok := idx.embedder.Embed(normalizedQ); ok {
					if rowVec, ok2 := idx.embedder.Embed(row.Label); ok2 {
						similarity = cosineSimilarity(vec, rowVec)
					}
				}
			} else {
				similarity = matcher.JaccardSimilarity(qTokens, row.Tokens)
			}
			isSimilar = similarity >= q.Similarity
		}

		if !isExact && !isSimilar {
			continue
		}
		if isExact {
			exactLabels[row.Label] = true
		} else {
			if existing, ok := similarLabels[row.Label]; !ok || similarity > existing {
				similarLabels[row.Label] = similarity
			}
		}

		if jobEntities[row.VideoID] == nil {
			jobEntities[row.VideoID] = make(map[string]MatchedEntity)
		}
		jobEntities[row.VideoID][row.Label] = MatchedEntity{
			Label: row.Label, Presence: row.Presence, Appearances: row.Appearances,
		}
	}

	var jobs []JobMatch
	for videoID, entities := range jobEntities {
		var list []MatchedEntity
		for _, e := range entities {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Label < list[j].Label })
		jobs = append(jobs, JobMatch{VideoID: videoID, Filename: jobMeta[videoID].Filename, Entities: list})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].VideoID < jobs[j].VideoID })

	var similar []SimilarEntity
	for label, sim := range similarLabels {
		if exactLabels[label] {
			continue // already surfaced as an exact match
		}
		similar = append(similar, SimilarEntity{Label: label, Similarity: sim})
	}
	sort.Slice(similar, func(i, j int) bool { return similar[i].Similarity > similar[j].Similarity })

	return SearchResponse{
		Jobs:                jobs,
		SimilarEntities:     similar,
		ExactMatchesCount:   len(exactLabels),
		AIEnhancementsCount: len(similar),
		TotalUniqueVideos:   len(jobs),
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
