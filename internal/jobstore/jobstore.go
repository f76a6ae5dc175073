// Package jobstore is the durable, single source of truth for job state. It
// wraps a modernc.org/sqlite database the way link270-shrinkray's
// internal/store/sqlite.go wraps its schema: a fixed DDL applied once on
// open, and a striped in-process mutex serializing writes to a single row
// on top of SQLite's own single-writer guarantees.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mbarrow/framewatch/internal/pipelineerr"
)

// Status is one of the four job lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// terminal reports whether s admits no further transition.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransition enforces the DAG queued -> processing -> {completed, failed}.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is the durable record for one submitted video.
type Job struct {
	VideoID        string          `json:"video_id"`
	Filename       string          `json:"filename"`
	IntervalSec    int             `json:"interval_sec"`
	VoiceFilePath  string          `json:"voice_file_path,omitempty"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	CurrentStage   string          `json:"current_stage"`
	StatusText     string          `json:"status_text"`
	DurationSec    float64         `json:"duration_sec"`
	FramesAnalyzed int             `json:"frames_analyzed"`
	UniqueEntities int             `json:"unique_entities"`
	EntitySummary  json.RawMessage `json:"entity_summary,omitempty"`
	VideoPath      string          `json:"-"`
	FramesDir      string          `json:"-"`
	ReportPath     string          `json:"-"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Store is the durable job store.
type Store struct {
	db *sql.DB

	mu     sync.Mutex // guards rowMus map
	rowMus map[string]*sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	video_id        TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	interval_sec    INTEGER NOT NULL,
	voice_file_path TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	progress        INTEGER NOT NULL DEFAULT 0,
	current_stage   TEXT NOT NULL DEFAULT '',
	status_text     TEXT NOT NULL DEFAULT '',
	duration_sec    REAL NOT NULL DEFAULT 0,
	frames_analyzed INTEGER NOT NULL DEFAULT 0,
	unique_entities INTEGER NOT NULL DEFAULT 0,
	entity_summary  TEXT NOT NULL DEFAULT '{}',
	video_path      TEXT NOT NULL DEFAULT '',
	frames_dir      TEXT NOT NULL DEFAULT '',
	report_path     TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	worker_id       TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// Open creates/migrates the database at path and returns a ready Store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jobstore: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, matches the single-writer model in the concurrency section
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: migrate: %w", err)
	}
	return &Store{db: db, rowMus: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockFor(videoID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rowMus[videoID]
	if !ok {
		m = &sync.Mutex{}
		s.rowMus[videoID] = m
	}
	return m
}

// newVideoID derives the spec's 8-hex-character opaque identifier from a
// random UUID.
func newVideoID() string {
	return uuid.New().String()[:8]
}

// Submit creates a job row in StatusQueued and returns its video_id.
func (s *Store) Submit(ctx context.Context, filename string, intervalSec int, voiceFilePath string) (string, error) {
	id := newVideoID()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (video_id, filename, interval_sec, voice_file_path, status, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, filename, intervalSec, voiceFilePath, string(StatusQueued), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return "", pipelineerr.Wrap(pipelineerr.KindPersistenceError, fmt.Errorf("insert job %s: %w", id, err))
	}
	return id, nil
}

// Get fetches the job record for videoID.
func (s *Store) Get(ctx context.Context, videoID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		video_id, filename, interval_sec, voice_file_path, status, progress, current_stage,
		status_text, duration_sec, frames_analyzed, unique_entities, entity_summary,
		video_path, frames_dir, report_path, error_message, worker_id, created_by, created_at, updated_at
		FROM jobs WHERE video_id = ?`, videoID)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var status, entitySummary, createdAt, updatedAt string
	err := row.Scan(&j.VideoID, &j.Filename, &j.IntervalSec, &j.VoiceFilePath, &status, &j.Progress,
		&j.CurrentStage, &j.StatusText, &j.DurationSec, &j.FramesAnalyzed, &j.UniqueEntities, &entitySummary,
		&j.VideoPath, &j.FramesDir, &j.ReportPath, &j.ErrorMessage, &j.WorkerID, &j.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipelineerr.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: scan job: %w", err)
	}
	j.Status = Status(status)
	j.EntitySummary = json.RawMessage(entitySummary)
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &j, nil
}

// UpdateStatus transitions a job's status/progress/stage. Only the worker
// owning the job should call this (enforced by convention, not locking,
// matching the "single writer owns the row" rule in the concurrency model).
func (s *Store) UpdateStatus(ctx context.Context, videoID string, status Status, progress int, stage, statusText string) error {
	lock := s.lockFor(videoID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if !validTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", pipelineerr.ErrInvalidTransition, current.Status, status)
	}
	if progress < current.Progress {
		progress = current.Progress // non-decreasing
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if status == StatusCompleted {
		progress = 100
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status=?, progress=?, current_stage=?, status_text=?, updated_at=? WHERE video_id=?`,
		string(status), progress, stage, statusText, now, videoID)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, fmt.Errorf("update status %s: %w", videoID, err))
	}
	return nil
}

// Finish commits the terminal state of a job: either a successful report or
// a failure message, never both.
func (s *Store) Finish(ctx context.Context, videoID string, result FinishResult) error {
	lock := s.lockFor(videoID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}
	targetStatus := StatusCompleted
	if result.Err != "" {
		targetStatus = StatusFailed
	}
	if !validTransition(current.Status, targetStatus) {
		return fmt.Errorf("%w: %s -> %s", pipelineerr.ErrInvalidTransition, current.Status, targetStatus)
	}
	progress := 100
	if targetStatus == StatusFailed {
		progress = current.Progress
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status=?, progress=?, duration_sec=?, frames_analyzed=?,
		unique_entities=?, entity_summary=?, report_path=?, error_message=?, updated_at=? WHERE video_id=?`,
		string(targetStatus), progress, result.DurationSec, result.FramesAnalyzed, result.UniqueEntities,
		string(result.EntitySummaryJSON), result.ReportPath, result.Err, now, videoID)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, fmt.Errorf("finish job %s: %w", videoID, err))
	}
	return nil
}

// FinishResult carries the outcome written by Finish.
type FinishResult struct {
	DurationSec        float64
	FramesAnalyzed     int
	UniqueEntities     int
	EntitySummaryJSON  json.RawMessage
	ReportPath         string
	Err                string // non-empty selects StatusFailed
}

// SetVideoPath records the resolved on-disk video path once an upload/fetch
// completes.
func (s *Store) SetVideoPath(ctx context.Context, videoID, videoPath, framesDir string) error {
	lock := s.lockFor(videoID)
	lock.Lock()
	defer lock.Unlock()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET video_path=?, frames_dir=?, updated_at=? WHERE video_id=?`,
		videoPath, framesDir, now, videoID)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}
	return nil
}

// SetWorker records which worker owns a processing job, used for
// stale-recovery attribution.
func (s *Store) SetWorker(ctx context.Context, videoID, workerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET worker_id=? WHERE video_id=?`, workerID, videoID)
	return err
}

// List returns a page of jobs, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, statusFilter string, page, pageSize int) ([]*Job, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	args := []any{}
	where := ""
	if statusFilter != "" {
		where = "WHERE status = ?"
		args = append(args, statusFilter)
	}
	var total int
	countQuery := "SELECT COUNT(*) FROM jobs " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("jobstore: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT
		video_id, filename, interval_sec, voice_file_path, status, progress, current_stage,
		status_text, duration_sec, frames_analyzed, unique_entities, entity_summary,
		video_path, frames_dir, report_path, error_message, worker_id, created_by, created_at, updated_at
		FROM jobs %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("jobstore: list: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var status, entitySummary, createdAt, updatedAt string
		if err := rows.Scan(&j.VideoID, &j.Filename, &j.IntervalSec, &j.VoiceFilePath, &status, &j.Progress,
			&j.CurrentStage, &j.StatusText, &j.DurationSec, &j.FramesAnalyzed, &j.UniqueEntities, &entitySummary,
			&j.VideoPath, &j.FramesDir, &j.ReportPath, &j.ErrorMessage, &j.WorkerID, &j.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("jobstore: scan list row: %w", err)
		}
		j.Status = Status(status)
		j.EntitySummary = json.RawMessage(entitySummary)
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, total, rows.Err()
}

// Delete removes a job row. Permitted only in a terminal state, or for a
// processing job whose updated_at predates staleAfter (recovery of a job
// abandoned by a crashed worker).
func (s *Store) Delete(ctx context.Context, videoID string, staleAfter time.Duration) error {
	lock := s.lockFor(videoID)
	lock.Lock()
	defer lock.Unlock()

	j, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if !j.Status.terminal() {
		if j.Status != StatusProcessing || time.Since(j.UpdatedAt) < staleAfter {
			return pipelineerr.ErrNotTerminal
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE video_id=?`, videoID); err != nil {
		return pipelineerr.Wrap(pipelineerr.KindPersistenceError, err)
	}
	return nil
}

// RecoverStale resets every processing job whose updated_at predates the
// cutoff back to queued, matching link270-shrinkray's load-time
// StatusRunning -> StatusPending reset. The caller is responsible for
// discarding the job's frames directory; RecoverStale returns the list of
// affected jobs so the caller can do so.
func (s *Store) RecoverStale(ctx context.Context, staleAfter time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-staleAfter).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `SELECT video_id FROM jobs WHERE status = ? AND updated_at < ?`,
		string(StatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("jobstore: recover query: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var recovered []*Job
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status=?, progress=0, current_stage='', status_text='', worker_id='', updated_at=? WHERE video_id=?`,
			string(StatusQueued), now, id)
		if err != nil {
			return nil, fmt.Errorf("jobstore: recover reset %s: %w", id, err)
		}
		recovered = append(recovered, j)
	}
	return recovered, nil
}
