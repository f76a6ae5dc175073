package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mbarrow/framewatch/internal/broker/inprocess"
	"github.com/mbarrow/framewatch/internal/config"
	"github.com/mbarrow/framewatch/internal/detect"
	"github.com/mbarrow/framewatch/internal/jobstore"
	"github.com/mbarrow/framewatch/internal/orchestrator"
	"github.com/mbarrow/framewatch/internal/searchindex"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *orchestrator.Orchestrator) {
	t.Helper()
	dir := t.TempDir()

	store, err := jobstore.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bro := inprocess.New(8)
	cfg := &config.Config{DataDir: dir, StaleAfter: time.Hour, DefaultIntervalSec: 5}
	lex := detect.DefaultLexicon()
	index := searchindex.New(nil)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	orch := orchestrator.New(store, bro, cfg, lex, orchestrator.Capabilities{}, index, logger, "test-worker")
	h := NewHandlers(orch, logger)
	return NewRouter(h), orch
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("video", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestCreateJobRequiresVideoFile(t *testing.T) {
	router, _ := newTestRouter(t)
	body, contentType := multipartUpload(t, map[string]string{"interval_sec": "5"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobRejectsIntervalOutOfRange(t *testing.T) {
	router, _ := newTestRouter(t)
	body, contentType := multipartUpload(t, map[string]string{"interval_sec": "0"}, "clip.mp4", []byte("fake-video-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobThenGetJobAndStatusRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, map[string]string{"interval_sec": "5"}, "clip.mp4", []byte("fake-video-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		VideoID string `json:"video_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "queued", created.Status)
	require.NotEmpty(t, created.VideoID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.VideoID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var job jobstore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, "clip.mp4", job.Filename)
	require.Equal(t, jobstore.StatusQueued, job.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.VideoID+"/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetJobUnknownVideoIDReturns404(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/deadbeef", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReportNotReadyReturns409(t *testing.T) {
	router, _ := newTestRouter(t)
	body, contentType := multipartUpload(t, map[string]string{"interval_sec": "5"}, "clip.mp4", []byte("fake-video-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		VideoID string `json:"video_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.VideoID+"/report", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchEndpointRequiresQ(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpointReturnsEmptyResultForUnmatchedQuery(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchindex.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.TotalUniqueVideos)
}

func TestDeleteJobRefusesFreshlyQueuedJob(t *testing.T) {
	// delete_job only permits a terminal job, or a processing job stale
	// past StaleAfter — a just-created queued job is neither.
	router, _ := newTestRouter(t)
	body, contentType := multipartUpload(t, map[string]string{"interval_sec": "5"}, "clip.mp4", []byte("fake-video-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created struct {
		VideoID string `json:"video_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+created.VideoID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.VideoID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
