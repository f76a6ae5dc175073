// Package api is the thin Gin REST surface wrapping the orchestrator. It has
// no auth and no multi-tenant headers — the out-of-scope façade is assumed
// to sit in front of it — and exists mainly so the eight operations in §6
// are reachable over HTTP for httptest-driven coverage, grounded on
// library_service/internal/handlers.Handlers's constructor-injection
// pattern: one struct holding the dependency, one method per route.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mbarrow/framewatch/internal/orchestrator"
	"github.com/mbarrow/framewatch/internal/pipelineerr"
	"github.com/mbarrow/framewatch/internal/searchindex"
)

// Handlers holds every dependency the route methods need.
type Handlers struct {
	orch     *orchestrator.Orchestrator
	log      *logrus.Logger
	validate *validator.Validate
}

// NewHandlers constructs a Handlers.
func NewHandlers(orch *orchestrator.Orchestrator, log *logrus.Logger) *Handlers {
	return &Handlers{orch: orch, log: log, validate: validator.New()}
}

// NewRouter builds the Gin engine and registers every route.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", h.CreateJob)
		v1.GET("/jobs/:videoId", h.GetJob)
		v1.GET("/jobs/:videoId/status", h.GetStatus)
		v1.GET("/jobs/:videoId/report", h.GetReport)
		v1.GET("/jobs/:videoId/frames", h.ListFrames)
		v1.GET("/jobs/:videoId/frames/nearest", h.NearestFrame)
		v1.DELETE("/jobs/:videoId", h.DeleteJob)
		v1.GET("/search", h.Search)
	}
	return r
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"status": c.Writer.Status(),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Info("request")
	}
}

// Health reports liveness.
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "ingestion_worker"})
}

// writeErr maps a pipelineerr.Kind (or a sentinel) to the appropriate HTTP
// status, defaulting to 500 for anything unrecognized.
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipelineerr.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipelineerr.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pipelineerr.ErrNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case pipelineerr.Is(err, pipelineerr.KindInputInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// searchQuery binds the search endpoint's query-string parameters.
type searchQuery struct {
	Q           string  `form:"q" binding:"required"`
	Similarity  float64 `form:"similarity" validate:"omitempty,gte=0,lte=1"`
	MinPresence float64 `form:"min_presence" validate:"omitempty,gte=0,lte=1"`
	MinFrames   int     `form:"min_frames" validate:"omitempty,gte=0"`
}

// Search implements search.
// GET /api/v1/search
func (h *Handlers) Search(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	if err := h.validate.Struct(q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := h.orch.Search(searchindex.Query{
		Q:           q.Q,
		Similarity:  q.Similarity,
		MinPresence: q.MinPresence,
		MinFrames:   q.MinFrames,
	})
	c.JSON(http.StatusOK, resp)
}
