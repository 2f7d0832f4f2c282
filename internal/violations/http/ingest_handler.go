package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/api/http/middleware"
	"github.com/cspwatch/cspwatch/internal/cspreport"
	"github.com/cspwatch/cspwatch/internal/ingest"
	"github.com/cspwatch/cspwatch/internal/metrics"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

// ReportProcessor folds one validated report into storage.
type ReportProcessor interface {
	Process(ctx context.Context, projectID string, report *cspreport.Report, userAgent, reportedBy string) (*domain.Report, *domain.Group, error)
}

// IngestHandler terminates the browser-facing report endpoints.
type IngestHandler struct {
	processor ReportProcessor
	policy    *ingest.Policy
	sources   *ingest.SourceLimiter
	projects  *ingest.ProjectLimiter
	keys      map[string]string // ingest key -> project id
	metrics   *metrics.Metrics
	logger    *zap.Logger
	maxBody   int64
}

type IngestDeps struct {
	Processor ReportProcessor
	Policy    *ingest.Policy
	Sources   *ingest.SourceLimiter
	Projects  *ingest.ProjectLimiter

	// ProjectKeys maps project id to its ingest key, as configured.
	ProjectKeys map[string]string

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	MaxBody int64
}

func NewIngestHandler(deps IngestDeps) *IngestHandler {
	keys := make(map[string]string, len(deps.ProjectKeys))
	for projectID, key := range deps.ProjectKeys {
		keys[key] = projectID
	}

	maxBody := deps.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &IngestHandler{
		processor: deps.Processor,
		policy:    deps.Policy,
		sources:   deps.Sources,
		projects:  deps.Projects,
		keys:      keys,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		maxBody:   maxBody,
	}
}

// Register mounts the two wire formats browsers deliver reports with:
// the legacy report-uri POST and the Reporting API batch.
func (h *IngestHandler) Register(r gin.IRouter) {
	r.POST("/csp/:key/report", h.HandleReportURI)
	r.POST("/csp/:key/reports", h.HandleReportTo)
}

// HandleReportURI ingests one application/csp-report body.
func (h *IngestHandler) HandleReportURI(c *gin.Context) {
	projectID, ok := h.resolveProject(c)
	if !ok {
		return
	}
	defer h.observe(projectID, time.Now())

	if !h.allowDelivery(c, projectID) {
		return
	}

	body, ok := h.readBody(c, projectID)
	if !ok {
		return
	}

	report, err := cspreport.ParseReportURI(body)
	if err != nil {
		h.reject(c, projectID, "malformed report")
		return
	}
	if err := report.Validate(); err != nil {
		h.reject(c, projectID, err.Error())
		return
	}

	decision := h.policy.Decide(projectID, report)
	if !decision.Allow {
		h.metrics.ReportFiltered(projectID, decision.Reason)
		c.JSON(http.StatusAccepted, gin.H{"status": "filtered", "reason": decision.Reason})
		return
	}

	stored, group, err := h.processor.Process(c.Request.Context(), projectID, report, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		h.logger.Error("report ingest failed",
			zap.String("project_id", projectID),
			zap.String("request_id", middleware.RequestIDFrom(c.Request.Context())),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
		return
	}

	h.metrics.ReportStored(projectID, stored.EffectiveDirective)
	c.JSON(http.StatusCreated, gin.H{"id": stored.ID, "group_id": group.ID})
}

// HandleReportTo ingests an application/reports+json batch. Non-CSP
// entries are skipped; the response counts what happened to the rest.
func (h *IngestHandler) HandleReportTo(c *gin.Context) {
	projectID, ok := h.resolveProject(c)
	if !ok {
		return
	}
	defer h.observe(projectID, time.Now())

	if !h.allowDelivery(c, projectID) {
		return
	}

	body, ok := h.readBody(c, projectID)
	if !ok {
		return
	}

	reports, err := cspreport.ParseReportTo(body)
	if err != nil {
		h.reject(c, projectID, "malformed report batch")
		return
	}

	var stored, filtered, rejected int
	for _, report := range reports {
		if err := report.Validate(); err != nil {
			h.metrics.ReportRejected(projectID)
			rejected++
			continue
		}

		decision := h.policy.Decide(projectID, report)
		if !decision.Allow {
			h.metrics.ReportFiltered(projectID, decision.Reason)
			filtered++
			continue
		}

		record, _, err := h.processor.Process(c.Request.Context(), projectID, report, c.Request.UserAgent(), c.ClientIP())
		if err != nil {
			h.logger.Error("report ingest failed",
				zap.String("project_id", projectID),
				zap.String("request_id", middleware.RequestIDFrom(c.Request.Context())),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
			return
		}
		h.metrics.ReportStored(projectID, record.EffectiveDirective)
		stored++
	}

	c.JSON(http.StatusAccepted, gin.H{
		"stored":   stored,
		"filtered": filtered,
		"rejected": rejected,
	})
}

// resolveProject maps the URL key to a project, 404 on unknown keys so
// probes learn nothing about which projects exist.
func (h *IngestHandler) resolveProject(c *gin.Context) (string, bool) {
	projectID, ok := h.keys[c.Param("key")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ingest key"})
		return "", false
	}
	return projectID, true
}

// allowDelivery applies both rate limits: per source in-process, per
// project through Redis.
func (h *IngestHandler) allowDelivery(c *gin.Context, projectID string) bool {
	if !h.sources.Allow(c.ClientIP()) {
		h.metrics.ReportRateLimited(projectID)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return false
	}

	allowed, err := h.projects.Allow(c.Request.Context(), projectID)
	if err != nil {
		h.logger.Warn("project rate limit unavailable", zap.String("project_id", projectID), zap.Error(err))
	}
	if !allowed {
		h.metrics.ReportRateLimited(projectID)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "project rate limited"})
		return false
	}
	return true
}

func (h *IngestHandler) readBody(c *gin.Context, projectID string) ([]byte, bool) {
	reader := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ReportRejected(projectID)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "report body too large"})
			return nil, false
		}
		h.reject(c, projectID, "unreadable body")
		return nil, false
	}
	return body, true
}

func (h *IngestHandler) reject(c *gin.Context, projectID, message string) {
	h.metrics.ReportRejected(projectID)
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func (h *IngestHandler) observe(projectID string, start time.Time) {
	h.metrics.ObserveIngest(projectID, time.Since(start).Seconds())
}
