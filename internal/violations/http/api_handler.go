package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/auth"
	"github.com/cspwatch/cspwatch/internal/search"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

// GroupSearcher pages through violation groups.
type GroupSearcher interface {
	Query(ctx context.Context, q search.Query) (*search.Result, error)
}

// GroupStore is the slice of the group repository the API serves.
type GroupStore interface {
	GetByID(ctx context.Context, projectID, id string) (*domain.Group, error)
	UpdateStatus(ctx context.Context, projectID, id string, status domain.GroupStatus) (*domain.Group, error)
	CountByDirective(ctx context.Context, projectID string) ([]repository.DirectiveCount, error)
}

// ReportStore is the slice of the report repository the API serves.
type ReportStore interface {
	GetByID(ctx context.Context, projectID, id string) (*domain.Report, error)
	ListByGroup(ctx context.Context, projectID, groupID string, limit int) ([]domain.Report, error)
	CountSince(ctx context.Context, projectID string, since time.Time) (int64, error)
}

// FeedStore reads the live feed.
type FeedStore interface {
	Recent(ctx context.Context, projectID string, limit int) ([]domain.FeedEntry, error)
}

// APIHandler serves the dashboard's JSON API.
type APIHandler struct {
	search  GroupSearcher
	groups  GroupStore
	reports ReportStore
	feed    FeedStore
	logger  *zap.Logger
}

func NewAPIHandler(searcher GroupSearcher, groups GroupStore, reports ReportStore, feed FeedStore, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		search:  searcher,
		groups:  groups,
		reports: reports,
		feed:    feed,
		logger:  logger,
	}
}

func (h *APIHandler) Register(r gin.IRouter) {
	projects := r.Group("/projects/:projectID")
	projects.GET("/groups", h.ListGroups)
	projects.GET("/groups/:groupID", h.GetGroup)
	projects.PUT("/groups/:groupID/status", h.UpdateGroupStatus)
	projects.GET("/groups/:groupID/reports", h.ListGroupReports)
	projects.GET("/reports/:reportID", h.GetReport)
	projects.GET("/feed", h.Feed)
	projects.GET("/stats", h.Stats)
}

// ListGroups searches a project's groups with filters, sorting, and
// cursor pagination.
func (h *APIHandler) ListGroups(c *gin.Context) {
	projectID := c.Param("projectID")

	q, err := parseSearchQuery(c, projectID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.search.Query(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("group search failed", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	response := gin.H{
		"groups": result.Groups,
		"pagination": gin.H{
			"next": cursorString(result.Next),
			"prev": cursorString(result.Prev),
		},
	}
	if result.Hits >= 0 {
		response["hits"] = result.Hits
	}
	c.JSON(http.StatusOK, response)
}

func (h *APIHandler) GetGroup(c *gin.Context) {
	group, err := h.groups.GetByID(c.Request.Context(), c.Param("projectID"), c.Param("groupID"))
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// UpdateGroupStatus moves a group between triage states.
func (h *APIHandler) UpdateGroupStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	status, err := domain.ParseGroupStatus(body.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groups.UpdateStatus(c.Request.Context(), c.Param("projectID"), c.Param("groupID"), status)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update group"})
		return
	}

	h.logger.Info("group status updated",
		zap.String("project_id", group.ProjectID),
		zap.String("group_id", group.ID),
		zap.String("status", body.Status),
		zap.String("by", auth.CallerUID(c)))
	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *APIHandler) ListGroupReports(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), 50, maxPageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	projectID := c.Param("projectID")
	groupID := c.Param("groupID")

	// A missing group reads better as 404 than as an empty list.
	if _, err := h.groups.GetByID(c.Request.Context(), projectID, groupID); err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get group"})
		return
	}

	reports, err := h.reports.ListByGroup(c.Request.Context(), projectID, groupID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *APIHandler) GetReport(c *gin.Context) {
	report, err := h.reports.GetByID(c.Request.Context(), c.Param("projectID"), c.Param("reportID"))
	if err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "fields": reportFields(report)})
}

// Feed returns the project's most recent reports from Redis.
func (h *APIHandler) Feed(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), 25, maxPageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.feed.Recent(c.Request.Context(), c.Param("projectID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read feed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed": entries})
}

// Stats summarizes a project: per-directive breakdown plus the last
// day's report volume.
func (h *APIHandler) Stats(c *gin.Context) {
	projectID := c.Param("projectID")
	ctx := c.Request.Context()

	directives, err := h.groups.CountByDirective(ctx, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	reports24h, err := h.reports.CountSince(ctx, projectID, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directives":  directives,
		"reports_24h": reports24h,
	})
}
