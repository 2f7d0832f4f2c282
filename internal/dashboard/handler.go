package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/search"
	"github.com/cspwatch/cspwatch/internal/view"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

const detailReportLimit = 20

// GroupSearcher pages through violation groups.
type GroupSearcher interface {
	Query(ctx context.Context, q search.Query) (*search.Result, error)
}

// GroupStore loads single groups.
type GroupStore interface {
	GetByID(ctx context.Context, projectID, id string) (*domain.Group, error)
}

// ReportStore loads the stored reports behind a group.
type ReportStore interface {
	GetByID(ctx context.Context, projectID, id string) (*domain.Report, error)
	ListByGroup(ctx context.Context, projectID, groupID string, limit int) ([]domain.Report, error)
}

// Handler serves the server-rendered triage pages.
type Handler struct {
	search   GroupSearcher
	groups   GroupStore
	reports  ReportStore
	projects []string
	logger   *zap.Logger
}

func NewHandler(searcher GroupSearcher, groups GroupStore, reports ReportStore, projects []string, logger *zap.Logger) *Handler {
	sorted := append([]string(nil), projects...)
	sort.Strings(sorted)
	return &Handler{
		search:   searcher,
		groups:   groups,
		reports:  reports,
		projects: sorted,
		logger:   logger,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.Index)
	r.GET("/:projectID", h.Groups)
	r.GET("/:projectID/groups/:groupID", h.GroupDetail)
	r.GET("/:projectID/reports/:reportID", h.ReportDetail)
}

type indexPage struct {
	Projects []string
}

type navLink struct {
	Label  string
	URL    string
	Active bool
}

type groupsPage struct {
	ProjectID string
	Query     string
	Statuses  []navLink
	Sorts     []navLink
	Groups    []domain.Group
	Next      string
	Prev      string
}

type reportSection struct {
	ReportID   string
	ReceivedAt time.Time
	HTML       template.HTML
}

type groupPage struct {
	ProjectID string
	Group     *domain.Group
	Reports   []reportSection
}

type reportPage struct {
	ProjectID string
	Report    *domain.Report
	HTML      template.HTML
}

// Index lists the configured projects.
func (h *Handler) Index(c *gin.Context) {
	h.render(c, http.StatusOK, "index", indexPage{Projects: h.projects})
}

// Groups renders one page of a project's violation groups with the
// status and sort filters applied.
func (h *Handler) Groups(c *gin.Context) {
	projectID := c.Param("projectID")

	q := search.Query{
		ProjectID: projectID,
		Substring: c.Query("query"),
	}

	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseGroupStatus(raw)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		q.Statuses = []domain.GroupStatus{status}
	}

	sortKey, err := search.ParseSortKey(c.Query("sort"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	q.Sort = sortKey

	cursor, err := search.ParseCursor(c.Query("cursor"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	q.Cursor = cursor

	result, err := h.search.Query(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("dashboard group search",
			zap.String("project_id", projectID),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "search failed")
		return
	}

	page := groupsPage{
		ProjectID: projectID,
		Query:     c.Query("query"),
		Statuses:  statusLinks(c),
		Sorts:     sortLinks(c, sortKey),
		Groups:    result.Groups,
		Next:      cursorURL(c, result.Next),
		Prev:      cursorURL(c, result.Prev),
	}
	h.render(c, http.StatusOK, "groups", page)
}

// GroupDetail renders a group header plus a directive section for each
// of its recent reports.
func (h *Handler) GroupDetail(c *gin.Context) {
	projectID := c.Param("projectID")
	groupID := c.Param("groupID")
	ctx := c.Request.Context()

	group, err := h.groups.GetByID(ctx, projectID, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			c.String(http.StatusNotFound, "group not found")
			return
		}
		h.logger.Error("dashboard group lookup",
			zap.String("group_id", groupID),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to load group")
		return
	}

	reports, err := h.reports.ListByGroup(ctx, projectID, groupID, detailReportLimit)
	if err != nil {
		h.logger.Error("dashboard report list",
			zap.String("group_id", groupID),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to load reports")
		return
	}

	sections := make([]reportSection, 0, len(reports))
	for _, report := range reports {
		html, err := renderReport(report)
		if err != nil {
			h.logger.Warn("render report section",
				zap.String("report_id", report.ID),
				zap.Error(err))
			continue
		}
		sections = append(sections, reportSection{
			ReportID:   report.ID,
			ReceivedAt: report.ReceivedAt,
			HTML:       html,
		})
	}

	page := groupPage{
		ProjectID: projectID,
		Group:     group,
		Reports:   sections,
	}
	h.render(c, http.StatusOK, "group", page)
}

// ReportDetail renders a single stored report with its directive section.
func (h *Handler) ReportDetail(c *gin.Context) {
	projectID := c.Param("projectID")
	reportID := c.Param("reportID")

	report, err := h.reports.GetByID(c.Request.Context(), projectID, reportID)
	if err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			c.String(http.StatusNotFound, "report not found")
			return
		}
		h.logger.Error("dashboard report lookup",
			zap.String("report_id", reportID),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to load report")
		return
	}

	html, err := renderReport(*report)
	if err != nil {
		h.logger.Warn("render report section",
			zap.String("report_id", report.ID),
			zap.Error(err))
	}

	page := reportPage{
		ProjectID: projectID,
		Report:    report,
		HTML:      html,
	}
	h.render(c, http.StatusOK, "report", page)
}

// renderReport turns a stored report's field mapping into the directive
// section markup.
func renderReport(report domain.Report) (template.HTML, error) {
	data := view.ReportData{}
	if len(report.Fields) > 0 {
		if err := json.Unmarshal(report.Fields, &data); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	if err := (view.DirectiveView{Data: data}).Render(&buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (h *Handler) render(c *gin.Context, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("execute template",
			zap.String("template", name),
			zap.Error(err))
		c.String(http.StatusInternalServerError, "template error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func statusLinks(c *gin.Context) []navLink {
	current := c.Query("status")
	links := []navLink{{Label: "all", URL: filterURL(c, "status", ""), Active: current == ""}}
	for _, status := range []domain.GroupStatus{domain.StatusUnresolved, domain.StatusResolved, domain.StatusIgnored} {
		name := status.String()
		links = append(links, navLink{
			Label:  name,
			URL:    filterURL(c, "status", name),
			Active: current == name,
		})
	}
	return links
}

func sortLinks(c *gin.Context, current search.SortKey) []navLink {
	keys := []search.SortKey{search.SortPriority, search.SortDate, search.SortNew, search.SortFreq}
	links := make([]navLink, 0, len(keys))
	for _, key := range keys {
		links = append(links, navLink{
			Label:  string(key),
			URL:    filterURL(c, "sort", string(key)),
			Active: key == current,
		})
	}
	return links
}

// filterURL rebuilds the current page URL with one parameter changed.
// Changing a filter invalidates the cursor, so it is dropped.
func filterURL(c *gin.Context, key, value string) string {
	params := cloneQuery(c)
	params.Del("cursor")
	if value == "" {
		params.Del(key)
	} else {
		params.Set(key, value)
	}
	return pageURL(c.Request.URL.Path, params)
}

func cursorURL(c *gin.Context, cursor *search.Cursor) string {
	if cursor == nil {
		return ""
	}
	params := cloneQuery(c)
	params.Set("cursor", cursor.String())
	return pageURL(c.Request.URL.Path, params)
}

func cloneQuery(c *gin.Context) url.Values {
	params := url.Values{}
	for key, values := range c.Request.URL.Query() {
		params[key] = append([]string(nil), values...)
	}
	return params
}

func pageURL(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
