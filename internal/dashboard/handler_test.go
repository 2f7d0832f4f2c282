package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/search"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

type fakeSearcher struct {
	got    search.Query
	result *search.Result
}

func (f *fakeSearcher) Query(_ context.Context, q search.Query) (*search.Result, error) {
	f.got = q
	if f.result != nil {
		return f.result, nil
	}
	return &search.Result{Groups: []domain.Group{}, Hits: -1}, nil
}

type fakeGroupStore struct {
	group *domain.Group
}

func (f *fakeGroupStore) GetByID(_ context.Context, _, id string) (*domain.Group, error) {
	if f.group == nil || f.group.ID != id {
		return nil, domain.ErrGroupNotFound
	}
	return f.group, nil
}

type fakeReportStore struct {
	reports []domain.Report
}

func (f *fakeReportStore) GetByID(_ context.Context, _, id string) (*domain.Report, error) {
	for i := range f.reports {
		if f.reports[i].ID == id {
			return &f.reports[i], nil
		}
	}
	return nil, domain.ErrReportNotFound
}

func (f *fakeReportStore) ListByGroup(_ context.Context, _, _ string, _ int) ([]domain.Report, error) {
	return f.reports, nil
}

type fixture struct {
	router   *gin.Engine
	searcher *fakeSearcher
	groups   *fakeGroupStore
	reports  *fakeReportStore
}

func newFixture(t *testing.T, projects []string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		searcher: &fakeSearcher{},
		groups:   &fakeGroupStore{},
		reports:  &fakeReportStore{},
	}

	router := gin.New()
	handler := NewHandler(f.searcher, f.groups, f.reports, projects, zap.NewNop())
	handler.Register(router.Group("/dashboard"))
	f.router = router
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestIndex_ListsProjectsSorted(t *testing.T) {
	f := newFixture(t, []string{"web", "admin"})

	rec := f.get("/dashboard/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/dashboard/admin">admin</a>`)
	assert.Contains(t, body, `<a href="/dashboard/web">web</a>`)
	assert.Less(t, strings.Index(body, "admin"), strings.Index(body, "web"))
}

func TestGroups_RendersTableWithFilters(t *testing.T) {
	f := newFixture(t, []string{"web"})
	f.searcher.result = &search.Result{
		Groups: []domain.Group{
			{
				ID:                 "g1",
				ProjectID:          "web",
				EffectiveDirective: "script-src",
				BlockedHost:        "evil.example",
				StatusName:         "unresolved",
				TimesSeen:          12,
				LastSeen:           time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC),
			},
		},
		Next: &search.Cursor{Value: 42},
		Hits: -1,
	}

	rec := f.get("/dashboard/web?status=unresolved&sort=freq")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := f.searcher.got
	assert.Equal(t, "web", got.ProjectID)
	assert.Equal(t, []domain.GroupStatus{domain.StatusUnresolved}, got.Statuses)
	assert.Equal(t, search.SortFreq, got.Sort)

	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/dashboard/web/groups/g1">script-src</a>`)
	assert.Contains(t, body, "evil.example")
	assert.Contains(t, body, ` class="active">unresolved</a>`)
	assert.Contains(t, body, ` class="active">freq</a>`)
	assert.Contains(t, body, "cursor=42%3A0%3A0")
}

func TestGroups_RejectsBadParams(t *testing.T) {
	f := newFixture(t, []string{"web"})

	for _, path := range []string{
		"/dashboard/web?cursor=bogus",
		"/dashboard/web?sort=velocity",
		"/dashboard/web?status=sleeping",
	} {
		t.Run(path, func(t *testing.T) {
			rec := f.get(path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGroupDetail_RendersDirectiveSections(t *testing.T) {
	f := newFixture(t, []string{"web"})
	f.groups.group = &domain.Group{
		ID:                 "g1",
		ProjectID:          "web",
		EffectiveDirective: "script-src",
		BlockedHost:        "evil.example",
		StatusName:         "unresolved",
		TimesSeen:          2,
		FirstSeen:          time.Date(2024, 5, 19, 8, 0, 0, 0, time.UTC),
		LastSeen:           time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC),
	}
	f.reports.reports = []domain.Report{
		{
			ID:         "r1",
			GroupID:    "g1",
			ReceivedAt: time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC),
			Fields: []byte(`{
				"blocked_uri": "https://evil.example/payload.js",
				"document_uri": "https://app.example/checkout",
				"effective_directive": "script-src",
				"line_number": 12
			}`),
		},
		{
			ID:      "r2",
			GroupID: "g1",
			Fields:  []byte(`{broken`),
		},
	}

	rec := f.get("/dashboard/web/groups/g1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, `<h3 class="directive-heading">script-src</h3>`)
	assert.Contains(t, body, `class="key-value context-data"`)
	assert.Contains(t, body, "<th scope=\"row\">blocked_uri</th>")
	assert.Contains(t, body, "<pre>https://evil.example/payload.js</pre>")
	assert.Contains(t, body, "<pre>12</pre>")

	// The report with undecodable fields is skipped, not fatal.
	assert.Equal(t, 1, strings.Count(body, `<article class="report">`))
	assert.NotContains(t, body, "r2")
}

func TestGroupDetail_NotFound(t *testing.T) {
	f := newFixture(t, []string{"web"})

	rec := f.get("/dashboard/web/groups/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportDetail_RendersReport(t *testing.T) {
	f := newFixture(t, []string{"web"})
	f.reports.reports = []domain.Report{
		{
			ID:                 "r1",
			GroupID:            "g1",
			ReceivedAt:         time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC),
			EffectiveDirective: "script-src",
			BlockedURI:         "https://evil.example",
			DocumentURI:        "https://app.example/checkout",
			Disposition:        "enforce",
			UserAgent:          "Mozilla/5.0 (test)",
			ReportedBy:         "203.0.113.50",
			Fields: []byte(`{
				"blocked_uri": "https://evil.example/payload.js",
				"effective_directive": "script-src"
			}`),
		},
	}

	rec := f.get("/dashboard/web/reports/r1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/dashboard/web/groups/g1">`)
	assert.Contains(t, body, "Report r1")
	assert.Contains(t, body, "203.0.113.50")
	assert.Contains(t, body, `<h3 class="directive-heading">script-src</h3>`)
	assert.Contains(t, body, "<pre>https://evil.example/payload.js</pre>")
}

func TestReportDetail_NotFound(t *testing.T) {
	f := newFixture(t, []string{"web"})

	rec := f.get("/dashboard/web/reports/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

