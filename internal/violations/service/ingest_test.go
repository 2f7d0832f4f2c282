package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/cspreport"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

type fakeGroups struct {
	seed repository.GroupSeed
	err  error
}

func (f *fakeGroups) Fold(_ context.Context, seed repository.GroupSeed) (*domain.Group, error) {
	f.seed = seed
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Group{
		ID:                 "group-1",
		ProjectID:          seed.ProjectID,
		Fingerprint:        seed.Fingerprint,
		EffectiveDirective: seed.EffectiveDirective,
		BlockedHost:        seed.BlockedHost,
		TimesSeen:          1,
	}, nil
}

type fakeReports struct {
	inserted *domain.Report
	err      error
}

func (f *fakeReports) Insert(_ context.Context, report *domain.Report) error {
	if f.err != nil {
		return f.err
	}
	report.ID = "report-1"
	f.inserted = report
	return nil
}

type fakeFeed struct {
	pushed []domain.FeedEntry
	err    error
}

func (f *fakeFeed) Push(_ context.Context, entry domain.FeedEntry) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, entry)
	return nil
}

func newTestService() (*Service, *fakeGroups, *fakeReports, *fakeFeed) {
	groups := &fakeGroups{}
	reports := &fakeReports{}
	feed := &fakeFeed{}
	return NewService(groups, reports, feed, zap.NewNop()), groups, reports, feed
}

func scriptReport() *cspreport.Report {
	return &cspreport.Report{
		DocumentURI:        "https://app.example/checkout",
		EffectiveDirective: "script-src",
		ViolatedDirective:  "script-src 'self'",
		BlockedURI:         "https://evil.example/payload.js",
		Disposition:        "enforce",
	}
}

func TestProcess_StoresGroupReportAndFeed(t *testing.T) {
	svc, groups, reports, feed := newTestService()

	stored, group, err := svc.Process(context.Background(), "web", scriptReport(), "Mozilla/5.0", "203.0.113.50")
	require.NoError(t, err)

	assert.Equal(t, "script-src", groups.seed.EffectiveDirective)
	assert.Equal(t, "https://evil.example", groups.seed.BlockedHost)
	assert.Equal(t, Fingerprint("script-src", "https://evil.example"), groups.seed.Fingerprint)

	require.NotNil(t, reports.inserted)
	assert.Equal(t, "group-1", stored.GroupID)
	assert.Equal(t, "web", stored.ProjectID)
	assert.Equal(t, "Mozilla/5.0", stored.UserAgent)
	assert.Equal(t, "203.0.113.50", stored.ReportedBy)
	assert.Equal(t, "group-1", group.ID)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(stored.Fields, &fields))
	assert.Equal(t, "script-src", fields["effective_directive"])
	assert.Equal(t, "https://evil.example/payload.js", fields["blocked_uri"])

	require.Len(t, feed.pushed, 1)
	assert.Equal(t, "report-1", feed.pushed[0].ReportID)
	assert.Equal(t, "script-src", feed.pushed[0].Directive)
}

func TestProcess_RejectsInvalidReport(t *testing.T) {
	svc, groups, _, _ := newTestService()

	_, _, err := svc.Process(context.Background(), "web", &cspreport.Report{}, "", "")
	assert.ErrorIs(t, err, cspreport.ErrNoDirective)
	assert.Empty(t, groups.seed.ProjectID)
}

func TestProcess_FeedFailureDoesNotDropReport(t *testing.T) {
	svc, _, reports, feed := newTestService()
	feed.err = errors.New("redis down")

	stored, _, err := svc.Process(context.Background(), "web", scriptReport(), "", "")
	require.NoError(t, err)
	assert.NotNil(t, reports.inserted)
	assert.Equal(t, "report-1", stored.ID)
}

func TestProcess_GroupFailureAborts(t *testing.T) {
	svc, groups, reports, _ := newTestService()
	groups.err = errors.New("db down")

	_, _, err := svc.Process(context.Background(), "web", scriptReport(), "", "")
	assert.Error(t, err)
	assert.Nil(t, reports.inserted)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("script-src", "https://evil.example")
	b := Fingerprint("script-src", "https://evil.example")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Fingerprint("style-src", "https://evil.example"))
	assert.NotEqual(t, a, Fingerprint("script-src", "https://other.example"))
	// Separator keeps shifted splits distinct.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestScore_WeighsFrequencyAndRecency(t *testing.T) {
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	base := Score(1, at)
	assert.Equal(t, at.Unix(), base)

	louder := Score(100, at)
	assert.Equal(t, at.Unix()+1200, louder)

	fresher := Score(1, at.Add(time.Hour))
	assert.Greater(t, fresher, base)
}
