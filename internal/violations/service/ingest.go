// Package service folds incoming CSP reports into violation groups.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/cspreport"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

// GroupStore is the slice of the group repository ingestion needs.
type GroupStore interface {
	Fold(ctx context.Context, seed repository.GroupSeed) (*domain.Group, error)
}

// ReportStore is the slice of the report repository ingestion needs.
type ReportStore interface {
	Insert(ctx context.Context, report *domain.Report) error
}

// FeedPusher publishes stored reports to the live feed.
type FeedPusher interface {
	Push(ctx context.Context, entry domain.FeedEntry) error
}

// Service turns parsed wire reports into stored groups and reports.
type Service struct {
	groups  GroupStore
	reports ReportStore
	feed    FeedPusher
	logger  *zap.Logger
}

func NewService(groups GroupStore, reports ReportStore, feed FeedPusher, logger *zap.Logger) *Service {
	return &Service{
		groups:  groups,
		reports: reports,
		feed:    feed,
		logger:  logger,
	}
}

// Process validates, groups, and stores one report. reportedBy is the
// delivering client's address, kept for abuse triage. The live feed is
// best effort: losing Redis must not drop reports.
func (s *Service) Process(ctx context.Context, projectID string, report *cspreport.Report, userAgent, reportedBy string) (*domain.Report, *domain.Group, error) {
	if err := report.Validate(); err != nil {
		return nil, nil, err
	}

	directive := report.Directive()
	blockedHost := cspreport.NormalizeBlockedURI(report.BlockedURI, report.DocumentURI)
	receivedAt := time.Now().UTC()

	group, err := s.groups.Fold(ctx, repository.GroupSeed{
		ProjectID:          projectID,
		Fingerprint:        Fingerprint(directive, blockedHost),
		EffectiveDirective: directive,
		BlockedHost:        blockedHost,
		SeenAt:             receivedAt,
	})
	if err != nil {
		return nil, nil, err
	}

	fields, err := json.Marshal(report.Fields())
	if err != nil {
		return nil, nil, fmt.Errorf("encode report fields: %w", err)
	}

	stored := &domain.Report{
		GroupID:            group.ID,
		ProjectID:          projectID,
		ReceivedAt:         receivedAt,
		EffectiveDirective: directive,
		BlockedURI:         report.BlockedURI,
		DocumentURI:        report.DocumentURI,
		Disposition:        report.Disposition,
		UserAgent:          userAgent,
		ReportedBy:         reportedBy,
		Fields:             fields,
	}
	if err := s.reports.Insert(ctx, stored); err != nil {
		return nil, nil, err
	}

	if err := s.feed.Push(ctx, domain.FeedEntry{
		ReportID:   stored.ID,
		GroupID:    group.ID,
		ProjectID:  projectID,
		Directive:  directive,
		BlockedURI: report.BlockedURI,
		ReceivedAt: receivedAt,
	}); err != nil {
		s.logger.Warn("feed push failed",
			zap.String("project_id", projectID),
			zap.String("group_id", group.ID),
			zap.Error(err),
		)
	}

	return stored, group, nil
}
