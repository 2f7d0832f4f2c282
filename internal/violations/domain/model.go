// Package domain defines the stored shapes for CSP violation groups and
// the individual reports folded into them.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrGroupNotFound  = errors.New("violation group not found")
	ErrReportNotFound = errors.New("violation report not found")
)

// GroupStatus tracks the triage state of a violation group. Groups in
// the three lifecycle states past Ignored are hidden from default
// searches.
type GroupStatus int16

const (
	StatusUnresolved GroupStatus = iota
	StatusResolved
	StatusIgnored
	StatusPendingDeletion
	StatusDeletionInProgress
	StatusPendingMerge
)

func (s GroupStatus) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusResolved:
		return "resolved"
	case StatusIgnored:
		return "ignored"
	case StatusPendingDeletion:
		return "pending_deletion"
	case StatusDeletionInProgress:
		return "deletion_in_progress"
	case StatusPendingMerge:
		return "pending_merge"
	default:
		return fmt.Sprintf("unknown(%d)", int16(s))
	}
}

// ParseGroupStatus maps the API's status names back to the enum.
func ParseGroupStatus(name string) (GroupStatus, error) {
	switch name {
	case "unresolved":
		return StatusUnresolved, nil
	case "resolved":
		return StatusResolved, nil
	case "ignored":
		return StatusIgnored, nil
	case "pending_deletion":
		return StatusPendingDeletion, nil
	case "deletion_in_progress":
		return StatusDeletionInProgress, nil
	case "pending_merge":
		return StatusPendingMerge, nil
	default:
		return 0, fmt.Errorf("unknown group status %q", name)
	}
}

// Visible reports whether the status belongs in default search results.
func (s GroupStatus) Visible() bool {
	switch s {
	case StatusPendingDeletion, StatusDeletionInProgress, StatusPendingMerge:
		return false
	default:
		return true
	}
}

// Group is one distinct violation, keyed by directive and blocked host
// within a project. Score orders the priority sort and is recomputed on
// every fold.
type Group struct {
	ID                 string      `json:"id"`
	ProjectID          string      `json:"project_id"`
	Fingerprint        int64       `json:"-"`
	EffectiveDirective string      `json:"effective_directive"`
	BlockedHost        string      `json:"blocked_host"`
	Status             GroupStatus `json:"status"`
	StatusName         string      `json:"status_name,omitempty"`
	TimesSeen          int64       `json:"times_seen"`
	FirstSeen          time.Time   `json:"first_seen"`
	LastSeen           time.Time   `json:"last_seen"`
	Score              int64       `json:"score"`
}

// Report is one delivered violation after normalization. Fields holds
// the canonical snake_case field mapping rendered by the dashboard.
type Report struct {
	ID                 string    `json:"id"`
	GroupID            string    `json:"group_id"`
	ProjectID          string    `json:"project_id"`
	ReceivedAt         time.Time `json:"received_at"`
	EffectiveDirective string    `json:"effective_directive"`
	BlockedURI         string    `json:"blocked_uri"`
	DocumentURI        string    `json:"document_uri"`
	Disposition        string    `json:"disposition,omitempty"`
	UserAgent          string    `json:"user_agent,omitempty"`
	ReportedBy         string    `json:"reported_by,omitempty"`
	Fields             []byte    `json:"-"`
}
