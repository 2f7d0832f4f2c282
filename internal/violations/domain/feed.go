package domain

import "time"

// FeedEntry is the slim per-report record kept in the live feed and
// published to feed subscribers.
type FeedEntry struct {
	ReportID   string    `json:"report_id"`
	GroupID    string    `json:"group_id"`
	ProjectID  string    `json:"project_id"`
	Directive  string    `json:"directive"`
	BlockedURI string    `json:"blocked_uri"`
	ReceivedAt time.Time `json:"received_at"`
}
