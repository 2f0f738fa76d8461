package storage

import "time"

// Finding is one normalized drift finding from a reconciliation run.
type Finding struct {
	RepoKey string
	Type    string // stale_target | untracked_repo | stale_file | untracked_file | duplicate_project | unresolvable_target
	Detail  string // file path, project name, or target id, depending on type
	OrgID   string
}

// Change captures a single drift delta between runs for auditing or printing.
type Change struct {
	OccurredAt time.Time
	RepoKey    string
	Type       string
	Detail     string
	OrgID      string
	ChangeType string // added | removed
}
