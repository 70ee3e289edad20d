package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// Report aggregates every report filed against one user.
// ReporterUsername, Reason and ReportedAt are parallel arrays: index i of each
// describes the same report. Amt equals their length.
type Report struct {
	ReportedUserID   string                      `gorm:"type:varchar(64);primaryKey" json:"reported_user_id"`
	ReportedUsername string                      `gorm:"type:varchar(100)" json:"reported_username"`
	ReporterUsername datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"reporter_username"`
	Reason           datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"reason"`
	ReportedAt       datatypes.JSONSlice[string] `gorm:"column:created_at;type:jsonb" json:"created_at"`
	Amt              int                         `gorm:"not null;default:0;index" json:"amt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// TableName pins the table name.
func (Report) TableName() string {
	return "reports"
}

// NewReport starts an aggregate with a single report.
func NewReport(reportedUserID, reportedUsername, reporter, reason string, at time.Time) *Report {
	r := &Report{ReportedUserID: reportedUserID, ReportedUsername: reportedUsername}
	r.Append(reporter, reason, at)
	return r
}

// HasReporter reports whether username has already reported this user.
func (r *Report) HasReporter(username string) bool {
	return slices.Contains(r.ReporterUsername, username)
}

// Append adds one report to all three arrays and bumps Amt.
func (r *Report) Append(reporter, reason string, at time.Time) {
	r.ReporterUsername = append(slices.Clone(r.ReporterUsername), reporter)
	r.Reason = append(slices.Clone(r.Reason), reason)
	r.ReportedAt = append(slices.Clone(r.ReportedAt), at.UTC().Format(time.RFC3339))
	r.Amt++
}

// Aligned reports whether the parallel arrays have matching lengths.
func (r *Report) Aligned() bool {
	n := len(r.ReporterUsername)
	return len(r.Reason) == n && len(r.ReportedAt) == n && r.Amt == n
}
