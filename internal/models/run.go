package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one workflow run: the question asked, what
// came back, and where the chart (if any) landed. It is an audit log owned
// by the CLI, not state the engine reads back.
type Run struct {
	ID          int64
	UID         string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Query       string
	Status      RunStatus
	Response    string
	ChartPath   string
	Error       string
	DurationMS  int64
}
