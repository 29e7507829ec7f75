package models

import "time"

type Branch string

const (
	BranchData  Branch = "data"
	BranchChart Branch = "chart"
)

// Attempt records one generated artifact and its fate: the validator's
// verdict, or the execution failure that sent the branch back to the oracle.
type Attempt struct {
	ID         int64
	RunID      int64
	Branch     Branch
	AttemptNum int
	Code       string
	Accepted   bool
	Reason     string
	CreatedAt  time.Time
}
