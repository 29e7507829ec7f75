package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/stride/internal/dataset"
	"github.com/mpataki/stride/internal/models"
	"github.com/mpataki/stride/internal/oracle"
	"github.com/mpataki/stride/internal/validator"
)

// Query is the immutable input to one workflow run.
type Query struct {
	ID         string
	Text       string
	WantsChart bool
}

func NewQuery(text string, wantsChart bool) Query {
	return Query{ID: uuid.NewString(), Text: text, WantsChart: wantsChart}
}

// Artifact is one generated code fragment. Every retry produces a fresh
// artifact with a bumped attempt number; earlier ones stay in the run
// history together with why they were rejected.
type Artifact struct {
	Kind    oracle.CodeKind
	Source  string
	Attempt int
}

// AttemptRecord pairs an artifact with its validation verdict.
type AttemptRecord struct {
	Artifact Artifact
	Verdict  validator.Verdict
}

// ExecutionResult is produced exactly once per accepted artifact.
type ExecutionResult struct {
	Succeeded bool
	Value     string
	ChartPNG  []byte
	ChartPath string
	Err       string
	Duration  time.Duration
}

// BranchOutcome is everything one branch (data or chart) produced.
type BranchOutcome struct {
	Requested bool
	Attempts  []AttemptRecord
	Exec      *ExecutionResult
	// Err is set when the branch failed outright: retry budget exhausted,
	// resource limit hit, or a fatal oracle error.
	Err error
}

func (b BranchOutcome) Succeeded() bool {
	return b.Requested && b.Err == nil && b.Exec != nil && b.Exec.Succeeded
}

// Run is the aggregate for one request. It lives for the duration of the
// call and is handed back to the caller for logging/persistence; the engine
// never reads it across requests.
type Run struct {
	Query    Query
	Schema   dataset.Schema
	Intent   oracle.Intent
	Enhanced string

	Data  BranchOutcome
	Chart BranchOutcome

	Result Result
}

// Result is the structured answer handed to collaborators.
type Result struct {
	Text      string
	ChartPNG  []byte
	ChartPath string
	Succeeded bool
	Err       string
	Duration  time.Duration
}

// AttemptModels flattens the run history into persistence records.
func (r *Run) AttemptModels(runID int64) []*models.Attempt {
	var out []*models.Attempt
	appendBranch := func(branch models.Branch, outcome BranchOutcome) {
		for _, rec := range outcome.Attempts {
			out = append(out, &models.Attempt{
				RunID:      runID,
				Branch:     branch,
				AttemptNum: rec.Artifact.Attempt,
				Code:       rec.Artifact.Source,
				Accepted:   rec.Verdict.Accepted,
				Reason:     rec.Verdict.Reason,
			})
		}
	}
	appendBranch(models.BranchData, r.Data)
	appendBranch(models.BranchChart, r.Chart)
	return out
}
