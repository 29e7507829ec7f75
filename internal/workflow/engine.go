// Package workflow turns a natural-language question about a dataset into
// an answer, by way of an unreliable code-generating oracle. The engine is
// a forward-only state machine: classify, enhance, then per branch a
// bounded generate/validate cycle followed by one sandboxed execution, with
// the data and chart branches running independently and joining for
// synthesis.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mpataki/stride/internal/chart"
	"github.com/mpataki/stride/internal/dataset"
	"github.com/mpataki/stride/internal/logging"
	"github.com/mpataki/stride/internal/oracle"
	"github.com/mpataki/stride/internal/sandbox"
	"github.com/mpataki/stride/internal/scratch"
	"github.com/mpataki/stride/internal/validator"
)

const sampleRows = 5

type Options struct {
	Oracle   oracle.Client
	Executor *sandbox.Executor

	// Charts is the optional latest-chart slot; last completed run wins.
	Charts chart.Store
	// ScratchDir is where per-run artifacts land. Empty disables scratch
	// output.
	ScratchDir string

	MaxGenerationAttempts int
	MaxExecRegenerations  int

	Logger *slog.Logger
}

type Engine struct {
	oracle       oracle.Client
	exec         *sandbox.Executor
	charts       chart.Store
	scratchDir   string
	maxAttempts  int
	maxExecRegen int
	logger       *slog.Logger
}

func New(opts Options) *Engine {
	if opts.MaxGenerationAttempts <= 0 {
		opts.MaxGenerationAttempts = 3
	}
	if opts.MaxExecRegenerations < 0 {
		opts.MaxExecRegenerations = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Executor == nil {
		opts.Executor = sandbox.New(sandbox.Options{}, opts.Logger)
	}
	return &Engine{
		oracle:       opts.Oracle,
		exec:         opts.Executor,
		charts:       opts.Charts,
		scratchDir:   opts.ScratchDir,
		maxAttempts:  opts.MaxGenerationAttempts,
		maxExecRegen: opts.MaxExecRegenerations,
		logger:       opts.Logger,
	}
}

// runState bundles what every stage of one run needs. The dataset is
// borrowed read-only for the duration of the call.
type runState struct {
	run        *Run
	ds         *dataset.Dataset
	schemaDesc string
	sample     string
	val        *validator.Validator
	ws         *scratch.Workspace
}

// Run executes the full workflow for one query. It always returns a Run
// with a populated Result; total failure degrades to an apology, never to
// an error.
func (e *Engine) Run(ctx context.Context, queryText string, ds *dataset.Dataset, includeChart bool) *Run {
	start := time.Now()

	st := &runState{
		run:        &Run{Query: NewQuery(queryText, includeChart), Schema: ds.Schema()},
		ds:         ds,
		schemaDesc: ds.Schema().Describe(),
		sample:     ds.Sample(sampleRows),
	}
	st.val = validator.New(st.run.Schema)

	if e.scratchDir != "" {
		ws, err := scratch.Create(e.scratchDir, st.run.Query.ID)
		if err != nil {
			e.logger.Warn("failed to create scratch dir", "error", err)
		} else {
			st.ws = ws
		}
	}

	logger := e.logger.With("run", st.run.Query.ID)
	logger.Info("workflow started", "query", queryText, "include_chart", includeChart)

	st.run.Intent = e.classify(ctx, st.run.Query)
	if !includeChart {
		st.run.Intent.NeedsChart = false
	}
	if !st.run.Intent.NeedsData && !st.run.Intent.NeedsChart {
		st.run.Intent.NeedsData = true
	}
	logger.Debug("classified", "needs_data", st.run.Intent.NeedsData, "needs_chart", st.run.Intent.NeedsChart)

	st.run.Enhanced = e.enhance(ctx, st)

	// The branches are independent: one exhausting its retries must not
	// abort the other.
	var wg sync.WaitGroup
	if st.run.Intent.NeedsData {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.run.Data = e.runBranch(ctx, st, e.dataOps(st))
		}()
	}
	if st.run.Intent.NeedsChart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.run.Chart = e.runBranch(ctx, st, e.chartOps(st))
		}()
	}
	wg.Wait()

	st.run.Result = e.synthesize(ctx, st.run, start)
	logger.Info("workflow finished",
		"succeeded", st.run.Result.Succeeded,
		"duration", st.run.Result.Duration,
		"error", st.run.Result.Err)
	return st.run
}

func (e *Engine) classify(ctx context.Context, q Query) oracle.Intent {
	intent, _, err := retryWithFeedback(ctx, e.maxAttempts, feedback{},
		func(ctx context.Context, _ int, _ feedback) (oracle.Intent, error) {
			return e.oracle.Classify(ctx, q.Text)
		})
	if err != nil {
		// Classification must always produce an intent; fall back to a
		// data answer plus whatever the caller asked for.
		e.logger.Warn("classify failed, defaulting", "error", err)
		return oracle.Intent{NeedsData: true, NeedsChart: q.WantsChart}
	}
	return intent
}

func (e *Engine) enhance(ctx context.Context, st *runState) string {
	enhanced, _, err := retryWithFeedback(ctx, e.maxAttempts, feedback{},
		func(ctx context.Context, _ int, _ feedback) (string, error) {
			return e.oracle.Enhance(ctx, st.run.Query.Text, st.schemaDesc, st.sample, st.run.Intent.NeedsChart)
		})
	if err != nil {
		// Generation can still work from the raw query.
		e.logger.Warn("enhance failed, using raw query", "error", err)
		return st.run.Query.Text
	}
	return enhanced
}

// branchOps is the per-branch strategy: how to validate and how to execute.
// Everything else about a branch is shared.
type branchOps struct {
	kind    oracle.CodeKind
	check   func(code string) validator.Verdict
	execute func(ctx context.Context, code string) (*ExecutionResult, error)
}

func (e *Engine) dataOps(st *runState) branchOps {
	return branchOps{
		kind:  oracle.DataCode,
		check: st.val.CheckData,
		execute: func(ctx context.Context, code string) (*ExecutionResult, error) {
			res, err := e.exec.RunData(ctx, code, st.ds)
			if err != nil {
				return nil, err
			}
			return &ExecutionResult{Value: res.Value, Duration: res.Duration}, nil
		},
	}
}

func (e *Engine) chartOps(st *runState) branchOps {
	return branchOps{
		kind:  oracle.ChartCode,
		check: st.val.CheckChart,
		execute: func(ctx context.Context, code string) (*ExecutionResult, error) {
			res, err := e.exec.RunChart(ctx, code, st.ds)
			if err != nil {
				return nil, err
			}
			png, err := chart.Render(*res.Chart)
			if err != nil {
				// Same family as a contract violation: the code ran but its
				// chart spec was unusable.
				return nil, err
			}

			out := &ExecutionResult{ChartPNG: png, Duration: res.Duration}
			if st.ws != nil {
				path, werr := st.ws.WriteChart(png)
				if werr != nil {
					e.logger.Warn("failed to write chart artifact", "error", werr)
				} else {
					out.ChartPath = path
				}
			}
			if e.charts != nil {
				if perr := e.charts.Put(png); perr != nil {
					e.logger.Warn("failed to update latest chart", "error", perr)
				}
			}
			return out, nil
		},
	}
}

// runBranch drives one branch to completion: a bounded generate/validate
// cycle, exactly one execution per accepted artifact, and a bounded number
// of regeneration rounds when validated code still fails at runtime.
// Resource-limit violations end the branch immediately.
func (e *Engine) runBranch(ctx context.Context, st *runState, ops branchOps) BranchOutcome {
	outcome := BranchOutcome{Requested: true}
	attemptNum := 0
	execFeedback := feedback{}

	for round := 0; ; round++ {
		artifact, err := e.generateAccepted(ctx, st, ops, &outcome, &attemptNum, execFeedback)
		if err != nil {
			outcome.Err = &BranchError{Kind: ops.kind, Attempts: attemptNum, Err: err}
			return outcome
		}

		execRes, execErr := ops.execute(ctx, artifact.Source)
		if execErr == nil {
			execRes.Succeeded = true
			outcome.Exec = execRes
			return outcome
		}

		var limitErr *sandbox.ResourceLimitError
		if errors.As(execErr, &limitErr) {
			outcome.Exec = &ExecutionResult{Err: execErr.Error()}
			outcome.Err = &BranchError{Kind: ops.kind, Attempts: attemptNum, Err: execErr}
			return outcome
		}

		e.logger.Debug("execution failed", "kind", ops.kind, "error", execErr)
		if round < e.maxExecRegen {
			// The code was validated but still wrong; hand the runtime
			// failure back to the oracle as feedback.
			execFeedback = feedback{
				code:   artifact.Source,
				reason: "the code passed validation but failed during execution: " + execErr.Error(),
			}
			continue
		}

		outcome.Exec = &ExecutionResult{Err: execErr.Error()}
		outcome.Err = &BranchError{Kind: ops.kind, Attempts: attemptNum, Err: execErr}
		return outcome
	}
}

// generateAccepted loops generate → validate until an artifact is accepted
// or the budget runs out. Every generated artifact (and its verdict) goes
// into the run history.
func (e *Engine) generateAccepted(ctx context.Context, st *runState, ops branchOps, outcome *BranchOutcome, attemptNum *int, initial feedback) (Artifact, error) {
	artifact, _, err := retryWithFeedback(ctx, e.maxAttempts, initial,
		func(ctx context.Context, _ int, prior feedback) (Artifact, error) {
			code, err := e.oracle.Generate(ctx, oracle.GenerateRequest{
				Kind:          ops.kind,
				Query:         st.run.Enhanced,
				Schema:        st.schemaDesc,
				Sample:        st.sample,
				PriorCode:     prior.code,
				PriorFeedback: prior.reason,
			})
			if err != nil {
				return Artifact{}, err
			}

			*attemptNum++
			artifact := Artifact{Kind: ops.kind, Source: code, Attempt: *attemptNum}
			if st.ws != nil {
				if werr := st.ws.WriteArtifact(string(ops.kind), artifact.Attempt, code); werr != nil {
					e.logger.Warn("failed to write artifact", "error", werr)
				}
			}

			verdict := ops.check(code)
			outcome.Attempts = append(outcome.Attempts, AttemptRecord{Artifact: artifact, Verdict: verdict})
			if !verdict.Accepted {
				e.logger.Debug("artifact rejected", "kind", ops.kind, "attempt", artifact.Attempt, "reason", verdict.Reason)
				return Artifact{}, &rejection{code: code, reason: verdict.Reason}
			}
			return artifact, nil
		})
	return artifact, err
}

// synthesize joins the branch outcomes into the final result. It never
// fails: if the oracle is unreachable the answer degrades to whatever the
// branches produced, or to an apology naming what went wrong.
func (e *Engine) synthesize(ctx context.Context, run *Run, start time.Time) Result {
	req := oracle.SynthesizeRequest{
		Query:  run.Query.Text,
		Schema: run.Schema.Describe(),
	}
	if run.Data.Succeeded() {
		req.DataOutput = run.Data.Exec.Value
	} else if run.Data.Requested {
		req.DataError = run.Data.Err.Error()
	}
	if run.Chart.Succeeded() {
		req.ChartDone = true
	} else if run.Chart.Requested {
		req.ChartError = run.Chart.Err.Error()
	}

	res := Result{
		Succeeded: run.Data.Succeeded() || run.Chart.Succeeded(),
	}
	if run.Chart.Succeeded() {
		res.ChartPNG = run.Chart.Exec.ChartPNG
		res.ChartPath = run.Chart.Exec.ChartPath
	}

	var failures []string
	if run.Data.Requested && !run.Data.Succeeded() {
		failures = append(failures, run.Data.Err.Error())
	}
	if run.Chart.Requested && !run.Chart.Succeeded() {
		failures = append(failures, run.Chart.Err.Error())
	}
	res.Err = strings.Join(failures, "; ")

	text, _, err := retryWithFeedback(ctx, e.maxAttempts, feedback{},
		func(ctx context.Context, _ int, _ feedback) (string, error) {
			return e.oracle.Synthesize(ctx, req)
		})
	if err != nil {
		e.logger.Warn("synthesize failed, using fallback text", "error", err)
		text = fallbackText(run)
	}
	res.Text = text
	res.Duration = time.Since(start)
	return res
}

// fallbackText builds a deterministic answer when the synthesis call itself
// is unavailable.
func fallbackText(run *Run) string {
	var b strings.Builder
	if run.Data.Succeeded() {
		b.WriteString(run.Data.Exec.Value)
	}
	if run.Chart.Succeeded() {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("A chart for your query is attached.")
	}
	if b.Len() > 0 {
		return b.String()
	}
	reason := "the analysis could not be completed"
	if run.Data.Err != nil {
		reason = run.Data.Err.Error()
	} else if run.Chart.Err != nil {
		reason = run.Chart.Err.Error()
	}
	return "Sorry, I couldn't answer that: " + reason
}
