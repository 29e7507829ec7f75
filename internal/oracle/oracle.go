package oracle

import (
	"context"
	"errors"
)

var (
	ErrUnauthorized  = errors.New("oracle unauthorized")
	ErrUnavailable   = errors.New("oracle unavailable")
	ErrRateLimited   = errors.New("oracle rate limited")
	ErrEmptyResponse = errors.New("oracle returned empty response")
)

// CodeKind selects which kind of artifact a generation request asks for.
type CodeKind string

const (
	DataCode  CodeKind = "data"
	ChartCode CodeKind = "chart"
)

// Intent is the classification of a user query.
type Intent struct {
	NeedsData  bool
	NeedsChart bool
}

// GenerateRequest carries everything the oracle needs to produce code. On a
// retry, PriorCode and PriorFeedback hold the rejected attempt and the
// reason, so the model can self-correct.
type GenerateRequest struct {
	Kind          CodeKind
	Query         string
	Schema        string
	Sample        string
	PriorCode     string
	PriorFeedback string
}

// SynthesizeRequest carries the branch outcomes for the final answer.
type SynthesizeRequest struct {
	Query      string
	Schema     string
	DataOutput string
	DataError  string
	ChartDone  bool
	ChartError string
}

// Client is the stateless request/response surface over the language model.
// Implementations must surface provider failures and garbled responses as
// errors, never as usable output.
type Client interface {
	Classify(ctx context.Context, query string) (Intent, error)
	Enhance(ctx context.Context, query, schema, sample string, wantsChart bool) (string, error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (string, error)
}
