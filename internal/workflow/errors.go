package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mpataki/stride/internal/oracle"
)

var (
	// ErrRetryBudgetExhausted wraps the last failure after a stage has used
	// all of its attempts.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// rejection is a validator (or execution) failure carried between attempts
// so the next generation call can see the prior code and the reason it was
// turned down.
type rejection struct {
	code   string
	reason string
}

func (r *rejection) Error() string {
	return r.reason
}

// BranchError reports the failure of a single branch without aborting its
// sibling.
type BranchError struct {
	Kind     oracle.CodeKind
	Attempts int
	Err      error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s branch failed after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// isTransient reports whether an oracle failure should be retried within
// the stage budget. Auth failures are not going to fix themselves.
func isTransient(err error) bool {
	return errors.Is(err, oracle.ErrUnavailable) ||
		errors.Is(err, oracle.ErrRateLimited) ||
		errors.Is(err, oracle.ErrEmptyResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}
