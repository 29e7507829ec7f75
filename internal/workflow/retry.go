package workflow

import (
	"context"
	"errors"
	"fmt"
)

// feedback is what an attempt learns from the previous one: the rejected
// code and the specific reason it was rejected.
type feedback struct {
	code   string
	reason string
}

// attemptFunc runs one attempt of a stage. Returning a *rejection marks the
// attempt as recoverable-with-feedback; transient oracle errors are retried
// without feedback; any other error aborts the stage.
type attemptFunc[T any] func(ctx context.Context, attempt int, prior feedback) (T, error)

// retryWithFeedback is the bounded retry combinator shared by every
// generation stage. The initial feedback seeds the first attempt, which is
// how execution failures of already-validated code reach the regeneration
// prompt. It returns the successful value, the number of attempts consumed,
// and the terminal error if the budget ran out.
func retryWithFeedback[T any](ctx context.Context, budget int, initial feedback, fn attemptFunc[T]) (T, int, error) {
	var zero T
	prior := initial
	var lastErr error

	for attempt := 1; attempt <= budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		v, err := fn(ctx, attempt, prior)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err

		var rej *rejection
		if errors.As(err, &rej) {
			prior = feedback{code: rej.code, reason: rej.reason}
			continue
		}
		if isTransient(err) {
			continue
		}
		return zero, attempt, err
	}

	return zero, budget, fmt.Errorf("%w after %d attempts: %v", ErrRetryBudgetExhausted, budget, lastErr)
}
