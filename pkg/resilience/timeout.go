package resilience

import (
	"context"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// WithTimeout runs fn with a context cancelled after timeout. A deadline hit
// is reported as errors.ErrTimeout; a cancelled parent is passed through.
// fn must honour ctx: WithTimeout does not return before fn does.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return apperrors.Newf(apperrors.ErrTimeout, "", "%s exceeded %v", name, timeout)
	}
	return err
}
