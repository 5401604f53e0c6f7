package controller

import (
	"context"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// ItemFunc applies one batch item and reports whether it succeeded.
type ItemFunc func(ctx context.Context, ref domain.ComponentRef) (bool, error)

// RunBatch applies fn to refs in order. The context is checked before each
// item; on cancellation it returns the count so far and ctx.Err().
// progress is called after every processed item, successful or not.
// An error from fn stops the batch.
func RunBatch(ctx context.Context, refs []domain.ComponentRef, fn ItemFunc, progress domain.ProgressFunc) (int, error) {
	succeeded := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return succeeded, err
		}

		ok, err := fn(ctx, ref)
		if err != nil {
			return succeeded, err
		}
		if ok {
			succeeded++
		}
		if progress != nil {
			progress(ref)
		}
	}
	return succeeded, nil
}
