package object

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// rollback collects undo steps for blobs written during a create. Unless
// discharged, run executes them newest first.
type rollback struct {
	steps []rollbackStep
}

type rollbackStep struct {
	label string
	undo  func(ctx context.Context) error
}

func (r *rollback) add(label string, undo func(ctx context.Context) error) {
	r.steps = append(r.steps, rollbackStep{label: label, undo: undo})
}

// discharge marks the work as committed; run becomes a no-op.
func (r *rollback) discharge() {
	r.steps = nil
}

// run undoes every pending step. It keeps going past failures and ignores
// cancellation of ctx so a disconnected client cannot leave orphans behind.
func (r *rollback) run(ctx context.Context) error {
	if len(r.steps) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)

	var result *multierror.Error
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.undo(ctx); err != nil {
			logger.Warn().Err(err).Str("blob", step.label).Msg("rollback: remove orphaned blob")
			result = multierror.Append(result, fmt.Errorf("%s: %w", step.label, err))
		}
	}
	r.steps = nil
	return result.ErrorOrNil()
}
