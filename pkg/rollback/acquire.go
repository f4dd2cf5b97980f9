package rollback

import (
	"context"

	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/observability"
	"github.com/ttm56p/arsenic/pkg/telemetry"
)

// Step acquires one resource. Run returns the Closer releasing it, or nil
// when the step holds nothing afterwards (a readiness check, for example).
// A Closer returned together with an error is still rolled back.
type Step struct {
	Name string
	Run  func(ctx context.Context) (Closer, error)
}

// Acquire runs steps strictly in order. Each Closer is pushed as soon as its
// step returns, before the next step begins. If a step fails, ctx is
// cancelled, or a step panics, everything acquired so far is released in
// reverse order and the original failure is returned (or re-panicked);
// rollback failures are logged and never replace it. On success the
// caller owns the returned stack and nothing has been closed.
func Acquire(ctx context.Context, steps ...Step) (*Stack, error) {
	log := logging.FromContext(ctx)
	held := New()
	committed := false

	defer func() {
		if committed {
			return
		}
		r := recover()
		count := held.Len()
		failures := 0
		// Closers must run even when ctx is what failed.
		held.drain(context.WithoutCancel(ctx), func(index int, err error) {
			failures++
			log.RollbackFailed(index, err)
		})
		telemetry.FromContext(ctx).Publish(telemetry.Event{
			Type: telemetry.EventRollbackCompleted,
			Data: map[string]any{"closers": count, "failures": failures},
		})
		if r != nil {
			panic(r)
		}
	}()

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		closer, err := runStep(ctx, step)
		held.Push(closer)
		if err != nil {
			return nil, err
		}
		log.StepAcquired(step.Name, held.Len())
	}

	committed = true
	return held, nil
}

func runStep(ctx context.Context, step Step) (closer Closer, err error) {
	ctx, span := observability.StartSpan(ctx, "acquire."+step.Name)
	span.SetAttributes(observability.AttrStep.String(step.Name))
	defer func() { observability.EndSpan(span, err) }()
	return step.Run(ctx)
}
