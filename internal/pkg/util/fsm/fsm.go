package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning handler to a looplab callback.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRealError reports whether err from FSM.Event is worth surfacing.
// NoTransitionError (src == dst) and CanceledError (guard refused) are
// expected outcomes of driving a machine from a poll loop.
func IsRealError(err error) bool {
	if err == nil {
		return false
	}

	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError

	if errors.As(err, &noTransition) || errors.As(err, &canceled) {
		return false
	}

	return true
}

// Fire triggers event and swallows the expected non-errors.
func Fire(ctx context.Context, f *fsm.FSM, event string, args ...any) error {
	if err := f.Event(ctx, event, args...); IsRealError(err) {
		return err
	}
	return nil
}
