// Package rollback acquires an ordered set of resources with all-or-nothing
// semantics. Every acquired resource contributes one Closer to a Stack; the
// stack is unwound in reverse order on failure, or handed to the caller on
// success.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/ttm56p/arsenic/pkg/observability"
)

// Closer releases one acquired resource.
type Closer func(ctx context.Context) error

// Stack is an ordered record of Closers. A Stack has a single owner; use
// Take to move its contents rather than copying it.
type Stack struct {
	closers []Closer
}

// New returns an empty stack.
func New() *Stack {
	return &Stack{}
}

// Push records c. Nil closers are ignored.
func (s *Stack) Push(c Closer) {
	if c == nil {
		return
	}
	s.closers = append(s.closers, c)
}

// Len reports how many closers are held.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.closers)
}

// Take moves every closer into a new stack and leaves s empty.
func (s *Stack) Take() *Stack {
	if s == nil {
		return New()
	}
	out := &Stack{closers: s.closers}
	s.closers = nil
	return out
}

// Unwind runs every closer in reverse push order and empties the stack.
// A failing closer does not stop the others; all failures are joined.
func (s *Stack) Unwind(ctx context.Context) error {
	var errs []error
	s.drain(ctx, func(_ int, err error) {
		errs = append(errs, err)
	})
	return errors.Join(errs...)
}

// drain pops closers one at a time so none can run twice, even if onErr or
// a closer panics.
func (s *Stack) drain(ctx context.Context, onErr func(index int, err error)) {
	if s == nil {
		return
	}
	for len(s.closers) > 0 {
		i := len(s.closers) - 1
		c := s.closers[i]
		s.closers[i] = nil
		s.closers = s.closers[:i]

		err := safeClose(ctx, c)
		observability.RecordCloser(err)
		if err != nil && onErr != nil {
			onErr(i, err)
		}
	}
	s.closers = nil
}

func safeClose(ctx context.Context, c Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closer panicked: %v", r)
		}
	}()
	return c(ctx)
}
