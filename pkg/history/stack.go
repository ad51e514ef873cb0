// Package history keeps undo/redo history as snapshots of a value.
//
// A Stack holds the present value plus the past and future snapshots around
// it. Push records a new present and clears the future, as any editor does
// after an edit following an undo.
package history

// DefaultLimit bounds the number of past snapshots kept
const DefaultLimit = 100

// Stack is an undo/redo history of T. It is not safe for concurrent use.
type Stack[T any] struct {
	past    []T
	present T
	future  []T
	limit   int
}

// New creates a history starting at initial. A limit <= 0 means DefaultLimit.
func New[T any](initial T, limit int) *Stack[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Stack[T]{present: initial, limit: limit}
}

// Present returns the current value
func (s *Stack[T]) Present() T {
	return s.present
}

// Push makes v the present value. The previous present becomes undoable and
// the redo history is discarded. The oldest snapshot is dropped past the limit.
func (s *Stack[T]) Push(v T) {
	s.past = append(s.past, s.present)
	if len(s.past) > s.limit {
		s.past = s.past[len(s.past)-s.limit:]
	}
	s.present = v
	s.future = nil
}

// Undo steps back one snapshot. It returns false when there is nothing to undo.
func (s *Stack[T]) Undo() (T, bool) {
	if len(s.past) == 0 {
		return s.present, false
	}
	last := len(s.past) - 1
	s.future = append(s.future, s.present)
	s.present = s.past[last]
	s.past = s.past[:last]
	return s.present, true
}

// Redo re-applies the last undone snapshot. It returns false when there is nothing to redo.
func (s *Stack[T]) Redo() (T, bool) {
	if len(s.future) == 0 {
		return s.present, false
	}
	last := len(s.future) - 1
	s.past = append(s.past, s.present)
	s.present = s.future[last]
	s.future = s.future[:last]
	return s.present, true
}

// CanUndo reports whether Undo would change the present
func (s *Stack[T]) CanUndo() bool { return len(s.past) > 0 }

// CanRedo reports whether Redo would change the present
func (s *Stack[T]) CanRedo() bool { return len(s.future) > 0 }

// Reset discards all history and sets the present
func (s *Stack[T]) Reset(v T) {
	s.past = nil
	s.future = nil
	s.present = v
}
