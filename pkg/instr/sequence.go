package instr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/unstack/pkg/expr"
)

var (
	// ErrMalformedStack indicates that a value was consumed but the tail of
	// the sequence holds no matching Push: the operation stream is not stack
	// balanced.
	ErrMalformedStack = errors.New("malformed operand stack")

	// ErrImpureDuplication indicates that an expression with side effects
	// was duplicated and consumed twice.
	ErrImpureDuplication = errors.New("impure expression duplicated")
)

// Entry is an instruction together with the label in effect when it was
// produced.
type Entry struct {
	Label       Label
	Instruction Instruction
}

// Sequence is the ordered instruction list of one method. Consecutive Push
// entries at its tail form the simulated operand stack.
//
// Besides appending, the only mutations are Pop, Rewrite and ReplaceTail,
// all of which work on a bounded window at the tail.
type Sequence struct {
	entries []Entry
	label   Label
	frozen  bool
}

// NewSequence creates an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{
		entries: make([]Entry, 0, 32),
		label:   NoLabel,
	}
}

// SetLabel sets the label attached to subsequently appended instructions.
func (s *Sequence) SetLabel(l Label) {
	s.mustBeMutable()
	s.label = l
}

// Label returns the label attached to the next appended instruction.
func (s *Sequence) Label() Label {
	return s.label
}

// Append adds in at the tail under the current label.
func (s *Sequence) Append(in Instruction) {
	s.mustBeMutable()
	s.entries = append(s.entries, Entry{Label: s.label, Instruction: in})
}

// Len returns the number of entries.
func (s *Sequence) Len() int {
	return len(s.entries)
}

// At returns the entry at index i.
func (s *Sequence) At(i int) Entry {
	return s.entries[i]
}

// Entries returns a copy of all entries in order.
func (s *Sequence) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Instructions returns the instructions in order, without labels.
func (s *Sequence) Instructions() []Instruction {
	out := make([]Instruction, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Instruction
	}
	return out
}

// Peek returns the tail instruction, or nil if the sequence is empty.
func (s *Sequence) Peek() Instruction {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1].Instruction
}

// PeekPush returns the expression of the tail instruction if it is a Push.
func (s *Sequence) PeekPush() (expr.Expr, bool) {
	if p, ok := s.Peek().(*Push); ok {
		return p.Expr, true
	}
	return nil, false
}

// PeekDiscard returns the expression of the tail instruction if it is a
// Discard.
func (s *Sequence) PeekDiscard() (expr.Expr, bool) {
	if d, ok := s.Peek().(*Discard); ok {
		return d.Expr, true
	}
	return nil, false
}

// PeekValue returns the expression of the Push nearest the tail, looking
// through any Duplicate markers, and the number of markers crossed.
func (s *Sequence) PeekValue() (e expr.Expr, dups int, ok bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		switch in := s.entries[i].Instruction.(type) {
		case *Duplicate:
			dups++
		case *Push:
			return in.Expr, dups, true
		default:
			return nil, dups, false
		}
	}
	return nil, dups, false
}

// PeekExpr returns the expression pushed by the tail instruction if it is a
// Push of variant T.
func PeekExpr[T expr.Expr](s *Sequence) (T, bool) {
	var zero T
	e, ok := s.PeekPush()
	if !ok {
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}

// Pop consumes the value on top of the simulated stack.
//
// Duplicate markers between the tail and the Push are skipped. If any were
// crossed the value has another consumer still pending, so only the nearest
// marker is removed and the Push stays in place; that is only sound for pure
// expressions. Otherwise the Push itself is removed.
func (s *Sequence) Pop() (expr.Expr, error) {
	s.mustBeMutable()
	i := len(s.entries) - 1
	dups := 0
	for i >= 0 {
		if _, ok := s.entries[i].Instruction.(*Duplicate); !ok {
			break
		}
		dups++
		i--
	}
	if i < 0 {
		return nil, fmt.Errorf("%w: stack is empty", ErrMalformedStack)
	}
	push, ok := s.entries[i].Instruction.(*Push)
	if !ok {
		return nil, fmt.Errorf("%w: expected a pushed value, found %q", ErrMalformedStack, s.entries[i].Instruction)
	}
	if raw, ok := push.Expr.(*expr.RawNew); ok {
		return nil, fmt.Errorf("%w: allocation of %s used before its constructor call", ErrMalformedStack, raw.Type)
	}
	if dups > 0 && !push.Expr.Pure() {
		return nil, fmt.Errorf("%w: %s", ErrImpureDuplication, push.Expr)
	}
	// With markers crossed this drops the nearest marker, not the Push.
	s.removeLast()
	return push.Expr, nil
}

// Rewrite folds the value on top of the stack into a new expression.
//
// It looks through at most one Duplicate marker to the Push beneath and
// calls compute with its expression. If compute returns nil, or the window
// does not have that shape, the sequence is left untouched and Rewrite
// returns false. Otherwise the Push (and marker) are replaced: with a Push of
// the result when a marker was crossed, since the duplicated value is still
// wanted, and with a Discard of the result when none was.
func (s *Sequence) Rewrite(compute func(expr.Expr) expr.Expr) bool {
	s.mustBeMutable()
	i := len(s.entries) - 1
	dup := false
	if i >= 0 {
		if _, ok := s.entries[i].Instruction.(*Duplicate); ok {
			dup = true
			i--
		}
	}
	if i < 0 {
		return false
	}
	push, ok := s.entries[i].Instruction.(*Push)
	if !ok {
		return false
	}
	replacement := compute(push.Expr)
	if replacement == nil {
		return false
	}
	if dup {
		s.removeLast()
		s.removeLast()
		s.Append(&Push{Expr: replacement})
	} else {
		s.removeLast()
		s.Append(&Discard{Expr: replacement})
	}
	return true
}

// Match adapts a rewrite over variant T for use with Rewrite. Expressions of
// any other variant do not match.
func Match[T expr.Expr](fn func(T) expr.Expr) func(expr.Expr) expr.Expr {
	return func(e expr.Expr) expr.Expr {
		t, ok := e.(T)
		if !ok {
			return nil
		}
		return fn(t)
	}
}

// ReplaceTail replaces the tail instruction with in, keeping its label.
func (s *Sequence) ReplaceTail(in Instruction) {
	s.mustBeMutable()
	if len(s.entries) == 0 {
		panic("instr: ReplaceTail on empty sequence")
	}
	s.removeLast()
	s.Append(in)
}

// removeLast drops the tail entry and makes its label current again, so the
// instruction that replaces it keeps the same position.
func (s *Sequence) removeLast() Entry {
	last := s.entries[len(s.entries)-1]
	s.entries[len(s.entries)-1] = Entry{}
	s.entries = s.entries[:len(s.entries)-1]
	s.label = last.Label
	return last
}

// Freeze makes the sequence read-only. It is called when the sequence is
// handed off at the end of a method.
func (s *Sequence) Freeze() {
	s.frozen = true
}

// Frozen reports whether the sequence has been handed off.
func (s *Sequence) Frozen() bool {
	return s.frozen
}

func (s *Sequence) mustBeMutable() {
	if s.frozen {
		panic("instr: sequence modified after hand-off")
	}
}

// String returns a listing with one labelled instruction per line.
func (s *Sequence) String() string {
	var sb strings.Builder
	for _, e := range s.entries {
		sb.WriteString(fmt.Sprintf("%-6s %s\n", e.Label, e.Instruction))
	}
	return sb.String()
}
