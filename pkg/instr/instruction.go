// Package instr defines statement-level instructions and the label-tagged
// instruction sequence the stack simulator rewrites.
package instr

import (
	"fmt"

	"github.com/chazu/unstack/pkg/expr"
)

// Label identifies a code position. Jump targets and label boundaries use
// the bytecode offset of the position they name.
type Label int

// NoLabel tags instructions produced before any label boundary.
const NoLabel Label = -1

func (l Label) String() string {
	if l == NoLabel {
		return "L?"
	}
	return fmt.Sprintf("L%d", int(l))
}

// Instruction is a statement-level effect. Like expr.Expr it is a closed
// set of variants.
type Instruction interface {
	String() string
	instrNode()
}

// Push leaves the value of Expr on the simulated stack.
type Push struct {
	Expr expr.Expr
}

// Discard evaluates Expr for its side effects and drops the result.
type Discard struct {
	Expr expr.Expr
}

// Return terminates the method. Value is nil for a void return.
type Return struct {
	Value expr.Expr
}

// Jump transfers control unconditionally to Target.
type Jump struct {
	Target Label
}

// Duplicate marks that the next consumer of the stack top observes the same
// value as the one after it.
type Duplicate struct{}

// FrameMarker is an opaque synchronization point passed through from the
// bytecode source.
type FrameMarker struct{}

func (*Push) instrNode()        {}
func (*Discard) instrNode()     {}
func (*Return) instrNode()      {}
func (*Jump) instrNode()        {}
func (*Duplicate) instrNode()   {}
func (*FrameMarker) instrNode() {}

func (in *Push) String() string    { return "push " + in.Expr.String() }
func (in *Discard) String() string { return in.Expr.String() + ";" }

func (in *Return) String() string {
	if in.Value == nil {
		return "return;"
	}
	return "return " + in.Value.String() + ";"
}

func (in *Jump) String() string     { return "goto " + in.Target.String() + ";" }
func (*Duplicate) String() string   { return "dup" }
func (*FrameMarker) String() string { return "frame" }

// Equal reports whether two instructions are structurally equal.
func Equal(a, b Instruction) bool {
	switch a := a.(type) {
	case *Push:
		b, ok := b.(*Push)
		return ok && expr.Equal(a.Expr, b.Expr)
	case *Discard:
		b, ok := b.(*Discard)
		return ok && expr.Equal(a.Expr, b.Expr)
	case *Return:
		b, ok := b.(*Return)
		return ok && expr.Equal(a.Value, b.Value)
	case *Jump:
		b, ok := b.(*Jump)
		return ok && a.Target == b.Target
	case *Duplicate:
		_, ok := b.(*Duplicate)
		return ok
	case *FrameMarker:
		_, ok := b.(*FrameMarker)
		return ok
	case nil:
		return b == nil
	default:
		panic(fmt.Sprintf("instr: unknown instruction type %T", a))
	}
}

// Expression returns the expression carried by in, or nil.
func Expression(in Instruction) expr.Expr {
	switch in := in.(type) {
	case *Push:
		return in.Expr
	case *Discard:
		return in.Expr
	case *Return:
		return in.Value
	}
	return nil
}
