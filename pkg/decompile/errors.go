package decompile

import (
	"errors"
	"fmt"

	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/instr"
)

// Every error a Simulator returns wraps one of these. All of them mean the
// method cannot be reconstructed; there is no partial result.
var (
	// ErrMalformedStack: a value was consumed but no Push was found beneath
	// the duplication markers at the tail, or an allocation was used before
	// its constructor ran.
	ErrMalformedStack = instr.ErrMalformedStack

	// ErrImpureDuplication: an expression with side effects was duplicated
	// and consumed more than once.
	ErrImpureDuplication = instr.ErrImpureDuplication

	// ErrUnsupportedOperation: an opcode or operand combination that is not
	// modelled.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidBaseConstructorCall: a constructor call whose receiver is
	// neither a pending allocation nor local slot 0.
	ErrInvalidBaseConstructorCall = errors.New("invalid base constructor call")

	// ErrFinished is returned for callbacks that arrive after VisitEnd.
	ErrFinished = errors.New("method already finished")
)

// MethodError locates a reconstruction failure within a method.
type MethodError struct {
	Method string
	Offset int // -1 when the failure is not tied to one instruction
	Op     bytecode.Opcode
	Line   int // assembly line of the instruction; 0 without a source map
	Err    error
}

func (e *MethodError) Error() string {
	switch {
	case e.Offset < 0:
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s: %04X %s (line %d): %v", e.Method, e.Offset, e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %04X %s: %v", e.Method, e.Offset, e.Op, e.Err)
}

func (e *MethodError) Unwrap() error {
	return e.Err
}

// methodError attaches method and instruction context to err. Reader errors
// for opcodes the format does not define become ErrUnsupportedOperation.
func methodError(c *bytecode.Chunk, err error) error {
	me := &MethodError{Method: c.Name, Offset: -1, Err: err}
	var ie *bytecode.InstructionError
	if errors.As(err, &ie) {
		me.Offset = ie.Offset
		me.Op = ie.Op
		me.Err = ie.Err
		line, _ := c.GetSourceLocation(uint32(ie.Offset))
		me.Line = int(line)
	}
	if errors.Is(me.Err, bytecode.ErrUnknownOpcode) {
		me.Err = fmt.Errorf("%w: %w", ErrUnsupportedOperation, me.Err)
	}
	return me
}
