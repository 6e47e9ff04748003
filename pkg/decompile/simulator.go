package decompile

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/expr"
	"github.com/chazu/unstack/pkg/instr"
)

// Simulator rebuilds expression trees from the primitive operations of one
// method. It implements bytecode.MethodVisitor; the reader calls it once per
// instruction in program order, and Finish hands over the result.
//
// The first failure is sticky: every later callback returns it and Finish
// returns it with no sequence. A Simulator is used by one goroutine for one
// method and is not reused.
type Simulator struct {
	method string
	seq    *instr.Sequence
	trace  commonlog.Logger
	err    error
	done   bool
}

var _ bytecode.MethodVisitor = (*Simulator)(nil)

// NewSimulator creates a Simulator with an empty sequence.
func NewSimulator(opts ...Option) *Simulator {
	cfg := newOptions(opts)
	return &Simulator{
		method: cfg.method,
		seq:    instr.NewSequence(),
		trace:  cfg.trace,
	}
}

// Err returns the failure that stopped the simulation, if any.
func (s *Simulator) Err() error {
	return s.err
}

// step runs one callback body, records its failure and traces the tail.
func (s *Simulator) step(fn func() error, format string, args ...any) error {
	if s.err != nil {
		return s.err
	}
	if s.done {
		s.err = ErrFinished
		return s.err
	}
	if err := fn(); err != nil {
		s.err = err
		if s.trace != nil {
			s.trace.Debugf("%s: %s failed: %v", s.method, fmt.Sprintf(format, args...), err)
		}
		return err
	}
	if s.trace != nil {
		tail := "<empty>"
		if in := s.seq.Peek(); in != nil {
			tail = in.String()
		}
		s.trace.Debugf("%s: %-24s %-4s %s", s.method, fmt.Sprintf(format, args...), s.seq.Label(), tail)
	}
	return nil
}

func (s *Simulator) VisitLabel(label int) error {
	return s.step(func() error {
		s.seq.SetLabel(instr.Label(label))
		return nil
	}, "label %d", label)
}

func (s *Simulator) VisitConst(value any) error {
	return s.step(func() error {
		switch value.(type) {
		case nil, string, int, int32, int64:
		default:
			return fmt.Errorf("%w: constant of type %T", ErrUnsupportedOperation, value)
		}
		s.seq.Append(&instr.Push{Expr: expr.Const(value)})
		return nil
	}, "const %#v", value)
}

// VisitLoad pushes a read of slot. A read that directly follows a
// standalone increment of the same slot becomes the value of that
// increment.
func (s *Simulator) VisitLoad(slot int) error {
	return s.step(func() error {
		if d, ok := s.seq.PeekDiscard(); ok {
			if pre, ok := d.(*expr.PreIncrement); ok && pre.Slot == slot {
				s.seq.ReplaceTail(&instr.Push{Expr: pre})
				return nil
			}
		}
		s.seq.Append(&instr.Push{Expr: expr.Var(slot)})
		return nil
	}, "load %d", slot)
}

func (s *Simulator) VisitStore(slot int) error {
	return s.step(func() error {
		return s.assign(expr.Var(slot))
	}, "store %d", slot)
}

// VisitIncrement bumps slot in place. Directly after a read of the same
// slot it becomes a post-increment whose value is the old one.
func (s *Simulator) VisitIncrement(slot, delta int) error {
	return s.step(func() error {
		if v, ok := instr.PeekExpr[*expr.Variable](s.seq); ok && v.Slot == slot {
			s.seq.ReplaceTail(&instr.Push{Expr: expr.PostInc(slot, delta)})
			return nil
		}
		s.seq.Append(&instr.Discard{Expr: expr.PreInc(slot, delta)})
		return nil
	}, "inc %d %+d", slot, delta)
}

func (s *Simulator) VisitDup() error {
	return s.step(func() error {
		s.seq.Append(&instr.Duplicate{})
		return nil
	}, "dup")
}

func (s *Simulator) VisitPop() error {
	return s.step(func() error {
		v, err := s.seq.Pop()
		if err != nil {
			return err
		}
		s.seq.Append(&instr.Discard{Expr: v})
		return nil
	}, "pop")
}

func (s *Simulator) VisitBinary(op bytecode.Opcode) error {
	return s.step(func() error {
		bop, ok := binaryOps[op]
		if !ok {
			return fmt.Errorf("%w: binary operator %s", ErrUnsupportedOperation, op)
		}
		right, err := s.seq.Pop()
		if err != nil {
			return err
		}
		left, err := s.seq.Pop()
		if err != nil {
			return err
		}
		s.seq.Append(&instr.Push{Expr: expr.Bin(bop, left, right)})
		return nil
	}, "%s", op)
}

var binaryOps = map[bytecode.Opcode]expr.BinaryOp{
	bytecode.OpAdd:  expr.OpAdd,
	bytecode.OpSub:  expr.OpSub,
	bytecode.OpMul:  expr.OpMul,
	bytecode.OpDiv:  expr.OpDiv,
	bytecode.OpMod:  expr.OpRem,
	bytecode.OpAnd:  expr.OpAnd,
	bytecode.OpOr:   expr.OpOr,
	bytecode.OpXor:  expr.OpXor,
	bytecode.OpShl:  expr.OpShl,
	bytecode.OpShr:  expr.OpShr,
	bytecode.OpUshr: expr.OpUshr,
}

func (s *Simulator) VisitGetField(owner string, hasTarget bool, name string) error {
	return s.step(func() error {
		if !hasTarget {
			s.seq.Append(&instr.Push{Expr: expr.StaticField(owner, name)})
			return nil
		}
		target, err := s.seq.Pop()
		if err != nil {
			return err
		}
		s.seq.Append(&instr.Push{Expr: expr.InstanceField(owner, target, name)})
		return nil
	}, "getfield %s.%s", owner, name)
}

func (s *Simulator) VisitPutField(owner string, hasTarget bool, name string) error {
	return s.step(func() error {
		if !hasTarget {
			return s.assign(expr.StaticField(owner, name))
		}
		value, err := s.seq.Pop()
		if err != nil {
			return err
		}
		target, err := s.seq.Pop()
		if err != nil {
			return err
		}
		s.seq.Append(&instr.Discard{Expr: expr.Assign(expr.InstanceField(owner, target, name), value)})
		return nil
	}, "putfield %s.%s", owner, name)
}

// assign stores the stack top into target. With a duplicated value the
// assignment itself stays on the stack, otherwise it becomes a statement.
func (s *Simulator) assign(target expr.LValue) error {
	applied := s.seq.Rewrite(func(v expr.Expr) expr.Expr {
		if _, ok := v.(*expr.RawNew); ok {
			return nil
		}
		return expr.Assign(target, v)
	})
	if applied {
		return nil
	}
	v, err := s.seq.Pop()
	if err != nil {
		return err
	}
	s.seq.Append(&instr.Discard{Expr: expr.Assign(target, v)})
	return nil
}

func (s *Simulator) VisitNew(typeName string) error {
	return s.step(func() error {
		s.seq.Append(&instr.Push{Expr: expr.Alloc(typeName)})
		return nil
	}, "new %s", typeName)
}

func (s *Simulator) VisitInvoke(call bytecode.Call) error {
	return s.step(func() error {
		return s.invoke(call)
	}, "invoke %s.%s/%d", call.Owner, call.Name, call.ArgCount)
}

func (s *Simulator) invoke(call bytecode.Call) error {
	args := make([]expr.Expr, call.ArgCount)
	for i := call.ArgCount - 1; i >= 0; i-- {
		arg, err := s.seq.Pop()
		if err != nil {
			return err
		}
		args[i] = arg
	}

	if call.HasReceiver && call.Name == expr.ConstructorName {
		constructed := s.seq.Rewrite(instr.Match(func(raw *expr.RawNew) expr.Expr {
			return expr.New(raw.Type, args...)
		}))
		if constructed {
			return nil
		}
		if v, dups, ok := s.seq.PeekValue(); ok {
			if raw, isRaw := v.(*expr.RawNew); isRaw {
				return fmt.Errorf("%w: allocation of %s duplicated %d times before %s.%s",
					ErrInvalidBaseConstructorCall, raw.Type, dups, call.Owner, call.Name)
			}
		}
		receiver, err := s.seq.Pop()
		if err != nil {
			return err
		}
		if v, ok := receiver.(*expr.Variable); !ok || v.Slot != 0 {
			return fmt.Errorf("%w: receiver of %s.%s is %s", ErrInvalidBaseConstructorCall, call.Owner, call.Name, receiver)
		}
		s.seq.Append(&instr.Discard{Expr: expr.Call(call.Owner, receiver, call.Name, args...)})
		return nil
	}

	var target expr.Expr
	if call.HasReceiver {
		receiver, err := s.seq.Pop()
		if err != nil {
			return err
		}
		target = receiver
	}
	result := expr.Call(call.Owner, target, call.Name, args...)
	if call.Void {
		s.seq.Append(&instr.Discard{Expr: result})
	} else {
		s.seq.Append(&instr.Push{Expr: result})
	}
	return nil
}

func (s *Simulator) VisitReturn(hasValue bool) error {
	return s.step(func() error {
		if !hasValue {
			s.seq.Append(&instr.Return{})
			return nil
		}
		v, err := s.seq.Pop()
		if err != nil {
			return err
		}
		s.seq.Append(&instr.Return{Value: v})
		return nil
	}, "return %t", hasValue)
}

func (s *Simulator) VisitJump(target int) error {
	return s.step(func() error {
		s.seq.Append(&instr.Jump{Target: instr.Label(target)})
		return nil
	}, "jump %d", target)
}

func (s *Simulator) VisitFrame() error {
	return s.step(func() error {
		s.seq.Append(&instr.FrameMarker{})
		return nil
	}, "frame")
}

func (s *Simulator) VisitInsn(op bytecode.Opcode) error {
	return s.step(func() error {
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}, "%s", op)
}

// VisitEnd closes the method. An allocation still waiting for its
// constructor anywhere in the sequence is an error.
func (s *Simulator) VisitEnd() error {
	return s.step(func() error {
		for _, e := range s.seq.Entries() {
			if x := instr.Expression(e.Instruction); x != nil && expr.ContainsRawNew(x) {
				return fmt.Errorf("%w: %s never reaches its constructor", ErrMalformedStack, x)
			}
		}
		s.seq.Freeze()
		s.done = true
		return nil
	}, "end")
}

// Finish returns the completed sequence, closing the method first if
// VisitEnd has not been called. The sequence is read-only.
func (s *Simulator) Finish() (*instr.Sequence, error) {
	if s.err == nil && !s.done {
		_ = s.VisitEnd()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.seq, nil
}
