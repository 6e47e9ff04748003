package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode is returned for a byte that is not a defined opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrCorruptCode is returned for truncated instructions, bad constant
	// indices and jumps that do not land on an instruction boundary.
	ErrCorruptCode = errors.New("corrupt bytecode")
)

// Call describes an OpInvoke instruction.
type Call struct {
	Owner       string
	Name        string
	ArgCount    int
	HasReceiver bool
	Void        bool
}

// MethodVisitor receives one callback per instruction of a method, in
// program order. Walk drives it; any error it returns stops the walk.
//
// Labels are code offsets. VisitLabel(0) opens every method and a label is
// announced before each instruction that is the target of a jump.
type MethodVisitor interface {
	VisitLabel(label int) error
	VisitConst(value any) error
	VisitLoad(slot int) error
	VisitStore(slot int) error
	VisitIncrement(slot, delta int) error
	VisitDup() error
	VisitPop() error
	VisitBinary(op Opcode) error
	VisitGetField(owner string, hasTarget bool, name string) error
	VisitPutField(owner string, hasTarget bool, name string) error
	VisitNew(typeName string) error
	VisitInvoke(call Call) error
	VisitReturn(hasValue bool) error
	VisitJump(target int) error
	VisitFrame() error
	// VisitInsn receives operand-less opcodes that have no dedicated
	// callback (NOP, SWAP, NEG).
	VisitInsn(op Opcode) error
	VisitEnd() error
}

// InstructionError locates a failure at an instruction.
type InstructionError struct {
	Offset int
	Op     Opcode
	Err    error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("%04X %s: %v", e.Offset, e.Op, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int
	Op       Opcode
	Operands []byte
}

// JumpTarget returns the absolute offset an OpJump transfers to.
func (in Instruction) JumpTarget() int {
	delta := int16(binary.BigEndian.Uint16(in.Operands))
	return in.Offset + in.Op.InstructionLen() + int(delta)
}

// Decode splits the code section into instructions and checks that every
// jump lands on an instruction boundary or at the end of the code.
func (c *Chunk) Decode() ([]Instruction, error) {
	var out []Instruction
	starts := make(map[int]bool)
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		if !op.Known() {
			return nil, &InstructionError{Offset: offset, Op: op, Err: ErrUnknownOpcode}
		}
		n := op.InstructionLen()
		if offset+n > len(c.Code) {
			return nil, &InstructionError{Offset: offset, Op: op,
				Err: fmt.Errorf("%w: truncated instruction", ErrCorruptCode)}
		}
		out = append(out, Instruction{Offset: offset, Op: op, Operands: c.Code[offset+1 : offset+n]})
		starts[offset] = true
		offset += n
	}
	for _, in := range out {
		if !in.Op.IsJump() {
			continue
		}
		target := in.JumpTarget()
		if target != len(c.Code) && !starts[target] {
			return nil, &InstructionError{Offset: in.Offset, Op: in.Op,
				Err: fmt.Errorf("%w: jump target %04X is not an instruction boundary", ErrCorruptCode, target)}
		}
	}
	return out, nil
}

// JumpTargets returns the set of offsets that some jump transfers to.
func JumpTargets(insns []Instruction) map[int]bool {
	targets := make(map[int]bool)
	for _, in := range insns {
		if in.Op.IsJump() {
			targets[in.JumpTarget()] = true
		}
	}
	return targets
}

// Walk decodes the chunk and feeds every instruction to v, followed by
// VisitEnd. Errors from v are wrapped in an *InstructionError.
func Walk(c *Chunk, v MethodVisitor) error {
	insns, err := c.Decode()
	if err != nil {
		return err
	}
	targets := JumpTargets(insns)

	if err := v.VisitLabel(0); err != nil {
		return &InstructionError{Offset: 0, Op: OpNop, Err: err}
	}
	for _, in := range insns {
		if in.Offset != 0 && targets[in.Offset] {
			if err := v.VisitLabel(in.Offset); err != nil {
				return &InstructionError{Offset: in.Offset, Op: in.Op, Err: err}
			}
		}
		if err := c.dispatch(in, v); err != nil {
			return &InstructionError{Offset: in.Offset, Op: in.Op, Err: err}
		}
	}
	if end := len(c.Code); end != 0 && targets[end] {
		if err := v.VisitLabel(end); err != nil {
			return &InstructionError{Offset: end, Op: OpNop, Err: err}
		}
	}
	return v.VisitEnd()
}

func (c *Chunk) dispatch(in Instruction, v MethodVisitor) error {
	ops := in.Operands
	switch in.Op {
	case OpPop:
		return v.VisitPop()
	case OpDup:
		return v.VisitDup()

	case OpConst:
		s, err := c.constant(binary.BigEndian.Uint16(ops))
		if err != nil {
			return err
		}
		return v.VisitConst(s)
	case OpConstInt:
		return v.VisitConst(int(int32(binary.BigEndian.Uint32(ops))))
	case OpConstNull:
		return v.VisitConst(nil)
	case OpConstZero:
		return v.VisitConst(0)
	case OpConstOne:
		return v.VisitConst(1)

	case OpLoad:
		return v.VisitLoad(int(ops[0]))
	case OpStore:
		return v.VisitStore(int(ops[0]))
	case OpInc:
		return v.VisitIncrement(int(ops[0]), int(int8(ops[1])))

	case OpGetField, OpGetStatic, OpPutField, OpPutStatic:
		owner, err := c.constant(binary.BigEndian.Uint16(ops))
		if err != nil {
			return err
		}
		name, err := c.constant(binary.BigEndian.Uint16(ops[2:]))
		if err != nil {
			return err
		}
		switch in.Op {
		case OpGetField:
			return v.VisitGetField(owner, true, name)
		case OpGetStatic:
			return v.VisitGetField(owner, false, name)
		case OpPutField:
			return v.VisitPutField(owner, true, name)
		default:
			return v.VisitPutField(owner, false, name)
		}

	case OpNew:
		typeName, err := c.constant(binary.BigEndian.Uint16(ops))
		if err != nil {
			return err
		}
		return v.VisitNew(typeName)

	case OpInvoke:
		owner, err := c.constant(binary.BigEndian.Uint16(ops))
		if err != nil {
			return err
		}
		name, err := c.constant(binary.BigEndian.Uint16(ops[2:]))
		if err != nil {
			return err
		}
		return v.VisitInvoke(Call{
			Owner:       owner,
			Name:        name,
			ArgCount:    int(ops[4]),
			HasReceiver: ops[5]&InvokeReceiver != 0,
			Void:        ops[5]&InvokeVoid != 0,
		})

	case OpJump:
		return v.VisitJump(in.JumpTarget())
	case OpFrame:
		return v.VisitFrame()

	case OpReturn:
		return v.VisitReturn(true)
	case OpReturnVoid:
		return v.VisitReturn(false)
	}

	if in.Op.IsArithmetic() {
		return v.VisitBinary(in.Op)
	}
	return v.VisitInsn(in.Op)
}
