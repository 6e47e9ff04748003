package bytecode

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// recorder logs every callback as a short string.
type recorder struct {
	events []string
	failOn string
}

func (r *recorder) add(format string, args ...any) error {
	ev := fmt.Sprintf(format, args...)
	r.events = append(r.events, ev)
	if r.failOn != "" && strings.HasPrefix(ev, r.failOn) {
		return errors.New("refused")
	}
	return nil
}

func (r *recorder) VisitLabel(label int) error           { return r.add("label %d", label) }
func (r *recorder) VisitConst(value any) error           { return r.add("const %#v", value) }
func (r *recorder) VisitLoad(slot int) error             { return r.add("load %d", slot) }
func (r *recorder) VisitStore(slot int) error            { return r.add("store %d", slot) }
func (r *recorder) VisitIncrement(slot, delta int) error { return r.add("inc %d %d", slot, delta) }
func (r *recorder) VisitDup() error                      { return r.add("dup") }
func (r *recorder) VisitPop() error                      { return r.add("pop") }
func (r *recorder) VisitBinary(op Opcode) error          { return r.add("binary %s", op) }
func (r *recorder) VisitGetField(owner string, hasTarget bool, name string) error {
	return r.add("get %s.%s %t", owner, name, hasTarget)
}
func (r *recorder) VisitPutField(owner string, hasTarget bool, name string) error {
	return r.add("put %s.%s %t", owner, name, hasTarget)
}
func (r *recorder) VisitNew(typeName string) error { return r.add("new %s", typeName) }
func (r *recorder) VisitInvoke(call Call) error {
	return r.add("invoke %s.%s %d %t %t", call.Owner, call.Name, call.ArgCount, call.HasReceiver, call.Void)
}
func (r *recorder) VisitReturn(hasValue bool) error { return r.add("return %t", hasValue) }
func (r *recorder) VisitJump(target int) error      { return r.add("jump %d", target) }
func (r *recorder) VisitFrame() error               { return r.add("frame") }
func (r *recorder) VisitInsn(op Opcode) error       { return r.add("insn %s", op) }
func (r *recorder) VisitEnd() error                 { return r.add("end") }

func TestWalkCallbacks(t *testing.T) {
	c := NewChunk()
	c.EmitNew("T")
	c.Emit(OpDup)
	c.EmitConstant("s")
	c.EmitInvoke("T", "<init>", 1, InvokeReceiver|InvokeVoid)
	c.EmitSlot(OpStore, 1)
	c.EmitSlot(OpLoad, 1)
	c.EmitInt(-3)
	c.Emit(OpMul)
	c.Emit(OpPop)
	c.EmitInc(2, 1)
	c.EmitField(OpGetStatic, "T", "f")
	c.EmitField(OpPutField, "T", "g")
	c.Emit(OpConstNull)
	c.Emit(OpSwap)
	c.Emit(OpFrame)
	c.Emit(OpReturnVoid)

	r := &recorder{}
	if err := Walk(c, r); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := []string{
		"label 0",
		"new T",
		"dup",
		`const "s"`,
		"invoke T.<init> 1 true true",
		"store 1",
		"load 1",
		"const -3",
		"binary MUL",
		"pop",
		"inc 2 1",
		"get T.f false",
		"put T.g true",
		"const <nil>",
		"insn SWAP",
		"frame",
		"return false",
		"end",
	}
	if strings.Join(r.events, "\n") != strings.Join(want, "\n") {
		t.Errorf("events =\n%s\nwant\n%s", strings.Join(r.events, "\n"), strings.Join(want, "\n"))
	}
}

func TestWalkLabels(t *testing.T) {
	c := NewChunk()
	c.Emit(OpConstZero)
	p := c.EmitJump(OpJump)
	c.Emit(OpConstOne)
	c.Emit(OpPop)
	c.PatchJumpTo(p, c.CurrentOffset())
	c.Emit(OpReturn)
	c.EmitLoop(4)
	end := c.EmitJump(OpJump)
	c.PatchJumpTo(end, c.CurrentOffset())

	r := &recorder{}
	if err := Walk(c, r); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var labels []string
	for _, ev := range r.events {
		if strings.HasPrefix(ev, "label") || strings.HasPrefix(ev, "jump") {
			labels = append(labels, ev)
		}
	}
	want := []string{"label 0", "jump 6", "label 4", "label 6", "jump 4", "jump 13", "label 13"}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %q, want %q", labels, want)
	}
}

func TestWalkVisitorError(t *testing.T) {
	c := NewChunk()
	c.EmitConstant("x")
	c.EmitSlot(OpStore, 1)
	c.Emit(OpReturnVoid)

	r := &recorder{failOn: "store"}
	err := Walk(c, r)
	var ie *InstructionError
	if !errors.As(err, &ie) {
		t.Fatalf("Walk error = %v, want *InstructionError", err)
	}
	if ie.Offset != 3 || ie.Op != OpStore {
		t.Errorf("InstructionError at %04X %s, want 0003 STORE", ie.Offset, ie.Op)
	}
	if r.events[len(r.events)-1] != "store 1" {
		t.Errorf("walk continued past the failing instruction: %q", r.events)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"unknown opcode", []byte{0xEE}, ErrUnknownOpcode},
		{"truncated", []byte{byte(OpLoad)}, ErrCorruptCode},
		{"mid-instruction jump", []byte{byte(OpJump), 0x00, 0x00, byte(OpConstInt), 0, 0, 0, 0, byte(OpJump), 0xFF, 0xF9}, ErrCorruptCode},
	}
	for _, tt := range tests {
		c := NewChunk()
		c.Code = tt.code
		_, err := c.Decode()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Decode() error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestWalkBadConstantIndex(t *testing.T) {
	c := NewChunk()
	c.Code = []byte{byte(OpConst), 0x00, 0x05}

	err := Walk(c, &recorder{})
	if !errors.Is(err, ErrCorruptCode) {
		t.Errorf("Walk error = %v, want ErrCorruptCode", err)
	}
}
