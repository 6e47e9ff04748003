package instr

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/unstack/pkg/expr"
)

func TestNewSequence(t *testing.T) {
	s := NewSequence()

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if s.Label() != NoLabel {
		t.Errorf("Label() = %v, want %v", s.Label(), NoLabel)
	}
	if s.Peek() != nil {
		t.Errorf("Peek() = %v, want nil", s.Peek())
	}
}

func TestAppendUsesCurrentLabel(t *testing.T) {
	s := NewSequence()
	s.SetLabel(0)
	s.Append(&Push{Expr: expr.Const(1)})
	s.SetLabel(4)
	s.Append(&Return{})

	if got := s.At(0).Label; got != 0 {
		t.Errorf("At(0).Label = %v, want L0", got)
	}
	if got := s.At(1).Label; got != 4 {
		t.Errorf("At(1).Label = %v, want L4", got)
	}
}

func TestPopRestoresLabel(t *testing.T) {
	s := NewSequence()
	s.SetLabel(2)
	s.Append(&Push{Expr: expr.Var(1)})
	s.SetLabel(7)

	e, err := s.Pop()
	if err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if !expr.Equal(e, expr.Var(1)) {
		t.Errorf("Pop() = %v, want v1", e)
	}
	if s.Label() != 2 {
		t.Errorf("Label() after Pop = %v, want L2", s.Label())
	}

	s.Append(&Discard{Expr: e})
	if got := s.At(0).Label; got != 2 {
		t.Errorf("replacement label = %v, want L2", got)
	}
}

func TestPopEmpty(t *testing.T) {
	s := NewSequence()

	_, err := s.Pop()
	if !errors.Is(err, ErrMalformedStack) {
		t.Errorf("Pop() on empty sequence error = %v, want ErrMalformedStack", err)
	}
}

func TestPopStopsAtNonPush(t *testing.T) {
	tests := []struct {
		name string
		tail Instruction
	}{
		{"discard", &Discard{Expr: expr.PreInc(1, 1)}},
		{"return", &Return{}},
		{"jump", &Jump{Target: 3}},
		{"frame", &FrameMarker{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSequence()
			s.Append(&Push{Expr: expr.Const(1)})
			s.Append(tt.tail)

			_, err := s.Pop()
			if !errors.Is(err, ErrMalformedStack) {
				t.Errorf("Pop() error = %v, want ErrMalformedStack", err)
			}
			if s.Len() != 2 {
				t.Errorf("Len() = %d after failed Pop, want 2", s.Len())
			}
		})
	}
}

func TestPopAcrossDuplicatePure(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Var(3)})
	s.Append(&Duplicate{})

	first, err := s.Pop()
	if err != nil {
		t.Fatalf("first Pop() error: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() after first Pop = %d, want 1", s.Len())
	}
	second, err := s.Pop()
	if err != nil {
		t.Fatalf("second Pop() error: %v", err)
	}
	if !expr.Equal(first, second) || !expr.Equal(first, expr.Var(3)) {
		t.Errorf("Pop() values = %v, %v, want v3 twice", first, second)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestPopAcrossDuplicateImpure(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Call("Foo", expr.Var(0), "next")})
	s.Append(&Duplicate{})

	_, err := s.Pop()
	if !errors.Is(err, ErrImpureDuplication) {
		t.Errorf("Pop() error = %v, want ErrImpureDuplication", err)
	}
}

func TestPopAcrossTwoDuplicates(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Const(0)})
	s.Append(&Duplicate{})
	s.Append(&Duplicate{})

	for i := 0; i < 3; i++ {
		e, err := s.Pop()
		if err != nil {
			t.Fatalf("Pop() #%d error: %v", i, err)
		}
		if !expr.Equal(e, expr.Const(0)) {
			t.Errorf("Pop() #%d = %v, want 0", i, e)
		}
	}
	if _, err := s.Pop(); !errors.Is(err, ErrMalformedStack) {
		t.Errorf("fourth Pop() error = %v, want ErrMalformedStack", err)
	}
}

func TestPopRejectsRawNew(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Alloc("Foo")})

	_, err := s.Pop()
	if !errors.Is(err, ErrMalformedStack) {
		t.Errorf("Pop() of raw allocation error = %v, want ErrMalformedStack", err)
	}
}

func assignTo(slot int) func(expr.Expr) expr.Expr {
	return func(e expr.Expr) expr.Expr {
		return expr.Assign(expr.Var(slot), e)
	}
}

func TestRewriteWithoutDuplicate(t *testing.T) {
	s := NewSequence()
	s.SetLabel(5)
	s.Append(&Push{Expr: expr.Const(1)})
	s.SetLabel(9)

	if !s.Rewrite(assignTo(1)) {
		t.Fatal("Rewrite() = false, want true")
	}
	want := &Discard{Expr: expr.Assign(expr.Var(1), expr.Const(1))}
	if s.Len() != 1 || !Equal(s.At(0).Instruction, want) {
		t.Errorf("sequence = %v, want [%v]", s.Instructions(), want)
	}
	if s.At(0).Label != 5 {
		t.Errorf("label = %v, want L5", s.At(0).Label)
	}
}

func TestRewriteWithDuplicate(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Const(1)})
	s.Append(&Duplicate{})

	if !s.Rewrite(assignTo(1)) {
		t.Fatal("Rewrite() = false, want true")
	}
	want := &Push{Expr: expr.Assign(expr.Var(1), expr.Const(1))}
	if s.Len() != 1 || !Equal(s.At(0).Instruction, want) {
		t.Errorf("sequence = %v, want [%v]", s.Instructions(), want)
	}
}

func TestRewriteSkipped(t *testing.T) {
	tests := []struct {
		name    string
		entries []Instruction
		compute func(expr.Expr) expr.Expr
	}{
		{"empty", nil, assignTo(1)},
		{"only duplicate", []Instruction{&Duplicate{}}, assignTo(1)},
		{"two duplicates", []Instruction{&Push{Expr: expr.Const(1)}, &Duplicate{}, &Duplicate{}}, assignTo(1)},
		{"discard at tail", []Instruction{&Discard{Expr: expr.PreInc(1, 1)}}, assignTo(1)},
		{"variant mismatch", []Instruction{&Push{Expr: expr.Const(1)}},
			Match(func(r *expr.RawNew) expr.Expr { return expr.New(r.Type) })},
		{"no replacement", []Instruction{&Push{Expr: expr.Const(1)}},
			func(expr.Expr) expr.Expr { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSequence()
			for _, in := range tt.entries {
				s.Append(in)
			}
			before := s.Instructions()

			if s.Rewrite(tt.compute) {
				t.Fatal("Rewrite() = true, want false")
			}
			after := s.Instructions()
			if len(after) != len(before) {
				t.Fatalf("sequence length changed from %d to %d", len(before), len(after))
			}
			for i := range before {
				if !Equal(before[i], after[i]) {
					t.Errorf("entry %d changed from %v to %v", i, before[i], after[i])
				}
			}
		})
	}
}

func TestPeekExpr(t *testing.T) {
	s := NewSequence()
	s.Append(&Push{Expr: expr.Var(2)})

	if v, ok := PeekExpr[*expr.Variable](s); !ok || v.Slot != 2 {
		t.Errorf("PeekExpr[*Variable] = %v, %v, want v2, true", v, ok)
	}
	if _, ok := PeekExpr[*expr.Constant](s); ok {
		t.Error("PeekExpr[*Constant] matched a variable")
	}

	s.Append(&Duplicate{})
	if _, ok := PeekExpr[*expr.Variable](s); ok {
		t.Error("PeekExpr matched through a duplicate marker")
	}
}

func TestPeekValue(t *testing.T) {
	s := NewSequence()
	if _, _, ok := s.PeekValue(); ok {
		t.Error("PeekValue() on empty sequence reported a value")
	}

	s.Append(&Push{Expr: expr.Alloc("Foo")})
	s.Append(&Duplicate{})
	s.Append(&Duplicate{})
	e, dups, ok := s.PeekValue()
	if !ok || dups != 2 || !expr.Equal(e, expr.Alloc("Foo")) {
		t.Errorf("PeekValue() = %v, %d, %v, want new Foo, 2, true", e, dups, ok)
	}
	if s.Len() != 3 {
		t.Errorf("PeekValue() changed the sequence: Len() = %d", s.Len())
	}

	s.Append(&Discard{Expr: expr.Var(1)})
	if _, _, ok := s.PeekValue(); ok {
		t.Error("PeekValue() looked past a Discard")
	}
}

func TestReplaceTail(t *testing.T) {
	s := NewSequence()
	s.SetLabel(3)
	s.Append(&Push{Expr: expr.Var(1)})
	s.SetLabel(8)

	s.ReplaceTail(&Push{Expr: expr.PostInc(1, 1)})

	if s.Len() != 1 || s.At(0).Label != 3 {
		t.Errorf("ReplaceTail: len=%d label=%v, want 1, L3", s.Len(), s.At(0).Label)
	}
}

func TestFreeze(t *testing.T) {
	s := NewSequence()
	s.Append(&Return{})
	s.Freeze()

	defer func() {
		if recover() == nil {
			t.Error("Append after Freeze did not panic")
		}
	}()
	s.Append(&Return{})
}

func TestSequenceString(t *testing.T) {
	s := NewSequence()
	s.SetLabel(0)
	s.Append(&Discard{Expr: expr.Assign(expr.Var(1), expr.Const(5))})
	s.Append(&Return{})

	out := s.String()
	if !strings.Contains(out, "L0") || !strings.Contains(out, "v1 = 5;") || !strings.Contains(out, "return;") {
		t.Errorf("String() = %q", out)
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		in   Instruction
		want string
	}{
		{&Push{Expr: expr.Var(1)}, "push v1"},
		{&Discard{Expr: expr.PreInc(1, 1)}, "++v1;"},
		{&Return{}, "return;"},
		{&Return{Value: expr.Var(2)}, "return v2;"},
		{&Jump{Target: 12}, "goto L12;"},
		{&Duplicate{}, "dup"},
		{&FrameMarker{}, "frame"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
