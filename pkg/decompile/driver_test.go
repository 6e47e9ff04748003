package decompile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tliron/commonlog"

	"github.com/chazu/unstack/pkg/bytecode"
)

const classSource = `
method Example.newOperator locals=2
    new java/lang/String
    dup
    const "foobar"
    invoke java/lang/String <init> 1 recv void
    store 1
    return_void
end

method Example.<init> params=1
    load 0
    load 1
    invoke java/lang/Object <init> 1 recv void
    return_void
end

method Example.counter locals=2
    load 1
    inc 1 1
    load 0
    get_field Example total
    add
    return
end

method Example.broken
    invoke Example next 0
    dup
    invoke Example use 2 void
    return_void
end

method Example.swap
    const 0
    const 1
    swap
    return
end
`

func assemble(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	m, err := bytecode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return m
}

func TestMethodListing(t *testing.T) {
	m := assemble(t, classSource)

	tests := []struct {
		method string
		want   string
	}{
		{"Example.newOperator", "L0     v1 = new java.lang.String(\"foobar\");\nL0     return;\n"},
		{"Example.<init>", "L0     super(v1);\nL0     return;\n"},
		{"Example.counter", "L0     return v1++ + v0.total;\n"},
	}
	for _, tt := range tests {
		seq, err := Method(m.Find(tt.method))
		if err != nil {
			t.Errorf("Method(%s): %v", tt.method, err)
			continue
		}
		if got := seq.String(); got != tt.want {
			t.Errorf("Method(%s) =\n%s\nwant\n%s", tt.method, got, tt.want)
		}
	}
}

func TestMethodErrorContext(t *testing.T) {
	m := assemble(t, classSource)

	_, err := Method(m.Find("Example.swap"))
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("err = %v, want ErrUnsupportedOperation", err)
	}
	var me *MethodError
	if !errors.As(err, &me) {
		t.Fatalf("err = %T, want *MethodError", err)
	}
	if me.Method != "Example.swap" || me.Offset != 2 || me.Op != bytecode.OpSwap || me.Line != 37 {
		t.Errorf("MethodError = %q %04X %s line %d, want Example.swap 0002 SWAP line 37", me.Method, me.Offset, me.Op, me.Line)
	}
	if got, want := err.Error(), "Example.swap: 0002 SWAP (line 37): unsupported operation: SWAP"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMethodErrorWithoutSourceMap(t *testing.T) {
	c := bytecode.NewChunk()
	c.Name = "Example.swap"
	c.Emit(bytecode.OpConstZero)
	c.Emit(bytecode.OpConstOne)
	c.Emit(bytecode.OpSwap)
	c.Emit(bytecode.OpReturn)

	_, err := Method(c)
	if got, want := fmt.Sprint(err), "Example.swap: 0002 SWAP: unsupported operation: SWAP"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMethodUnknownOpcode(t *testing.T) {
	c := bytecode.NewChunk()
	c.Name = "Example.garbage"
	c.Code = []byte{0xEE}

	_, err := Method(c)
	if !errors.Is(err, ErrUnsupportedOperation) || !errors.Is(err, bytecode.ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnsupportedOperation wrapping ErrUnknownOpcode", err)
	}
}

func TestMethodUnconstructedAtEnd(t *testing.T) {
	m := assemble(t, `
method Example.leak
    new Thing
    return_void
end`)

	_, err := Method(m.Chunks[0])
	var me *MethodError
	if !errors.As(err, &me) || !errors.Is(err, ErrMalformedStack) {
		t.Fatalf("err = %v, want *MethodError with ErrMalformedStack", err)
	}
	if me.Offset != -1 {
		t.Errorf("Offset = %d, want -1 for an end-of-method failure", me.Offset)
	}
}

func TestMethodWithTrace(t *testing.T) {
	m := assemble(t, classSource)

	seq, err := Method(m.Find("Example.newOperator"), WithTrace(commonlog.GetLogger("unstack.test")))
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	if seq.Len() != 2 {
		t.Errorf("Len() = %d, want 2", seq.Len())
	}
}

func TestAll(t *testing.T) {
	m := assemble(t, classSource)

	results := All(context.Background(), m.Chunks, WithLimit(2))
	if len(results) != len(m.Chunks) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(m.Chunks))
	}

	wantErr := map[string]error{
		"Example.broken": ErrImpureDuplication,
		"Example.swap":   ErrUnsupportedOperation,
	}
	for i, r := range results {
		if r.Name != m.Chunks[i].Name {
			t.Errorf("results[%d].Name = %q, want %q", i, r.Name, m.Chunks[i].Name)
		}
		if want, ok := wantErr[r.Name]; ok {
			if !errors.Is(r.Err, want) {
				t.Errorf("%s: err = %v, want %v", r.Name, r.Err, want)
			}
			if r.Sequence != nil {
				t.Errorf("%s: failed method has a sequence", r.Name)
			}
			continue
		}
		if r.Err != nil || r.Sequence == nil {
			t.Errorf("%s: err = %v, sequence = %v", r.Name, r.Err, r.Sequence)
		}
	}
}

func TestAllMatchesMethod(t *testing.T) {
	m := assemble(t, classSource)
	results := All(context.Background(), m.Chunks)

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		seq, err := Method(m.Find(r.Name))
		if err != nil {
			t.Fatalf("Method(%s): %v", r.Name, err)
		}
		if seq.String() != r.Sequence.String() {
			t.Errorf("%s: batch and single results differ:\n%s\n%s", r.Name, r.Sequence, seq)
		}
	}
}

func TestAllCanceled(t *testing.T) {
	m := assemble(t, classSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, r := range All(ctx, m.Chunks) {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want context.Canceled", r.Name, r.Err)
		}
	}
}
