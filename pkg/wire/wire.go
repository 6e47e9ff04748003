// Package wire encodes reconstructed instruction sequences as canonical
// CBOR, so that equal sequences always produce identical bytes. Stored
// results and the command line tool's binary output use this format.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/unstack/pkg/expr"
	"github.com/chazu/unstack/pkg/instr"
)

// Version is the format version written into every Listing.
const Version = 1

// ErrBadNode is returned when decoding meets an unknown or ill-formed node.
var ErrBadNode = errors.New("wire: bad node")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Listing is the encoded form of one method's sequence.
type Listing struct {
	Version uint8   `cbor:"1,keyasint"`
	Method  string  `cbor:"2,keyasint"`
	Entries []Entry `cbor:"3,keyasint"`
}

// Entry is one labelled instruction.
type Entry struct {
	Label  int       `cbor:"1,keyasint"`
	Kind   InstrKind `cbor:"2,keyasint"`
	Expr   *Node     `cbor:"3,keyasint,omitempty"` // Push, Discard, Return with value
	Target int       `cbor:"4,keyasint,omitempty"` // Jump
}

// InstrKind identifies an instruction variant.
type InstrKind uint8

const (
	InstrPush    InstrKind = 1
	InstrDiscard InstrKind = 2
	InstrReturn  InstrKind = 3
	InstrJump    InstrKind = 4
	InstrDup     InstrKind = 5
	InstrFrame   InstrKind = 6
)

// NodeKind identifies an expression variant.
type NodeKind uint8

const (
	NodeConstant  NodeKind = 1
	NodeVariable  NodeKind = 2
	NodeBinary    NodeKind = 3
	NodeField     NodeKind = 4
	NodeRawNew    NodeKind = 5
	NodeNewObject NodeKind = 6
	NodeInvoke    NodeKind = 7
	NodeAssign    NodeKind = 8
	NodePreInc    NodeKind = 9
	NodePostInc   NodeKind = 10
)

// Node is one expression. Which fields are set depends on Kind.
type Node struct {
	Kind   NodeKind `cbor:"1,keyasint"`
	Slot   int      `cbor:"2,keyasint,omitempty"`  // Variable, PreInc, PostInc
	Delta  int      `cbor:"3,keyasint,omitempty"`  // PreInc, PostInc
	Op     uint8    `cbor:"4,keyasint,omitempty"`  // Binary
	Owner  string   `cbor:"5,keyasint,omitempty"`  // Field, Invoke
	Name   string   `cbor:"6,keyasint,omitempty"`  // Field, Invoke
	Type   string   `cbor:"7,keyasint,omitempty"`  // RawNew, NewObject
	Value  *Value   `cbor:"8,keyasint,omitempty"`  // Constant
	Target *Node    `cbor:"9,keyasint,omitempty"`  // Field, Invoke, Assign
	Args   []*Node  `cbor:"10,keyasint,omitempty"` // Binary (left, right), NewObject, Invoke, Assign (value)
}

// ValueKind identifies the type of a constant.
type ValueKind uint8

const (
	ValueNull   ValueKind = 1
	ValueInt    ValueKind = 2
	ValueString ValueKind = 3
)

// Value is a constant payload.
type Value struct {
	Kind ValueKind `cbor:"1,keyasint"`
	Int  int64     `cbor:"2,keyasint,omitempty"`
	Str  string    `cbor:"3,keyasint,omitempty"`
}

// MarshalSequence encodes the sequence of the named method.
func MarshalSequence(method string, seq *instr.Sequence) ([]byte, error) {
	l, err := Encode(method, seq)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(l)
}

// UnmarshalSequence decodes bytes written by MarshalSequence.
func UnmarshalSequence(data []byte) (*Listing, error) {
	var l Listing
	if err := cbor.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("wire: unmarshal listing: %w", err)
	}
	if l.Version > Version {
		return nil, fmt.Errorf("wire: listing version %d is newer than supported version %d", l.Version, Version)
	}
	return &l, nil
}

// Encode converts a sequence into its wire form.
func Encode(method string, seq *instr.Sequence) (*Listing, error) {
	l := &Listing{Version: Version, Method: method, Entries: make([]Entry, 0, seq.Len())}
	for _, e := range seq.Entries() {
		we := Entry{Label: int(e.Label)}
		switch in := e.Instruction.(type) {
		case *instr.Push:
			we.Kind = InstrPush
			we.Expr = encodeExpr(in.Expr)
		case *instr.Discard:
			we.Kind = InstrDiscard
			we.Expr = encodeExpr(in.Expr)
		case *instr.Return:
			we.Kind = InstrReturn
			if in.Value != nil {
				we.Expr = encodeExpr(in.Value)
			}
		case *instr.Jump:
			we.Kind = InstrJump
			we.Target = int(in.Target)
		case *instr.Duplicate:
			we.Kind = InstrDup
		case *instr.FrameMarker:
			we.Kind = InstrFrame
		default:
			return nil, fmt.Errorf("%w: instruction %T", ErrBadNode, in)
		}
		l.Entries = append(l.Entries, we)
	}
	return l, nil
}

func encodeExpr(e expr.Expr) *Node {
	switch e := e.(type) {
	case *expr.Constant:
		return &Node{Kind: NodeConstant, Value: encodeValue(e.Value)}
	case *expr.Variable:
		return &Node{Kind: NodeVariable, Slot: e.Slot}
	case *expr.Binary:
		return &Node{Kind: NodeBinary, Op: uint8(e.Op), Args: []*Node{encodeExpr(e.Left), encodeExpr(e.Right)}}
	case *expr.Field:
		n := &Node{Kind: NodeField, Owner: e.Owner, Name: e.Name}
		if e.Target != nil {
			n.Target = encodeExpr(e.Target)
		}
		return n
	case *expr.RawNew:
		return &Node{Kind: NodeRawNew, Type: e.Type}
	case *expr.NewObject:
		return &Node{Kind: NodeNewObject, Type: e.Type, Args: encodeList(e.Args)}
	case *expr.InvokeMethod:
		n := &Node{Kind: NodeInvoke, Owner: e.Owner, Name: e.Name, Args: encodeList(e.Args)}
		if e.Target != nil {
			n.Target = encodeExpr(e.Target)
		}
		return n
	case *expr.Assignment:
		return &Node{Kind: NodeAssign, Target: encodeExpr(e.Target), Args: []*Node{encodeExpr(e.Value)}}
	case *expr.PreIncrement:
		return &Node{Kind: NodePreInc, Slot: e.Slot, Delta: e.Delta}
	case *expr.PostIncrement:
		return &Node{Kind: NodePostInc, Slot: e.Slot, Delta: e.Delta}
	default:
		panic(fmt.Sprintf("wire: unknown expression type %T", e))
	}
}

func encodeList(es []expr.Expr) []*Node {
	if len(es) == 0 {
		return nil
	}
	out := make([]*Node, len(es))
	for i, e := range es {
		out[i] = encodeExpr(e)
	}
	return out
}

func encodeValue(v any) *Value {
	switch v := v.(type) {
	case nil:
		return &Value{Kind: ValueNull}
	case string:
		return &Value{Kind: ValueString, Str: v}
	case int:
		return &Value{Kind: ValueInt, Int: int64(v)}
	case int32:
		return &Value{Kind: ValueInt, Int: int64(v)}
	case int64:
		return &Value{Kind: ValueInt, Int: v}
	default:
		return &Value{Kind: ValueString, Str: fmt.Sprint(v)}
	}
}

// Sequence rebuilds a read-only instruction sequence from the listing.
func (l *Listing) Sequence() (*instr.Sequence, error) {
	seq := instr.NewSequence()
	for i, we := range l.Entries {
		in, err := decodeEntry(we)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		seq.SetLabel(instr.Label(we.Label))
		seq.Append(in)
	}
	seq.Freeze()
	return seq, nil
}

func decodeEntry(we Entry) (instr.Instruction, error) {
	switch we.Kind {
	case InstrPush, InstrDiscard:
		e, err := decodeExpr(we.Expr)
		if err != nil {
			return nil, err
		}
		if we.Kind == InstrPush {
			return &instr.Push{Expr: e}, nil
		}
		return &instr.Discard{Expr: e}, nil
	case InstrReturn:
		if we.Expr == nil {
			return &instr.Return{}, nil
		}
		e, err := decodeExpr(we.Expr)
		if err != nil {
			return nil, err
		}
		return &instr.Return{Value: e}, nil
	case InstrJump:
		return &instr.Jump{Target: instr.Label(we.Target)}, nil
	case InstrDup:
		return &instr.Duplicate{}, nil
	case InstrFrame:
		return &instr.FrameMarker{}, nil
	}
	return nil, fmt.Errorf("%w: instruction kind %d", ErrBadNode, we.Kind)
}

func decodeExpr(n *Node) (expr.Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: missing expression", ErrBadNode)
	}
	switch n.Kind {
	case NodeConstant:
		if n.Value == nil {
			return nil, fmt.Errorf("%w: constant without value", ErrBadNode)
		}
		switch n.Value.Kind {
		case ValueNull:
			return expr.Const(nil), nil
		case ValueInt:
			return expr.Const(int(n.Value.Int)), nil
		case ValueString:
			return expr.Const(n.Value.Str), nil
		}
		return nil, fmt.Errorf("%w: value kind %d", ErrBadNode, n.Value.Kind)

	case NodeVariable:
		return expr.Var(n.Slot), nil

	case NodeBinary:
		op := expr.BinaryOp(n.Op)
		if !op.Valid() || len(n.Args) != 2 {
			return nil, fmt.Errorf("%w: binary %s with %d operands", ErrBadNode, op, len(n.Args))
		}
		args, err := decodeList(n.Args)
		if err != nil {
			return nil, err
		}
		return expr.Bin(op, args[0], args[1]), nil

	case NodeField:
		if n.Target == nil {
			return expr.StaticField(n.Owner, n.Name), nil
		}
		target, err := decodeExpr(n.Target)
		if err != nil {
			return nil, err
		}
		return expr.InstanceField(n.Owner, target, n.Name), nil

	case NodeRawNew:
		return expr.Alloc(n.Type), nil

	case NodeNewObject:
		args, err := decodeList(n.Args)
		if err != nil {
			return nil, err
		}
		return expr.New(n.Type, args...), nil

	case NodeInvoke:
		var target expr.Expr
		if n.Target != nil {
			t, err := decodeExpr(n.Target)
			if err != nil {
				return nil, err
			}
			target = t
		}
		args, err := decodeList(n.Args)
		if err != nil {
			return nil, err
		}
		return expr.Call(n.Owner, target, n.Name, args...), nil

	case NodeAssign:
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("%w: assignment with %d values", ErrBadNode, len(n.Args))
		}
		target, err := decodeExpr(n.Target)
		if err != nil {
			return nil, err
		}
		lv, ok := target.(expr.LValue)
		if !ok {
			return nil, fmt.Errorf("%w: cannot assign to %s", ErrBadNode, target)
		}
		value, err := decodeExpr(n.Args[0])
		if err != nil {
			return nil, err
		}
		return expr.Assign(lv, value), nil

	case NodePreInc:
		return expr.PreInc(n.Slot, n.Delta), nil
	case NodePostInc:
		return expr.PostInc(n.Slot, n.Delta), nil
	}
	return nil, fmt.Errorf("%w: node kind %d", ErrBadNode, n.Kind)
}

func decodeList(ns []*Node) ([]expr.Expr, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	out := make([]expr.Expr, len(ns))
	for i, n := range ns {
		e, err := decodeExpr(n)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
