// Package expr defines the source-level expressions rebuilt from stack
// machine operations.
//
// Expr is a closed set of variants: only the types in this package implement
// it, so consumers can switch over them exhaustively.
package expr

// Expr is a reconstructed source expression.
type Expr interface {
	// Pure reports whether evaluating the expression has no observable
	// effect beyond producing its value.
	Pure() bool
	String() string
	exprNode()
}

// LValue is an expression that may appear on the left of an assignment.
type LValue interface {
	Expr
	lvalue()
}

// Constant is a literal value: an int, a string or nil.
type Constant struct {
	Value any
}

func Const(v any) *Constant {
	return &Constant{Value: v}
}

// Variable reads a local variable slot.
type Variable struct {
	Slot int
}

func Var(slot int) *Variable {
	return &Variable{Slot: slot}
}

// Binary applies an arithmetic or bitwise operator to two operands.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func Bin(op BinaryOp, left, right Expr) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

// Field reads a field. Target is nil for static fields.
type Field struct {
	Owner  string
	Target Expr
	Name   string
}

func InstanceField(owner string, target Expr, name string) *Field {
	return &Field{Owner: owner, Target: target, Name: name}
}

func StaticField(owner, name string) *Field {
	return &Field{Owner: owner, Name: name}
}

// RawNew is an allocation whose constructor has not run yet. It only lives
// on the simulated stack until the matching constructor call replaces it
// with a NewObject.
type RawNew struct {
	Type string
}

func Alloc(typ string) *RawNew {
	return &RawNew{Type: typ}
}

// NewObject is an allocation followed by its constructor call.
type NewObject struct {
	Type string
	Args []Expr
}

func New(typ string, args ...Expr) *NewObject {
	if args == nil {
		args = []Expr{}
	}
	return &NewObject{Type: typ, Args: args}
}

// InvokeMethod calls a method. Target is nil for static calls.
type InvokeMethod struct {
	Owner  string
	Target Expr
	Name   string
	Args   []Expr
}

func Call(owner string, target Expr, name string, args ...Expr) *InvokeMethod {
	if args == nil {
		args = []Expr{}
	}
	return &InvokeMethod{Owner: owner, Target: target, Name: name, Args: args}
}

// Assignment stores Value into Target and evaluates to the stored value.
type Assignment struct {
	Target LValue
	Value  Expr
}

func Assign(target LValue, value Expr) *Assignment {
	return &Assignment{Target: target, Value: value}
}

// PreIncrement adds Delta to a slot and evaluates to the new value (++i).
type PreIncrement struct {
	Slot  int
	Delta int
}

func PreInc(slot, delta int) *PreIncrement {
	return &PreIncrement{Slot: slot, Delta: delta}
}

// PostIncrement adds Delta to a slot and evaluates to the old value (i++).
type PostIncrement struct {
	Slot  int
	Delta int
}

func PostInc(slot, delta int) *PostIncrement {
	return &PostIncrement{Slot: slot, Delta: delta}
}

func (*Constant) Pure() bool      { return true }
func (*Variable) Pure() bool      { return true }
func (b *Binary) Pure() bool      { return b.Left.Pure() && b.Right.Pure() }
func (f *Field) Pure() bool        { return f.Target == nil || f.Target.Pure() }
func (*RawNew) Pure() bool        { return false }
func (*NewObject) Pure() bool     { return false }
func (*InvokeMethod) Pure() bool  { return false }
func (*Assignment) Pure() bool    { return false }
func (*PreIncrement) Pure() bool  { return false }
func (*PostIncrement) Pure() bool { return false }

func (*Constant) exprNode()      {}
func (*Variable) exprNode()      {}
func (*Binary) exprNode()        {}
func (*Field) exprNode()         {}
func (*RawNew) exprNode()        {}
func (*NewObject) exprNode()     {}
func (*InvokeMethod) exprNode()  {}
func (*Assignment) exprNode()    {}
func (*PreIncrement) exprNode()  {}
func (*PostIncrement) exprNode() {}

func (*Variable) lvalue() {}
func (*Field) lvalue()    {}

// ConstructorName is the method name of instance initializers.
const ConstructorName = "<init>"
