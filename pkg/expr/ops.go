package expr

import "fmt"

// BinaryOp identifies the operator of a Binary expression.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
)

var binaryOpSymbols = [...]string{
	OpAdd:  "+",
	OpSub:  "-",
	OpMul:  "*",
	OpDiv:  "/",
	OpRem:  "%",
	OpAnd:  "&",
	OpOr:   "|",
	OpXor:  "^",
	OpShl:  "<<",
	OpShr:  ">>",
	OpUshr: ">>>",
}

// Symbol returns the source-level spelling of the operator.
func (op BinaryOp) Symbol() string {
	if int(op) < len(binaryOpSymbols) {
		return binaryOpSymbols[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op BinaryOp) String() string {
	return op.Symbol()
}

// Valid reports whether op is one of the defined operators.
func (op BinaryOp) Valid() bool {
	return int(op) < len(binaryOpSymbols)
}
