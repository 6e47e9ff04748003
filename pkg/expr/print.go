package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceName converts an internal type name (java/lang/String) to its
// source spelling (java.lang.String).
func SourceName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

func (e *Constant) String() string      { return render(e) }
func (e *Variable) String() string      { return render(e) }
func (e *Binary) String() string        { return render(e) }
func (e *Field) String() string         { return render(e) }
func (e *RawNew) String() string        { return render(e) }
func (e *NewObject) String() string     { return render(e) }
func (e *InvokeMethod) String() string  { return render(e) }
func (e *Assignment) String() string    { return render(e) }
func (e *PreIncrement) String() string  { return render(e) }
func (e *PostIncrement) String() string { return render(e) }

func render(e Expr) string {
	var sb strings.Builder
	write(&sb, e)
	return sb.String()
}

func slotName(slot int) string {
	return "v" + strconv.Itoa(slot)
}

func write(sb *strings.Builder, e Expr) {
	switch e := e.(type) {
	case *Constant:
		switch v := e.Value.(type) {
		case nil:
			sb.WriteString("null")
		case string:
			sb.WriteString(strconv.Quote(v))
		default:
			fmt.Fprintf(sb, "%v", v)
		}
	case *Variable:
		sb.WriteString(slotName(e.Slot))
	case *Binary:
		writeOperand(sb, e.Left)
		sb.WriteString(" ")
		sb.WriteString(e.Op.Symbol())
		sb.WriteString(" ")
		writeOperand(sb, e.Right)
	case *Field:
		if e.Target != nil {
			writeOperand(sb, e.Target)
		} else {
			sb.WriteString(SourceName(e.Owner))
		}
		sb.WriteString(".")
		sb.WriteString(e.Name)
	case *RawNew:
		sb.WriteString("new ")
		sb.WriteString(SourceName(e.Type))
	case *NewObject:
		sb.WriteString("new ")
		sb.WriteString(SourceName(e.Type))
		writeArgs(sb, e.Args)
	case *InvokeMethod:
		if e.Name == ConstructorName {
			sb.WriteString("super")
			writeArgs(sb, e.Args)
			return
		}
		if e.Target != nil {
			writeOperand(sb, e.Target)
		} else {
			sb.WriteString(SourceName(e.Owner))
		}
		sb.WriteString(".")
		sb.WriteString(e.Name)
		writeArgs(sb, e.Args)
	case *Assignment:
		write(sb, e.Target)
		sb.WriteString(" = ")
		write(sb, e.Value)
	case *PreIncrement:
		switch e.Delta {
		case 1:
			sb.WriteString("++" + slotName(e.Slot))
		case -1:
			sb.WriteString("--" + slotName(e.Slot))
		default:
			fmt.Fprintf(sb, "%s += %d", slotName(e.Slot), e.Delta)
		}
	case *PostIncrement:
		switch e.Delta {
		case 1:
			sb.WriteString(slotName(e.Slot) + "++")
		case -1:
			sb.WriteString(slotName(e.Slot) + "--")
		default:
			fmt.Fprintf(sb, "(%s += %d) - %d", slotName(e.Slot), e.Delta, e.Delta)
		}
	case nil:
		sb.WriteString("<nil>")
	default:
		panic(fmt.Sprintf("expr: unknown expression type %T", e))
	}
}

// writeOperand parenthesizes compound operands so nesting stays visible.
func writeOperand(sb *strings.Builder, e Expr) {
	switch e.(type) {
	case *Binary, *Assignment:
		sb.WriteString("(")
		write(sb, e)
		sb.WriteString(")")
	default:
		write(sb, e)
	}
}

func writeArgs(sb *strings.Builder, args []Expr) {
	sb.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		write(sb, arg)
	}
	sb.WriteString(")")
}
