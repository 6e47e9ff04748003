package expr

import "fmt"

// Equal reports whether a and b have the same shape and payloads.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	switch a := a.(type) {
	case *Constant:
		b, ok := b.(*Constant)
		return ok && constantEqual(a.Value, b.Value)
	case *Variable:
		b, ok := b.(*Variable)
		return ok && a.Slot == b.Slot
	case *Binary:
		b, ok := b.(*Binary)
		return ok && a.Op == b.Op && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case *Field:
		b, ok := b.(*Field)
		return ok && a.Owner == b.Owner && a.Name == b.Name && Equal(a.Target, b.Target)
	case *RawNew:
		b, ok := b.(*RawNew)
		return ok && a.Type == b.Type
	case *NewObject:
		b, ok := b.(*NewObject)
		return ok && a.Type == b.Type && argsEqual(a.Args, b.Args)
	case *InvokeMethod:
		b, ok := b.(*InvokeMethod)
		return ok && a.Owner == b.Owner && a.Name == b.Name &&
			Equal(a.Target, b.Target) && argsEqual(a.Args, b.Args)
	case *Assignment:
		b, ok := b.(*Assignment)
		return ok && Equal(a.Target, b.Target) && Equal(a.Value, b.Value)
	case *PreIncrement:
		b, ok := b.(*PreIncrement)
		return ok && *a == *b
	case *PostIncrement:
		b, ok := b.(*PostIncrement)
		return ok && *a == *b
	default:
		panic(fmt.Sprintf("expr: unknown expression type %T", a))
	}
}

// isNil treats a typed nil LValue the same as an untyped nil.
func isNil(e Expr) bool {
	switch e := e.(type) {
	case nil:
		return true
	case *Variable:
		return e == nil
	case *Field:
		return e == nil
	}
	return false
}

func argsEqual(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func constantEqual(a, b any) bool {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt || bInt {
		return aInt && bInt && ai == bi
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr || bStr {
		return aStr && bStr && as == bs
	}
	return a == nil && b == nil
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Children returns the direct sub-expressions of e in evaluation order.
func Children(e Expr) []Expr {
	switch e := e.(type) {
	case *Constant, *Variable, *RawNew, *PreIncrement, *PostIncrement:
		return nil
	case *Binary:
		return []Expr{e.Left, e.Right}
	case *Field:
		if e.Target == nil {
			return nil
		}
		return []Expr{e.Target}
	case *NewObject:
		return e.Args
	case *InvokeMethod:
		if e.Target == nil {
			return e.Args
		}
		return append([]Expr{e.Target}, e.Args...)
	case *Assignment:
		return []Expr{e.Target, e.Value}
	default:
		panic(fmt.Sprintf("expr: unknown expression type %T", e))
	}
}

// Walk calls fn for e and every sub-expression, parents first. Returning
// false from fn stops the descent below that node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, child := range Children(e) {
		Walk(child, fn)
	}
}

// ContainsRawNew reports whether an unconstructed allocation occurs anywhere
// in e.
func ContainsRawNew(e Expr) bool {
	found := false
	Walk(e, func(x Expr) bool {
		if _, ok := x.(*RawNew); ok {
			found = true
		}
		return !found
	})
	return found
}
