package bytecode

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Assemble for malformed assembly text.
var ErrSyntax = errors.New("assembly syntax error")

// Assemble parses textual assembly into a module of method chunks.
//
// The format is line oriented; ';' and '#' start comments:
//
//	method Example.newOperator locals=2
//	    new java/lang/String
//	    dup
//	    const "foobar"
//	    invoke java/lang/String <init> 1 recv void
//	    store 1
//	    return_void
//	end
//
// Mnemonics are opcode names in lower case. "const" picks the shortest
// constant opcode for its operand (a quoted string, an integer or null).
// "name:" defines a label that "jump name" may reference before or after
// its definition. ".local N name" names slot N in the disassembly. Method
// options are "static", "params=N" and "locals=N".
//
// Every instruction is recorded in the chunk's source map with the line
// and column of its mnemonic.
func Assemble(src string) (*Module, error) {
	a := &assembler{module: &Module{}}
	scanner := bufio.NewScanner(strings.NewReader(src))
	for scanner.Scan() {
		a.line++
		if err := a.assembleLine(scanner.Text()); err != nil {
			return nil, fmt.Errorf("line %d: %w", a.line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if a.chunk != nil {
		return nil, fmt.Errorf("line %d: %w: method %s is missing \"end\"", a.line, ErrSyntax, a.chunk.Name)
	}
	return a.module, nil
}

type fixup struct {
	placeholder int
	label       string
	line        int
}

type assembler struct {
	module *Module
	line   int

	// current method
	chunk  *Chunk
	labels map[string]int
	fixups []fixup
}

func syntaxErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

func (a *assembler) assembleLine(text string) error {
	tokens, err := tokenize(text)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	head := tokens[0]
	switch {
	case head == "method":
		return a.beginMethod(tokens[1:])
	case head == "end":
		if len(tokens) != 1 {
			return syntaxErrorf("unexpected operands after end")
		}
		return a.endMethod()
	}

	if a.chunk == nil {
		return syntaxErrorf("instruction %q outside of a method", head)
	}

	if strings.HasSuffix(head, ":") && len(tokens) == 1 {
		name := strings.TrimSuffix(head, ":")
		if name == "" {
			return syntaxErrorf("empty label")
		}
		if _, dup := a.labels[name]; dup {
			return syntaxErrorf("label %q defined twice", name)
		}
		a.labels[name] = a.chunk.CurrentOffset()
		return nil
	}

	if head == ".local" {
		if len(tokens) != 3 {
			return syntaxErrorf(".local takes a slot and a name")
		}
		slot, err := parseUint8(tokens[1])
		if err != nil {
			return err
		}
		a.chunk.SetVarName(slot, tokens[2])
		return nil
	}

	offset := a.chunk.CurrentOffset()
	if err := a.instruction(strings.ToLower(head), tokens[1:]); err != nil {
		return err
	}
	column := len(text) - len(strings.TrimLeft(text, " \t")) + 1
	a.chunk.AddSourceLocation(uint32(offset), uint32(a.line), uint16(column))
	return nil
}

func (a *assembler) beginMethod(args []string) error {
	if a.chunk != nil {
		return syntaxErrorf("method %s is missing \"end\"", a.chunk.Name)
	}
	if len(args) == 0 {
		return syntaxErrorf("method needs a name")
	}
	c := NewChunk()
	c.Name = args[0]
	for _, opt := range args[1:] {
		key, value, hasValue := strings.Cut(opt, "=")
		switch {
		case key == "static" && !hasValue:
			c.Flags |= ChunkFlagStatic
		case key == "params" && hasValue:
			n, err := parseUint8(value)
			if err != nil {
				return err
			}
			c.ParamCount = n
		case key == "locals" && hasValue:
			n, err := parseUint8(value)
			if err != nil {
				return err
			}
			c.LocalCount = n
		default:
			return syntaxErrorf("unknown method option %q", opt)
		}
	}
	a.chunk = c
	a.labels = make(map[string]int)
	a.fixups = nil
	return nil
}

func (a *assembler) endMethod() error {
	if a.chunk == nil {
		return syntaxErrorf("end without method")
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return syntaxErrorf("undefined label %q (jump on line %d)", f.label, f.line)
		}
		a.chunk.PatchJumpTo(f.placeholder, target)
	}
	a.module.Add(a.chunk)
	a.chunk = nil
	return nil
}

func (a *assembler) instruction(mnemonic string, args []string) error {
	c := a.chunk
	want := func(n int) error {
		if len(args) != n {
			return syntaxErrorf("%s takes %d operand(s), got %d", mnemonic, n, len(args))
		}
		return nil
	}

	switch mnemonic {
	case "const":
		if err := want(1); err != nil {
			return err
		}
		arg := args[0]
		switch {
		case strings.HasPrefix(arg, `"`):
			s, err := strconv.Unquote(arg)
			if err != nil {
				return syntaxErrorf("bad string literal %s", arg)
			}
			c.EmitConstant(s)
		case arg == "null":
			c.Emit(OpConstNull)
		default:
			n, err := strconv.ParseInt(arg, 0, 32)
			if err != nil {
				return syntaxErrorf("bad constant %q", arg)
			}
			c.EmitInt(int32(n))
		}
		return nil

	case "const_int":
		if err := want(1); err != nil {
			return err
		}
		n, err := strconv.ParseInt(args[0], 0, 32)
		if err != nil {
			return syntaxErrorf("bad integer %q", args[0])
		}
		c.EmitWithOperand(OpConstInt, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		return nil

	case "load", "store":
		if err := want(1); err != nil {
			return err
		}
		slot, err := parseUint8(args[0])
		if err != nil {
			return err
		}
		op := OpLoad
		if mnemonic == "store" {
			op = OpStore
		}
		c.EmitSlot(op, slot)
		return nil

	case "inc":
		if err := want(2); err != nil {
			return err
		}
		slot, err := parseUint8(args[0])
		if err != nil {
			return err
		}
		delta, err := strconv.ParseInt(args[1], 0, 8)
		if err != nil {
			return syntaxErrorf("bad increment %q", args[1])
		}
		c.EmitInc(slot, int8(delta))
		return nil

	case "get_field", "get_static", "put_field", "put_static":
		if err := want(2); err != nil {
			return err
		}
		op, _ := LookupOpcode(strings.ToUpper(mnemonic))
		c.EmitField(op, args[0], args[1])
		return nil

	case "new":
		if err := want(1); err != nil {
			return err
		}
		c.EmitNew(args[0])
		return nil

	case "invoke":
		if len(args) < 3 {
			return syntaxErrorf("invoke needs owner, name and argument count")
		}
		argc, err := parseUint8(args[2])
		if err != nil {
			return err
		}
		var flags byte
		for _, f := range args[3:] {
			switch f {
			case "recv":
				flags |= InvokeReceiver
			case "void":
				flags |= InvokeVoid
			default:
				return syntaxErrorf("unknown invoke flag %q", f)
			}
		}
		c.EmitInvoke(args[0], args[1], argc, flags)
		return nil

	case "jump":
		if err := want(1); err != nil {
			return err
		}
		if target, ok := a.labels[args[0]]; ok {
			c.EmitLoop(target)
			return nil
		}
		placeholder := c.EmitJump(OpJump)
		a.fixups = append(a.fixups, fixup{placeholder: placeholder, label: args[0], line: a.line})
		return nil
	}

	op, ok := LookupOpcode(strings.ToUpper(mnemonic))
	if !ok {
		return syntaxErrorf("unknown mnemonic %q", mnemonic)
	}
	if op.OperandLen() != 0 {
		return syntaxErrorf("%s needs operands", mnemonic)
	}
	if err := want(0); err != nil {
		return err
	}
	c.Emit(op)
	return nil
}

func parseUint8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n > math.MaxUint8 {
		return 0, syntaxErrorf("expected a number from 0 to 255, got %q", s)
	}
	return uint8(n), nil
}

// tokenize splits a line on whitespace, keeping quoted strings (with their
// quotes) as single tokens and dropping comments.
func tokenize(line string) ([]string, error) {
	var tokens []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		switch rest[0] {
		case ';', '#':
			return tokens, nil
		case '"':
			q, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, syntaxErrorf("unterminated string literal")
			}
			tokens = append(tokens, q)
			rest = rest[len(q):]
		default:
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				end = len(rest)
			}
			tokens = append(tokens, rest[:end])
			rest = rest[end:]
		}
		rest = strings.TrimLeft(rest, " \t")
	}
	return tokens, nil
}
