package bytecode

import (
	"encoding/binary"
	"fmt"
)

// BytecodeVersion is the chunk format version written by Serialize.
const BytecodeVersion uint16 = 1

// BytecodeMagic prefixes a serialized chunk: "USBC".
var BytecodeMagic = []byte{'U', 'S', 'B', 'C'}

// ChunkFlags describe a method.
type ChunkFlags uint16

const (
	// ChunkFlagDebug marks a chunk that carries a source map or local names.
	ChunkFlagDebug ChunkFlags = 1 << 0

	// ChunkFlagStatic indicates the method has no receiver in slot 0.
	ChunkFlagStatic ChunkFlags = 1 << 1
)

// SourceLocation ties an instruction offset to the assembly line it came
// from.
type SourceLocation struct {
	BytecodeOffset uint32
	Line           uint32 // 1-based
	Column         uint16 // 1-based
}

// Chunk holds the bytecode of one method.
// It is the unit the reader walks and the decompiler reconstructs.
type Chunk struct {
	// Header
	Version uint16     // Bytecode format version
	Flags   ChunkFlags // Compilation flags
	Name    string     // Method name, e.g. "Foo.bar"

	// Code section
	Code []byte // Bytecode instructions

	// Constant pool - strings referenced by OpConst, type, field and method operands
	Constants []string

	ParamCount uint8 // Number of parameters
	LocalCount uint8 // Number of local variable slots needed

	// Present when ChunkFlagDebug is set.
	SourceMap []SourceLocation // ascending by offset
	VarNames  []string         // indexed by slot; "" for unnamed slots
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]string, 0, 8),
	}
}

// IsStatic reports whether the method is static.
func (c *Chunk) IsStatic() bool {
	return c.Flags&ChunkFlagStatic != 0
}

// AddConstant interns value in the pool and returns its index.
func (c *Chunk) AddConstant(value string) uint16 {
	for i, s := range c.Constants {
		if s == value {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// constant returns the constant at index, or an error for a bad index.
func (c *Chunk) constant(index uint16) (string, error) {
	if int(index) >= len(c.Constants) {
		return "", fmt.Errorf("%w: constant index %d out of range (%d constants)", ErrCorruptCode, index, len(c.Constants))
	}
	return c.Constants[index], nil
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitConstant emits an OpConst instruction for the given string value.
// Adds the constant to the pool if not already present.
func (c *Chunk) EmitConstant(value string) int {
	idx := c.AddConstant(value)
	return c.EmitWithOperand(OpConst, byte(idx>>8), byte(idx))
}

// EmitInt emits the shortest instruction that pushes v.
func (c *Chunk) EmitInt(v int32) int {
	switch v {
	case 0:
		return c.Emit(OpConstZero)
	case 1:
		return c.Emit(OpConstOne)
	}
	return c.EmitWithOperand(OpConstInt, binary.BigEndian.AppendUint32(nil, uint32(v))...)
}

// EmitSlot emits OpLoad or OpStore for a local slot.
func (c *Chunk) EmitSlot(op Opcode, slot uint8) int {
	return c.EmitWithOperand(op, slot)
}

// EmitInc emits an in-place increment of a local slot.
func (c *Chunk) EmitInc(slot uint8, delta int8) int {
	return c.EmitWithOperand(OpInc, slot, byte(delta))
}

// EmitField emits one of the four field opcodes.
func (c *Chunk) EmitField(op Opcode, owner, name string) int {
	o := c.AddConstant(owner)
	n := c.AddConstant(name)
	return c.EmitWithOperand(op, byte(o>>8), byte(o), byte(n>>8), byte(n))
}

// EmitNew emits an allocation of typeName.
func (c *Chunk) EmitNew(typeName string) int {
	idx := c.AddConstant(typeName)
	return c.EmitWithOperand(OpNew, byte(idx>>8), byte(idx))
}

// EmitInvoke emits a call instruction. flags is a combination of
// InvokeReceiver and InvokeVoid.
func (c *Chunk) EmitInvoke(owner, name string, argc uint8, flags byte) int {
	o := c.AddConstant(owner)
	n := c.AddConstant(name)
	return c.EmitWithOperand(OpInvoke, byte(o>>8), byte(o), byte(n>>8), byte(n), argc, flags)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                              // Return offset of the placeholder bytes
}

// PatchJumpTo points the jump whose placeholder EmitJump returned at target.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	// relative to the end of the jump instruction
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a jump back to an already emitted offset.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3
	delta := loopStart - jumpFrom

	c.Code = append(c.Code, byte(OpJump))
	c.Code = append(c.Code, byte(delta>>8), byte(delta))
}

// CurrentOffset returns the offset the next instruction will have.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddSourceLocation records where the instruction at bytecodeOffset came
// from. Offsets must be added in ascending order.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32, column uint16) {
	c.Flags |= ChunkFlagDebug
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: bytecodeOffset,
		Line:           line,
		Column:         column,
	})
}

// GetSourceLocation returns the location of the instruction covering
// offset, or 0, 0 without a source map.
func (c *Chunk) GetSourceLocation(offset uint32) (line uint32, column uint16) {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].BytecodeOffset <= offset {
			return c.SourceMap[i].Line, c.SourceMap[i].Column
		}
	}
	return 0, 0
}

// SetVarName names a local slot for the disassembly.
func (c *Chunk) SetVarName(slot uint8, name string) {
	c.Flags |= ChunkFlagDebug
	for len(c.VarNames) <= int(slot) {
		c.VarNames = append(c.VarNames, "")
	}
	c.VarNames[slot] = name
}

// Serialize encodes the chunk:
//
//	[magic:4] [version:2] [flags:2]
//	[name_len:2] [name:...]
//	[code_len:4] [code:...]
//	[const_count:2] [constants:...]
//	[param_count:1] [local_count:1]
//	[debug_present:1] [debug_info:...] (if ChunkFlagDebug)
func (c *Chunk) Serialize() ([]byte, error) {
	if len(c.Name) > 0xFFFF {
		return nil, fmt.Errorf("method name too long: %d bytes", len(c.Name))
	}
	if len(c.Constants) > 0xFFFF {
		return nil, fmt.Errorf("too many constants: %d", len(c.Constants))
	}

	estimatedSize := 16 + len(c.Name) + len(c.Code) + len(c.Constants)*32
	buf := make([]byte, 0, estimatedSize)

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, c.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Flags))

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Name)))
	buf = append(buf, c.Name...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, s := range c.Constants {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("constant too long: %d bytes", len(s))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	buf = append(buf, c.ParamCount, c.LocalCount)

	if c.Flags&ChunkFlagDebug != 0 {
		buf = append(buf, 1) // Debug present marker

		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.SourceMap)))
		for _, loc := range c.SourceMap {
			buf = binary.BigEndian.AppendUint32(buf, loc.BytecodeOffset)
			buf = binary.BigEndian.AppendUint32(buf, loc.Line)
			buf = binary.BigEndian.AppendUint16(buf, loc.Column)
		}

		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.VarNames)))
		for _, name := range c.VarNames {
			buf = append(buf, byte(len(name)))
			buf = append(buf, name...)
		}
	} else {
		buf = append(buf, 0) // No debug info
	}

	return buf, nil
}

// Deserialize decodes a chunk from bytes.
func Deserialize(data []byte) (*Chunk, error) {
	c, n, err := deserialize(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after chunk", len(data)-n)
	}
	return c, nil
}

// deserialize decodes one chunk and returns how many bytes it used.
func deserialize(data []byte) (*Chunk, int, error) {
	r := &byteReader{data: data}

	magic := r.bytes(4)
	if r.err != nil {
		return nil, 0, fmt.Errorf("bytecode too short: need at least 8 bytes, got %d", len(data))
	}
	if string(magic) != string(BytecodeMagic) {
		return nil, 0, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, magic)
	}

	c := &Chunk{
		Version: r.uint16("version"),
		Flags:   ChunkFlags(r.uint16("flags")),
	}
	if r.err == nil && c.Version > BytecodeVersion {
		return nil, 0, fmt.Errorf("bytecode version %d is newer than supported version %d", c.Version, BytecodeVersion)
	}

	c.Name = string(r.bytes(int(r.uint16("name length"))))

	codeLen := r.uint32("code length")
	c.Code = append([]byte(nil), r.bytes(int(codeLen))...)

	constCount := r.uint16("constant count")
	c.Constants = make([]string, 0, constCount)
	for i := 0; i < int(constCount) && r.err == nil; i++ {
		strLen := r.uint16("constant length")
		c.Constants = append(c.Constants, string(r.bytes(int(strLen))))
	}

	c.ParamCount = r.byte("param count")
	c.LocalCount = r.byte("local count")

	if hasDebug := r.byte("debug marker"); hasDebug != 0 {
		sourceMapLen := r.uint16("source map count")
		for i := 0; i < int(sourceMapLen) && r.err == nil; i++ {
			c.SourceMap = append(c.SourceMap, SourceLocation{
				BytecodeOffset: r.uint32("source offset"),
				Line:           r.uint32("source line"),
				Column:         r.uint16("source column"),
			})
		}

		varNamesLen := r.uint16("var names count")
		for i := 0; i < int(varNamesLen) && r.err == nil; i++ {
			nameLen := r.byte("var name length")
			c.VarNames = append(c.VarNames, string(r.bytes(int(nameLen))))
		}
	}

	if r.err != nil {
		return nil, 0, r.err
	}
	return c, r.pos, nil
}

// byteReader reads big-endian fields and remembers the first error, so a
// decoder can run straight through and check once at the end.
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("unexpected end of bytecode reading %s at pos %d", what, r.pos)
		return false
	}
	return true
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n, fmt.Sprintf("%d bytes", n)) {
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) byte(what string) byte {
	if !r.need(1, what) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *byteReader) uint16(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) uint32(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}
