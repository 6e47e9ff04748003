package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack, discarding it
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst     Opcode = 0x10 // Push string constant from pool: OpConst <index:u16>
	OpConstInt  Opcode = 0x11 // Push integer: OpConstInt <value:i32>
	OpConstNull Opcode = 0x12 // Push null
	OpConstZero Opcode = 0x13 // Push 0
	OpConstOne  Opcode = 0x14 // Push 1

	// ========================================================================
	// Local variables (0x20-0x2F)
	// ========================================================================

	OpLoad  Opcode = 0x20 // Push local variable: OpLoad <slot:u8>
	OpStore Opcode = 0x21 // Pop and store to local: OpStore <slot:u8>
	OpInc   Opcode = 0x22 // Add to local in place: OpInc <slot:u8> <delta:i8>

	// ========================================================================
	// Fields (0x40-0x4F)
	// ========================================================================

	OpGetField  Opcode = 0x40 // Pop target, push field: OpGetField <owner:u16> <name:u16>
	OpGetStatic Opcode = 0x41 // Push static field: OpGetStatic <owner:u16> <name:u16>
	OpPutField  Opcode = 0x42 // Pop value and target, store field
	OpPutStatic Opcode = 0x43 // Pop value, store static field

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd  Opcode = 0x50 // Pop two, push sum
	OpSub  Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul  Opcode = 0x52 // Pop two, push product
	OpDiv  Opcode = 0x53 // Pop two, push quotient
	OpMod  Opcode = 0x54 // Pop two, push remainder
	OpNeg  Opcode = 0x55 // Negate top of stack
	OpAnd  Opcode = 0x56 // Pop two, push bitwise and
	OpOr   Opcode = 0x57 // Pop two, push bitwise or
	OpXor  Opcode = 0x58 // Pop two, push bitwise xor
	OpShl  Opcode = 0x59 // Pop two, push a << b
	OpShr  Opcode = 0x5A // Pop two, push a >> b
	OpUshr Opcode = 0x5B // Pop two, push a >>> b

	// ========================================================================
	// Objects (0x70-0x7F)
	// ========================================================================

	OpNew Opcode = 0x70 // Allocate uninitialized object: OpNew <type:u16>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump  Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpFrame Opcode = 0x8F // Stack map frame marker

	// ========================================================================
	// Invocation (0x90-0x9F)
	// ========================================================================

	OpInvoke Opcode = 0x90 // Call: OpInvoke <owner:u16> <name:u16> <argc:u8> <flags:u8>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn     Opcode = 0xF0 // Return top of stack
	OpReturnVoid Opcode = 0xF1 // Return without a value
)

// Flags carried by OpInvoke.
const (
	InvokeReceiver byte = 1 << 0 // a receiver is popped beneath the arguments
	InvokeVoid     byte = 1 << 1 // the callee returns nothing
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack (-1 = variable)
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	// Constants
	OpConst:     {"CONST", 0, 1, 2},
	OpConstInt:  {"CONST_INT", 0, 1, 4},
	OpConstNull: {"CONST_NULL", 0, 1, 0},
	OpConstZero: {"CONST_ZERO", 0, 1, 0},
	OpConstOne:  {"CONST_ONE", 0, 1, 0},

	// Local variables
	OpLoad:  {"LOAD", 0, 1, 1},
	OpStore: {"STORE", 1, 0, 1},
	OpInc:   {"INC", 0, 0, 2},

	// Fields
	OpGetField:  {"GET_FIELD", 1, 1, 4},
	OpGetStatic: {"GET_STATIC", 0, 1, 4},
	OpPutField:  {"PUT_FIELD", 2, 0, 4},
	OpPutStatic: {"PUT_STATIC", 1, 0, 4},

	// Arithmetic
	OpAdd:  {"ADD", 2, 1, 0},
	OpSub:  {"SUB", 2, 1, 0},
	OpMul:  {"MUL", 2, 1, 0},
	OpDiv:  {"DIV", 2, 1, 0},
	OpMod:  {"MOD", 2, 1, 0},
	OpNeg:  {"NEG", 1, 1, 0},
	OpAnd:  {"AND", 2, 1, 0},
	OpOr:   {"OR", 2, 1, 0},
	OpXor:  {"XOR", 2, 1, 0},
	OpShl:  {"SHL", 2, 1, 0},
	OpShr:  {"SHR", 2, 1, 0},
	OpUshr: {"USHR", 2, 1, 0},

	// Objects
	OpNew: {"NEW", 0, 1, 2},

	// Control flow
	OpJump:  {"JUMP", 0, 0, 2},
	OpFrame: {"FRAME", 0, 0, 0},

	// Invocation
	OpInvoke: {"INVOKE", -1, -1, 6}, // Pops argc args (+ receiver), pushes 0 or 1

	// Return
	OpReturn:     {"RETURN", 1, 0, 0},
	OpReturnVoid: {"RETURN_VOID", 0, 0, 0},
}

// opcodesByName is the reverse of opcodeInfoTable, used by the assembler.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// LookupOpcode returns the opcode with the given name (e.g. "GET_FIELD").
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op == OpJump
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnVoid
}

// IsArithmetic returns true for the binary arithmetic and bitwise opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpUshr && op != OpNeg
}

// IsField returns true if this opcode reads or writes a field.
func (op Opcode) IsField() bool {
	return op >= OpGetField && op <= OpPutStatic
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
