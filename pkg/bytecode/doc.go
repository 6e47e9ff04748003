// Package bytecode defines the compact stack-machine instruction format that
// the decompiler reads, together with a reader, a disassembler and a small
// text assembler for writing method bodies by hand.
//
// The format is designed for:
//   - Compact representation (typically 1-3 bytes per instruction)
//   - Fast decoding (single-byte opcodes, fixed operand widths)
//   - Easy serialization (chunks can be stored in SQLite or passed between processes)
//
// # Architecture Overview
//
//   - Opcodes: about thirty stack instructions covering constants, local
//     variables, fields, arithmetic, allocation, invocation and returns.
//
//   - Chunk: the code of one method plus its string constant pool, parameter
//     and local counts and optional debug info. Chunks serialize to the
//     "USBC" format; a Module groups chunks under the "USBM" magic.
//
//   - Reader: Walk decodes a chunk and drives a MethodVisitor with one
//     callback per instruction, announcing jump targets as labels.
//
//   - Assembler: Assemble turns line-oriented text into a Module. Tests and
//     the command line tool use it to build inputs.
//
// # Operand encoding
//
// Multi-byte operands are big-endian. Constant, type, owner and member
// names are u16 indices into the chunk's constant pool. Jump offsets are
// signed and relative to the end of the jump instruction.
package bytecode
