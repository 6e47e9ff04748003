package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	if c.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", c.Name))
	}
	sb.WriteString(fmt.Sprintf("; Unstack Bytecode v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", c.Flags))
	if c.Flags&ChunkFlagDebug != 0 {
		sb.WriteString(" [DEBUG]")
	}
	if c.Flags&ChunkFlagStatic != 0 {
		sb.WriteString(" [STATIC]")
	}
	sb.WriteString("\n")

	if c.ParamCount > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters: %d\n", c.ParamCount))
	}
	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", c.LocalCount))
	}

	sb.WriteString("\n")

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, s := range c.Constants {
			// Truncate long strings for readability
			display := s
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, display))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)

		if c.Flags&ChunkFlagDebug != 0 {
			if srcLine, srcCol := c.GetSourceLocation(uint32(offset)); srcLine > 0 {
				sb.WriteString(fmt.Sprintf("%04X  %-30s ; line %d:%d\n", offset, line, srcLine, srcCol))
				offset += instrLen
				continue
			}
		}
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))

		offset += instrLen
	}

	return sb.String()
}

// disassembleInstruction formats the instruction at offset and returns its
// length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	if offset+1+info.OperandLen > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst:
		idx := c.readUint16(offset + 1)
		constVal := c.constantOrEmpty(idx)
		if len(constVal) > 20 {
			constVal = constVal[:17] + "..."
		}
		return fmt.Sprintf("CONST %d ; %q", idx, constVal), 3

	case OpConstInt:
		v := int32(binary.BigEndian.Uint32(c.Code[offset+1:]))
		return fmt.Sprintf("CONST_INT %d", v), 5

	case OpLoad, OpStore:
		slot := c.Code[offset+1]
		if varName := c.getVarName(int(slot)); varName != "" {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, varName), 2
		}
		return fmt.Sprintf("%s %d", info.Name, slot), 2

	case OpInc:
		slot := c.Code[offset+1]
		delta := int8(c.Code[offset+2])
		return fmt.Sprintf("INC %d %+d", slot, delta), 3

	case OpGetField, OpGetStatic, OpPutField, OpPutStatic:
		owner := c.constantOrEmpty(c.readUint16(offset + 1))
		name := c.constantOrEmpty(c.readUint16(offset + 3))
		return fmt.Sprintf("%s %s.%s", info.Name, owner, name), 5

	case OpNew:
		return fmt.Sprintf("NEW %s", c.constantOrEmpty(c.readUint16(offset+1))), 3

	case OpInvoke:
		owner := c.constantOrEmpty(c.readUint16(offset + 1))
		name := c.constantOrEmpty(c.readUint16(offset + 3))
		argc := c.Code[offset+5]
		flags := c.Code[offset+6]
		var extra string
		if flags&InvokeReceiver != 0 {
			extra += " recv"
		}
		if flags&InvokeVoid != 0 {
			extra += " void"
		}
		return fmt.Sprintf("INVOKE %s.%s argc=%d%s", owner, name, argc, extra), 7

	case OpJump:
		delta := c.readInt16(offset + 1)
		target := offset + 3 + int(delta)
		return fmt.Sprintf("JUMP %+d (-> %04X)", delta, target), 3
	}

	instrLen := 1 + info.OperandLen
	if info.OperandLen == 0 {
		return info.Name, instrLen
	}

	// Format operands generically
	operands := make([]string, 0, info.OperandLen)
	for i := 0; i < info.OperandLen; i++ {
		operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
	}
	return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), instrLen
}

// readUint16 reads a big-endian uint16 from the code at the given offset.
func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// readInt16 reads a big-endian int16 from the code at the given offset.
func (c *Chunk) readInt16(offset int) int16 {
	return int16(c.readUint16(offset))
}

func (c *Chunk) constantOrEmpty(idx uint16) string {
	if int(idx) < len(c.Constants) {
		return c.Constants[idx]
	}
	return ""
}

// getVarName returns the name a .local directive gave slot, if any.
func (c *Chunk) getVarName(slot int) string {
	if slot < len(c.VarNames) {
		return c.VarNames[slot]
	}
	return ""
}
