package bytecode

import (
	"encoding/binary"
	"fmt"
)

// ModuleMagic prefixes a serialized module: "USBM" (Unstack ByteCode Module)
var ModuleMagic = []byte{'U', 'S', 'B', 'M'}

// Module is an ordered collection of method chunks, typically everything
// declared by one class.
type Module struct {
	Chunks []*Chunk
}

// Add appends a chunk to the module.
func (m *Module) Add(c *Chunk) {
	m.Chunks = append(m.Chunks, c)
}

// Find returns the chunk with the given method name, or nil.
func (m *Module) Find(name string) *Chunk {
	for _, c := range m.Chunks {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Names returns the method names in declaration order.
func (m *Module) Names() []string {
	names := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		names[i] = c.Name
	}
	return names
}

// Serialize encodes the module.
// Format:
//
//	[magic:4] [version:2] [chunk_count:2]
//	[chunk:...] repeated, each a serialized Chunk
func (m *Module) Serialize() ([]byte, error) {
	if len(m.Chunks) > 0xFFFF {
		return nil, fmt.Errorf("too many chunks in module: %d", len(m.Chunks))
	}
	buf := make([]byte, 0, 64*len(m.Chunks)+8)
	buf = append(buf, ModuleMagic...)
	buf = binary.BigEndian.AppendUint16(buf, BytecodeVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Chunks)))
	for _, c := range m.Chunks {
		data, err := c.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", c.Name, err)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// DeserializeModule decodes a module written by Module.Serialize.
func DeserializeModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("module too short: need at least 8 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(ModuleMagic) {
		return nil, fmt.Errorf("invalid module magic: expected %q, got %q", ModuleMagic, data[0:4])
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version > BytecodeVersion {
		return nil, fmt.Errorf("module version %d is newer than supported version %d", version, BytecodeVersion)
	}
	count := int(binary.BigEndian.Uint16(data[6:8]))

	m := &Module{Chunks: make([]*Chunk, 0, count)}
	pos := 8
	for i := 0; i < count; i++ {
		c, n, err := deserialize(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		m.Chunks = append(m.Chunks, c)
		pos += n
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after module", len(data)-pos)
	}
	return m, nil
}

// IsModule reports whether data starts with the module magic.
func IsModule(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == string(ModuleMagic)
}
