package core

import (
	"encoding/binary"
	"fmt"
)

// IndirectDrawCommandSize is the packed size of one IndirectDrawCommand:
// five 32-bit fields, no padding.
const IndirectDrawCommandSize = 20

// IndirectDrawCommand mirrors the GPU's indexed indirect draw arguments.
// Field order matters.
type IndirectDrawCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	BaseInstance  uint32
}

// Put writes the command into b[:IndirectDrawCommandSize], little endian.
func (c IndirectDrawCommand) Put(b []byte) {
	_ = b[IndirectDrawCommandSize-1]
	binary.LittleEndian.PutUint32(b[0:4], c.IndexCount)
	binary.LittleEndian.PutUint32(b[4:8], c.InstanceCount)
	binary.LittleEndian.PutUint32(b[8:12], c.FirstIndex)
	binary.LittleEndian.PutUint32(b[12:16], uint32(c.BaseVertex))
	binary.LittleEndian.PutUint32(b[16:20], c.BaseInstance)
}

// Lines returns the command drawing the same triangles' edges out of an
// index buffer built by TriangleEdges.
func (c IndirectDrawCommand) Lines() IndirectDrawCommand {
	c.IndexCount *= 2
	c.FirstIndex *= 2
	return c
}

func (c IndirectDrawCommand) AppendTo(b []byte) []byte {
	var tmp [IndirectDrawCommandSize]byte
	c.Put(tmp[:])
	return append(b, tmp[:]...)
}

// DecodeIndirectDrawCommand reads one packed command.
func DecodeIndirectDrawCommand(b []byte) (IndirectDrawCommand, error) {
	if len(b) < IndirectDrawCommandSize {
		return IndirectDrawCommand{}, fmt.Errorf("indirect draw command: need %d bytes, have %d", IndirectDrawCommandSize, len(b))
	}
	return IndirectDrawCommand{
		IndexCount:    binary.LittleEndian.Uint32(b[0:4]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:8]),
		FirstIndex:    binary.LittleEndian.Uint32(b[8:12]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(b[12:16])),
		BaseInstance:  binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}
