package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gekko3d/framecore/rt/core"
)

// ErrCapacityExceeded is the value Append panics with, wrapped, when a frame
// holds more draws than the buffer was sized for. It is not recoverable.
var ErrCapacityExceeded = errors.New("pipeline: command buffer overflow")

// CommandBuffer is the per-frame list of indirect draws and the parallel
// entity offset list. Its capacity is fixed when it is created.
type CommandBuffer struct {
	cmds     []core.IndirectDrawCommand
	offsets  []uint32
	capacity int

	cmdBytes []byte
	offBytes []byte
}

func NewCommandBuffer(capacity int) *CommandBuffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("pipeline: invalid command buffer capacity %d", capacity))
	}
	return &CommandBuffer{
		cmds:     make([]core.IndirectDrawCommand, 0, capacity),
		offsets:  make([]uint32, 0, capacity),
		capacity: capacity,
	}
}

func (b *CommandBuffer) Reset() {
	b.cmds = b.cmds[:0]
	b.offsets = b.offsets[:0]
}

// Append adds one draw. Going past the capacity is a caller bug and panics
// rather than dropping draws.
func (b *CommandBuffer) Append(cmd core.IndirectDrawCommand, offset uint32) {
	if len(b.cmds) >= b.capacity {
		panic(fmt.Errorf("%w: capacity %d", ErrCapacityExceeded, b.capacity))
	}
	b.cmds = append(b.cmds, cmd)
	b.offsets = append(b.offsets, offset)
}

func (b *CommandBuffer) Len() int { return len(b.cmds) }
func (b *CommandBuffer) Cap() int { return b.capacity }

func (b *CommandBuffer) Commands() []core.IndirectDrawCommand { return b.cmds }
func (b *CommandBuffer) Offsets() []uint32                    { return b.offsets }

// CommandBytes packs the commands for upload. The slice is reused by the next
// call.
func (b *CommandBuffer) CommandBytes() []byte {
	b.cmdBytes = b.cmdBytes[:0]
	for _, c := range b.cmds {
		b.cmdBytes = c.AppendTo(b.cmdBytes)
	}
	return b.cmdBytes
}

// OffsetBytes packs the offsets as little-endian u32s. The slice is reused by
// the next call.
func (b *CommandBuffer) OffsetBytes() []byte {
	b.offBytes = b.offBytes[:0]
	for _, o := range b.offsets {
		b.offBytes = binary.LittleEndian.AppendUint32(b.offBytes, o)
	}
	return b.offBytes
}
