package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFloat(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func TestAppendMat4IsColumnMajor(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3)
	b := appendMat4(nil, m)
	require.Len(t, b, instanceStride)
	// Translation lives in the last column.
	assert.Equal(t, float32(1), readFloat(b, 12))
	assert.Equal(t, float32(2), readFloat(b, 13))
	assert.Equal(t, float32(3), readFloat(b, 14))
	assert.Equal(t, float32(1), readFloat(b, 15))
}

func TestClipCorrectionMapsDepthToUnitRange(t *testing.T) {
	near := clipCorrection.Mul4x1(mgl32.Vec4{0, 0, -1, 1})
	far := clipCorrection.Mul4x1(mgl32.Vec4{0, 0, 1, 1})
	assert.InDelta(t, 0, near.Z()/near.W(), 1e-6)
	assert.InDelta(t, 1, far.Z()/far.W(), 1e-6)
}

func TestFrameUniformsLayout(t *testing.T) {
	fs := state.Empty()
	b := frameUniforms(nil, fs)
	require.Len(t, b, frameUniformSize)

	dir := fs.Light.Direction.Normalize()
	assert.InDelta(t, dir.X(), readFloat(b, 32), 1e-6)
	assert.InDelta(t, dir.Y(), readFloat(b, 33), 1e-6)
	assert.InDelta(t, dir.Z(), readFloat(b, 34), 1e-6)
	assert.Equal(t, float32(0), readFloat(b, 35))
	assert.Equal(t, float32(1), readFloat(b, 39))

	// Reuses the destination.
	again := frameUniforms(b, fs)
	assert.Equal(t, b, again)
}

func TestInstanceTableFollowsEntityOffsets(t *testing.T) {
	a := mgl32.Translate3D(1, 0, 0)
	c := mgl32.Translate3D(0, 0, 7)
	entities := []core.PerEntityInfo{
		{World: a, InstanceCount: 2, EntityOffset: 0},
		{World: c, InstanceCount: 1, EntityOffset: 2},
	}
	b := instanceTable(nil, entities)
	require.Len(t, b, 3*instanceStride)

	slot := func(i int) []byte { return b[i*instanceStride : (i+1)*instanceStride] }
	assert.Equal(t, appendMat4(nil, a), slot(0))
	assert.Equal(t, appendMat4(nil, a), slot(1))
	assert.Equal(t, appendMat4(nil, c), slot(2))
}

func TestVertexAndIndexBytes(t *testing.T) {
	vb := vertexBytes([]core.Vertex{{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 1, 0}}})
	require.Len(t, vb, vertexStride)
	assert.Equal(t, float32(3), readFloat(vb, 2))
	assert.Equal(t, float32(1), readFloat(vb, 4))

	ib := indexBytes([]uint32{0, 1, 0x01020304})
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 0, 0, 0, 4, 3, 2, 1}, ib)
}

func TestLineCommandsDoubleRanges(t *testing.T) {
	cmds := []core.IndirectDrawCommand{
		{IndexCount: 36, InstanceCount: 2, FirstIndex: 0, BaseVertex: 0, BaseInstance: 0},
		{IndexCount: 18, InstanceCount: 1, FirstIndex: 36, BaseVertex: 24, BaseInstance: 2},
	}
	b := lineCommands(nil, cmds)
	require.Len(t, b, 2*core.IndirectDrawCommandSize)

	second, err := core.DecodeIndirectDrawCommand(b[core.IndirectDrawCommandSize:])
	require.NoError(t, err)
	assert.Equal(t, core.IndirectDrawCommand{IndexCount: 36, InstanceCount: 1, FirstIndex: 72, BaseVertex: 24, BaseInstance: 2}, second)

	assert.Empty(t, lineCommands(b, nil), "reuses and resets the destination")
}

func TestOffsetTablePrefixesDrawCount(t *testing.T) {
	b := offsetTable(nil, 2, []byte{0, 0, 0, 0, 3, 0, 0, 0})
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0}, b)

	empty := offsetTable(b, 0, nil)
	assert.Equal(t, []byte{0, 0, 0, 0}, empty)
}
