package gpu

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	vertexStride     = 24
	instanceStride   = 64
	frameUniformSize = 160
)

// clipCorrection maps GL clip depth [-w, w] to WebGPU's [0, w].
var clipCorrection = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

func appendFloat32(b []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
}

// appendMat4 writes m column-major, which is both mgl32's and WGSL's order.
func appendMat4(b []byte, m mgl32.Mat4) []byte {
	for _, f := range m {
		b = appendFloat32(b, f)
	}
	return b
}

func appendVec4(b []byte, v mgl32.Vec4) []byte {
	for _, f := range v {
		b = appendFloat32(b, f)
	}
	return b
}

// frameUniforms packs the Frame struct of mesh.wgsl for fs.
func frameUniforms(dst []byte, fs *state.FrameState) []byte {
	dst = dst[:0]
	dst = appendMat4(dst, clipCorrection.Mul4(fs.Camera.ViewProjection()))
	dst = appendMat4(dst, clipCorrection.Mul4(core.LightViewProjection(fs.Light, fs.SceneBounds)))
	dir := fs.Light.Direction
	if dir.Len() > 0 {
		dir = dir.Normalize()
	}
	dst = appendVec4(dst, dir.Vec4(0))
	c := fs.Light.Color
	dst = appendVec4(dst, mgl32.Vec4{c[0] * fs.Light.Intensity, c[1] * fs.Light.Intensity, c[2] * fs.Light.Intensity, 1})
	return dst
}

// instanceTable writes one model matrix per instance slot. Slot numbering
// follows PerEntityInfo.EntityOffset, so BaseInstance indexes straight into it.
func instanceTable(dst []byte, entities []core.PerEntityInfo) []byte {
	dst = dst[:0]
	for i := range entities {
		e := &entities[i]
		for k := uint32(0); k < e.InstanceCount; k++ {
			dst = appendMat4(dst, e.World)
		}
	}
	return dst
}

func vertexBytes(vertices []core.Vertex) []byte {
	b := make([]byte, 0, len(vertices)*vertexStride)
	for _, v := range vertices {
		for _, f := range v.Position {
			b = appendFloat32(b, f)
		}
		for _, f := range v.Normal {
			b = appendFloat32(b, f)
		}
	}
	return b
}

func indexBytes(indices []uint32) []byte {
	b := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		b = binary.LittleEndian.AppendUint32(b, i)
	}
	return b
}

// lineCommands rewrites cmds for the edge list built by core.TriangleEdges.
func lineCommands(dst []byte, cmds []core.IndirectDrawCommand) []byte {
	dst = dst[:0]
	for _, c := range cmds {
		dst = c.Lines().AppendTo(dst)
	}
	return dst
}

// offsetTable packs the EntityOffsets struct of mesh.wgsl: the draw count
// followed by the per-draw base offsets.
func offsetTable(dst []byte, draws int, offsets []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst[:0], uint32(draws))
	return append(dst, offsets...)
}
