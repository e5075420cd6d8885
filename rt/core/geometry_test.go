package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryMeshesShareBuffers(t *testing.T) {
	var g Geometry
	box := g.AddBox(mgl32.Vec3{2, 4, 6})
	pyr := g.AddPyramid(2, 3)

	assert.Equal(t, Mesh{
		FirstIndex:  0,
		IndexCount:  36,
		BaseVertex:  0,
		VertexCount: 24,
		LocalAABB:   AABB{{-1, -2, -3}, {1, 2, 3}},
	}, box)

	assert.Equal(t, uint32(36), pyr.FirstIndex)
	assert.Equal(t, uint32(18), pyr.IndexCount)
	assert.Equal(t, int32(24), pyr.BaseVertex)
	assert.Equal(t, uint32(16), pyr.VertexCount)
	assert.Equal(t, AABB{{-1, 0, -1}, {1, 3, 1}}, pyr.LocalAABB)

	require.Len(t, g.Vertices, 40)
	require.Len(t, g.Indices, 54)
	// Indices are relative to each mesh's base vertex.
	for _, i := range g.Indices[pyr.FirstIndex:] {
		assert.Less(t, i, pyr.VertexCount)
	}
}

func TestGeometryFacesWindOutward(t *testing.T) {
	var g Geometry
	meshes := []Mesh{g.AddBox(mgl32.Vec3{1, 1, 1}), g.AddPyramid(1, 1)}

	for _, m := range meshes {
		center := m.LocalAABB[0].Add(m.LocalAABB[1]).Mul(0.5)
		idx := g.Indices[m.FirstIndex : m.FirstIndex+m.IndexCount]
		for k := 0; k+2 < len(idx); k += 3 {
			v0 := g.Vertices[int(m.BaseVertex)+int(idx[k])]
			a := mgl32.Vec3(v0.Position)
			b := mgl32.Vec3(g.Vertices[int(m.BaseVertex)+int(idx[k+1])].Position)
			c := mgl32.Vec3(g.Vertices[int(m.BaseVertex)+int(idx[k+2])].Position)
			face := b.Sub(a).Cross(c.Sub(a))
			assert.Greater(t, face.Dot(a.Sub(center)), float32(0), "triangle %d winds inward", k/3)
			assert.Greater(t, face.Dot(mgl32.Vec3(v0.Normal)), float32(0), "normal of triangle %d disagrees with winding", k/3)
		}
	}
}

func TestTriangleEdgesFollowMeshRanges(t *testing.T) {
	var g Geometry
	g.AddBox(mgl32.Vec3{1, 1, 1})
	pyr := g.AddPyramid(1, 1)
	edges := TriangleEdges(g.Indices)
	require.Len(t, edges, 2*len(g.Indices))

	cmd := IndirectDrawCommand{IndexCount: pyr.IndexCount, FirstIndex: pyr.FirstIndex, BaseVertex: pyr.BaseVertex, InstanceCount: 3, BaseInstance: 5}
	lines := cmd.Lines()
	assert.Equal(t, IndirectDrawCommand{IndexCount: 36, FirstIndex: 72, BaseVertex: 24, InstanceCount: 3, BaseInstance: 5}, lines)

	// Every line segment is an edge of the triangle it came from.
	tris := g.Indices[pyr.FirstIndex : pyr.FirstIndex+pyr.IndexCount]
	segs := edges[lines.FirstIndex : lines.FirstIndex+lines.IndexCount]
	for k := 0; k < len(tris); k += 3 {
		a, b, c := tris[k], tris[k+1], tris[k+2]
		assert.Equal(t, []uint32{a, b, b, c, c, a}, segs[2*k:2*k+6], "triangle %d", k/3)
	}

	assert.Empty(t, TriangleEdges([]uint32{0, 1}))
}
