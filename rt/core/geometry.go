package core

import "github.com/go-gl/mathgl/mgl32"

// Vertex matches VertexIn locations 0 and 1 of the mesh shader.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
}

// Geometry accumulates meshes into one shared vertex/index pair. Each Add
// returns the Mesh range of the geometry it appended.
type Geometry struct {
	Vertices []Vertex
	Indices  []uint32
}

func (g *Geometry) begin() (firstIndex uint32, baseVertex int32) {
	return uint32(len(g.Indices)), int32(len(g.Vertices))
}

func (g *Geometry) end(firstIndex uint32, baseVertex int32) Mesh {
	m := Mesh{
		FirstIndex:  firstIndex,
		IndexCount:  uint32(len(g.Indices)) - firstIndex,
		BaseVertex:  baseVertex,
		VertexCount: uint32(len(g.Vertices) - int(baseVertex)),
		LocalAABB:   EmptyAABB(),
	}
	for _, v := range g.Vertices[baseVertex:] {
		p := mgl32.Vec3(v.Position)
		m.LocalAABB = ExtendAABB(m.LocalAABB, AABB{p, p})
	}
	return m
}

// quad appends a face; indices are relative to the mesh's base vertex.
func (g *Geometry) quad(base int32, a, b, c, d, n mgl32.Vec3) {
	local := uint32(int32(len(g.Vertices)) - base)
	for _, p := range []mgl32.Vec3{a, b, c, d} {
		g.Vertices = append(g.Vertices, Vertex{Position: p, Normal: n})
	}
	g.Indices = append(g.Indices, local, local+1, local+2, local, local+2, local+3)
}

// AddBox appends an axis-aligned box centered on the origin with one quad
// per face: 24 vertices, 36 indices.
func (g *Geometry) AddBox(size mgl32.Vec3) Mesh {
	first, base := g.begin()
	h := size.Mul(0.5)
	x, y, z := h.X(), h.Y(), h.Z()

	g.quad(base, mgl32.Vec3{x, -y, -z}, mgl32.Vec3{x, y, -z}, mgl32.Vec3{x, y, z}, mgl32.Vec3{x, -y, z}, mgl32.Vec3{1, 0, 0})
	g.quad(base, mgl32.Vec3{-x, -y, z}, mgl32.Vec3{-x, y, z}, mgl32.Vec3{-x, y, -z}, mgl32.Vec3{-x, -y, -z}, mgl32.Vec3{-1, 0, 0})
	g.quad(base, mgl32.Vec3{-x, y, -z}, mgl32.Vec3{-x, y, z}, mgl32.Vec3{x, y, z}, mgl32.Vec3{x, y, -z}, mgl32.Vec3{0, 1, 0})
	g.quad(base, mgl32.Vec3{-x, -y, z}, mgl32.Vec3{-x, -y, -z}, mgl32.Vec3{x, -y, -z}, mgl32.Vec3{x, -y, z}, mgl32.Vec3{0, -1, 0})
	g.quad(base, mgl32.Vec3{x, -y, z}, mgl32.Vec3{x, y, z}, mgl32.Vec3{-x, y, z}, mgl32.Vec3{-x, -y, z}, mgl32.Vec3{0, 0, 1})
	g.quad(base, mgl32.Vec3{-x, -y, -z}, mgl32.Vec3{-x, y, -z}, mgl32.Vec3{x, y, -z}, mgl32.Vec3{x, -y, -z}, mgl32.Vec3{0, 0, -1})

	return g.end(first, base)
}

// AddPyramid appends a square pyramid standing on y=0 with flat-shaded
// sides: 16 vertices, 18 indices.
func (g *Geometry) AddPyramid(size, height float32) Mesh {
	first, base := g.begin()
	h := size * 0.5
	apex := mgl32.Vec3{0, height, 0}
	corners := [4]mgl32.Vec3{{-h, 0, -h}, {h, 0, -h}, {h, 0, h}, {-h, 0, h}}

	g.quad(base, corners[0], corners[1], corners[2], corners[3], mgl32.Vec3{0, -1, 0})
	for i := 0; i < 4; i++ {
		a, b := corners[i], corners[(i+1)%4]
		n := apex.Sub(a).Cross(b.Sub(a)).Normalize()
		local := uint32(int32(len(g.Vertices)) - base)
		g.Vertices = append(g.Vertices,
			Vertex{Position: a, Normal: n},
			Vertex{Position: apex, Normal: n},
			Vertex{Position: b, Normal: n},
		)
		g.Indices = append(g.Indices, local, local+1, local+2)
	}
	return g.end(first, base)
}

// TriangleEdges expands a triangle list into a line list of its edges. The
// triangle at index i becomes the six line indices at 2*i, so a triangle
// range maps to the line range IndirectDrawCommand.Lines describes.
func TriangleEdges(indices []uint32) []uint32 {
	out := make([]uint32, 0, len(indices)*2)
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		out = append(out, a, b, b, c, c, a)
	}
	return out
}
