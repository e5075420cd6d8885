package core

import "github.com/go-gl/mathgl/mgl32"

// AABB is {min, max}.
type AABB = [2]mgl32.Vec3

// EmptyAABB is inverted so that any Extend makes it valid.
func EmptyAABB() AABB {
	inf := float32(1e20)
	return AABB{{inf, inf, inf}, {-inf, -inf, -inf}}
}

func AABBValid(b AABB) bool {
	return b[0].X() <= b[1].X() && b[0].Y() <= b[1].Y() && b[0].Z() <= b[1].Z()
}

func ExtendAABB(b AABB, o AABB) AABB {
	for i := 0; i < 3; i++ {
		b[0][i] = min(b[0][i], o[0][i])
		b[1][i] = max(b[1][i], o[1][i])
	}
	return b
}

// TransformAABB returns the world bounds of a local box under m, using the
// eight transformed corners. Conservative under rotation.
func TransformAABB(local AABB, m mgl32.Mat4) AABB {
	if !AABBValid(local) {
		return local
	}
	lo, hi := local[0], local[1]
	corners := [8]mgl32.Vec3{
		{lo.X(), lo.Y(), lo.Z()},
		{hi.X(), lo.Y(), lo.Z()},
		{lo.X(), hi.Y(), lo.Z()},
		{hi.X(), hi.Y(), lo.Z()},
		{lo.X(), lo.Y(), hi.Z()},
		{hi.X(), lo.Y(), hi.Z()},
		{lo.X(), hi.Y(), hi.Z()},
		{hi.X(), hi.Y(), hi.Z()},
	}
	out := EmptyAABB()
	for _, c := range corners {
		wc := m.Mul4x1(c.Vec4(1.0)).Vec3()
		out = ExtendAABB(out, AABB{wc, wc})
	}
	return out
}

// AABBInFrustum checks if an AABB is visible within the frustum defined by 6 planes.
// Planes are expected to be in Ax+By+Cz+D=0 form, with the normal pointing INSIDE.
func AABBInFrustum(aabb AABB, planes [6]mgl32.Vec4) bool {
	for _, plane := range planes {
		// Corner furthest along the normal; if even that one is behind the
		// plane the whole box is outside.
		var p mgl32.Vec3
		for i := 0; i < 3; i++ {
			if plane[i] > 0 {
				p[i] = aabb[1][i]
			} else {
				p[i] = aabb[0][i]
			}
		}
		if plane[0]*p[0]+plane[1]*p[1]+plane[2]*p[2]+plane[3] < 0 {
			return false
		}
	}
	return true
}
