package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a plain value; copying it is the snapshot.
type Camera struct {
	Position mgl32.Vec3
	LookAt   mgl32.Vec3
	Up       mgl32.Vec3
	Fov      float32 // vertical, degrees
	Aspect   float32
	Near     float32
	Far      float32
}

func NewCamera() Camera {
	return Camera{
		Position: mgl32.Vec3{0, 2, -20},
		LookAt:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      60,
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      1000,
	}
}

func (c Camera) Forward() mgl32.Vec3 {
	d := c.LookAt.Sub(c.Position)
	if d.Len() == 0 {
		return mgl32.Vec3{0, 0, 1}
	}
	return d.Normalize()
}

func (c Camera) ViewMatrix() mgl32.Mat4 {
	up := c.Up
	if up.Len() == 0 {
		up = mgl32.Vec3{0, 1, 0}
	}
	return mgl32.LookAtV(c.Position, c.LookAt, up)
}

func (c Camera) ProjectionMatrix() mgl32.Mat4 {
	aspect := c.Aspect
	if aspect == 0 {
		aspect = 1.0
	}
	return mgl32.Perspective(mgl32.DegToRad(c.Fov), aspect, c.Near, c.Far)
}

func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}

// Frustum returns the normalized planes of the camera's view volume.
func (c Camera) Frustum() [6]mgl32.Vec4 {
	return ExtractFrustum(c.ViewProjection())
}

// ExtractFrustum extracts the 6 planes of the frustum from the view-projection matrix.
// Returns planes in order: Left, Right, Bottom, Top, Near, Far.
// Plane is Ax + By + Cz + D = 0 with the normal pointing inside.
func ExtractFrustum(vp mgl32.Mat4) [6]mgl32.Vec4 {
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	planes := [6]mgl32.Vec4{
		r3.Add(r0), // left
		r3.Sub(r0), // right
		r3.Add(r1), // bottom
		r3.Sub(r1), // top
		r3.Add(r2), // near (GL depth -1..1)
		r3.Sub(r2), // far
	}

	for i := range planes {
		p := planes[i]
		length := float32(math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])))
		if length > 0 {
			planes[i] = p.Mul(1.0 / length)
		}
	}
	return planes
}
