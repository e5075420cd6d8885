package core

import "github.com/go-gl/mathgl/mgl32"

// DirectionalLight is the only light the frame core tracks: its change
// decides whether the shadow map is redrawn.
type DirectionalLight struct {
	Direction    mgl32.Vec3
	Color        [3]float32
	Intensity    float32
	CastsShadows bool
}

func NewDirectionalLight() DirectionalLight {
	return DirectionalLight{
		Direction:    mgl32.Vec3{-0.3, -1, -0.2}.Normalize(),
		Color:        [3]float32{1, 1, 1},
		Intensity:    1,
		CastsShadows: true,
	}
}

func (l DirectionalLight) Equal(o DirectionalLight) bool {
	return l.Direction.ApproxEqual(o.Direction) &&
		l.Color == o.Color &&
		l.Intensity == o.Intensity &&
		l.CastsShadows == o.CastsShadows
}

// LightViewProjection fits an orthographic light camera around bounds, looking
// along the light direction. An invalid bounds falls back to a unit box.
func LightViewProjection(l DirectionalLight, bounds AABB) mgl32.Mat4 {
	if !AABBValid(bounds) {
		bounds = AABB{{-1, -1, -1}, {1, 1, 1}}
	}
	center := bounds[0].Add(bounds[1]).Mul(0.5)
	radius := bounds[1].Sub(bounds[0]).Len() * 0.5
	if radius < 1 {
		radius = 1
	}

	dir := l.Direction
	if dir.Len() == 0 {
		dir = mgl32.Vec3{0, -1, 0}
	}
	dir = dir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if abs32(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}

	eye := center.Sub(dir.Mul(radius * 2))
	view := mgl32.LookAtV(eye, center, up)
	proj := mgl32.Ortho(-radius, radius, -radius, radius, radius*0.5, radius*3.5)
	return proj.Mul4(view)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
