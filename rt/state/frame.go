package state

import (
	"time"

	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

type Flags uint8

const (
	CameraMoved Flags = 1 << iota
	EntityMoved
	ShadowMapDirty
)

func (f Flags) Has(x Flags) bool { return f&x == x }

// FrameState is everything the renderer reads for one frame. It is never
// modified after Build returns; producers publish a new one instead.
type FrameState struct {
	Frame       uint64
	Created     time.Time
	Camera      core.Camera
	Frustum     [6]mgl32.Vec4
	Light       core.DirectionalLight
	Entities    []core.PerEntityInfo
	SceneBounds core.AABB
	Flags       Flags
	Config      framecore.FrameConfig
	// LiveVersion is the LiveState version the snapshot was taken at.
	LiveVersion uint64
	// Previous is the result of the last frame drawn before this snapshot
	// was built, nil before the first frame.
	Previous *DrawResult
}

var empty = func() *FrameState {
	cam := core.NewCamera()
	return &FrameState{
		Camera:      cam,
		Frustum:     cam.Frustum(),
		Light:       core.NewDirectionalLight(),
		SceneBounds: core.EmptyAABB(),
	}
}()

// Empty is the snapshot handed out before anything was published. It draws
// nothing.
func Empty() *FrameState {
	return empty
}

func (fs *FrameState) IsEmpty() bool {
	return len(fs.Entities) == 0
}

func (fs *FrameState) VisibleCount() int {
	n := 0
	for i := range fs.Entities {
		if fs.Entities[i].Visible {
			n++
		}
	}
	return n
}

// DrawResult aggregates what a frame drew. The renderer owns it until the
// frame ends; after that it is read-only.
type DrawResult struct {
	Frame          uint64
	DrawCommands   int
	EntitiesDrawn  int
	VerticesDrawn  int
	DrawCalls      int
	ShadowRendered bool
	FrameTime      time.Duration
	Properties     map[string]any
}

// NewDrawResult starts a result for frame, carrying forward prev's
// diagnostic properties.
func NewDrawResult(frame uint64, prev *DrawResult) *DrawResult {
	r := &DrawResult{
		Frame:      frame,
		Properties: make(map[string]any),
	}
	if prev != nil {
		for k, v := range prev.Properties {
			r.Properties[k] = v
		}
	}
	return r
}

func (r *DrawResult) Set(key string, v any) {
	r.Properties[key] = v
}

func (r *DrawResult) Property(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.Properties[key]
	return v, ok
}
