package state

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/google/uuid"
)

// Entities below this count are prepared on the calling goroutine.
const defaultParallelThreshold = 2048

type BuilderOptions struct {
	Logger framecore.Logger
	// Workers sizes the prep pool. Zero prepares everything inline.
	Workers           int
	ParallelThreshold int
}

// Builder turns a LiveState into immutable FrameState snapshots. Build is
// meant to be called by one producer at a time; Buffer serializes it.
type Builder struct {
	log       framecore.Logger
	workers   int
	threshold int
	pool      worker.DynamicWorkerPool
}

func NewBuilder(opts BuilderOptions) *Builder {
	b := &Builder{
		log:       framecore.Sub(opts.Logger, "state"),
		workers:   opts.Workers,
		threshold: opts.ParallelThreshold,
	}
	if b.threshold <= 0 {
		b.threshold = defaultParallelThreshold
	}
	if b.workers > 0 {
		// Workers are reused across snapshots and idle-exit after a second.
		b.pool = worker.NewDynamicWorkerPool(b.workers, 256, 1*time.Second)
	}
	return b
}

// Build snapshots live. prev is the snapshot this one replaces, used to
// derive change flags; carry is OR'ed into the result for flags of
// snapshots that were superseded before anyone drew them. last is the most
// recent finished frame.
func (b *Builder) Build(live *LiveState, prev *FrameState, carry Flags, cfg framecore.FrameConfig, last *DrawResult) *FrameState {
	if live == nil {
		return Empty()
	}
	v := live.view()

	fs := &FrameState{
		Created:     time.Now(),
		Camera:      v.camera,
		Frustum:     v.camera.Frustum(),
		Light:       v.light,
		Entities:    make([]core.PerEntityInfo, len(v.entities)),
		Config:      cfg,
		LiveVersion: v.version,
		Previous:    last,
	}
	if prev != nil {
		fs.Frame = prev.Frame + 1
	} else {
		fs.Frame = 1
	}

	var offset uint32
	for i := range v.entities {
		fs.Entities[i].EntityOffset = offset
		offset += v.entities[i].Instances
	}

	b.prepare(v.entities, fs)

	fs.SceneBounds = core.EmptyAABB()
	for i := range fs.Entities {
		if core.AABBValid(fs.Entities[i].WorldAABB) {
			fs.SceneBounds = core.ExtendAABB(fs.SceneBounds, fs.Entities[i].WorldAABB)
		}
	}

	fs.Flags = carry | diff(prev, fs)
	if b.log.DebugEnabled() {
		b.log.Debugf("snapshot %d: %d entities, %d visible, flags %03b", fs.Frame, len(fs.Entities), fs.VisibleCount(), fs.Flags)
	}
	return fs
}

func (b *Builder) prepare(entities []Entity, fs *FrameState) {
	n := len(entities)
	if b.pool == nil || n < b.threshold {
		prepareRange(entities, fs, 0, n)
		return
	}

	// Keep the task count well under the pool's queue depth.
	tasks := b.workers * 4
	chunk := (n + tasks - 1) / tasks

	var wg sync.WaitGroup
	id := 0
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		start, end := lo, hi
		b.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				prepareRange(entities, fs, start, end)
				return nil, nil
			},
		})
		id++
	}
	wg.Wait()
}

func prepareRange(entities []Entity, fs *FrameState, lo, hi int) {
	cull := fs.Config.FrustumCulling
	for i := lo; i < hi; i++ {
		e := &entities[i]
		info := &fs.Entities[i]
		world := e.Transform.ObjectToWorld()
		aabb := core.TransformAABB(e.Mesh.LocalAABB, world)

		info.ID = e.ID
		info.Transform = e.Transform
		info.World = world
		info.WorldAABB = aabb
		info.VertexCount = e.Mesh.VertexCount
		info.InstanceCount = e.Instances
		info.Command = e.Mesh.DrawCommand(e.Instances, info.EntityOffset)
		switch {
		case !cull:
			info.Visible = true
		case !core.AABBValid(aabb):
			info.Visible = false
		default:
			info.Visible = core.AABBInFrustum(aabb, fs.Frustum)
		}
	}
}

func diff(prev, next *FrameState) Flags {
	if prev == nil || prev == empty {
		return CameraMoved | EntityMoved | ShadowMapDirty
	}
	var f Flags
	if prev.Camera != next.Camera {
		f |= CameraMoved
	}
	if entitiesMoved(prev.Entities, next.Entities) {
		f |= EntityMoved
	}
	if !prev.Light.Equal(next.Light) {
		f |= ShadowMapDirty
	}
	if f.Has(EntityMoved) && next.Light.CastsShadows {
		f |= ShadowMapDirty
	}
	return f
}

func entitiesMoved(prev, next []core.PerEntityInfo) bool {
	if len(prev) != len(next) {
		return true
	}
	var byID map[uuid.UUID]core.Transform
	for i := range next {
		if prev[i].ID == next[i].ID {
			if !prev[i].Transform.Equal(next[i].Transform) {
				return true
			}
			continue
		}
		// Order changed after a removal; fall back to a lookup.
		if byID == nil {
			byID = make(map[uuid.UUID]core.Transform, len(prev))
			for j := range prev {
				byID[prev[j].ID] = prev[j].Transform
			}
		}
		t, ok := byID[next[i].ID]
		if !ok || !t.Equal(next[i].Transform) {
			return true
		}
	}
	return false
}
