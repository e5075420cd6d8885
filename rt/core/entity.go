package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Mesh is a range inside the shared vertex/index buffers plus the local
// bounds of the geometry. Loading it is somebody else's job.
type Mesh struct {
	FirstIndex  uint32
	IndexCount  uint32
	BaseVertex  int32
	VertexCount uint32
	LocalAABB   AABB
}

// PerEntityInfo is one renderable instance's draw metadata for one frame.
type PerEntityInfo struct {
	ID            uuid.UUID
	Transform     Transform
	World         mgl32.Mat4
	WorldAABB     AABB
	VertexCount   uint32
	InstanceCount uint32
	// EntityOffset is the first slot of this entity in the per-instance data
	// table; instances occupy [EntityOffset, EntityOffset+InstanceCount).
	EntityOffset uint32
	Command      IndirectDrawCommand
	Visible      bool
}

// DrawCommand builds the indirect arguments for an entity whose instances
// start at offset in the per-instance table.
func (m Mesh) DrawCommand(instances, offset uint32) IndirectDrawCommand {
	return IndirectDrawCommand{
		IndexCount:    m.IndexCount,
		InstanceCount: instances,
		FirstIndex:    m.FirstIndex,
		BaseVertex:    m.BaseVertex,
		BaseInstance:  offset,
	}
}
