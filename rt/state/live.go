package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/framecore/rt/core"
	"github.com/google/uuid"
)

var (
	ErrUnknownEntity = errors.New("state: unknown entity")
	ErrInvalidMesh   = errors.New("state: invalid mesh")
)

// Entity is the producer-side description of one renderable.
type Entity struct {
	ID        uuid.UUID
	Mesh      core.Mesh
	Transform core.Transform
	Instances uint32
}

func (e Entity) validate() error {
	if e.Instances == 0 {
		return fmt.Errorf("%w: entity %s has no instances", ErrInvalidMesh, e.ID)
	}
	if e.Mesh.IndexCount > 0 && e.Mesh.VertexCount == 0 {
		return fmt.Errorf("%w: entity %s has %d indices but no vertices", ErrInvalidMesh, e.ID, e.Mesh.IndexCount)
	}
	return nil
}

// LiveState is the mutable world the simulation goroutines write to. The
// renderer never reads it directly; it only sees snapshots built from it.
type LiveState struct {
	mu       sync.RWMutex
	camera   core.Camera
	light    core.DirectionalLight
	entities []Entity
	index    map[uuid.UUID]int
	version  uint64
}

func NewLiveState() *LiveState {
	return &LiveState{
		camera: core.NewCamera(),
		light:  core.NewDirectionalLight(),
		index:  make(map[uuid.UUID]int),
	}
}

func (s *LiveState) SetCamera(c core.Camera) {
	s.mu.Lock()
	s.camera = c
	s.version++
	s.mu.Unlock()
}

func (s *LiveState) Camera() core.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera
}

func (s *LiveState) SetLight(l core.DirectionalLight) {
	s.mu.Lock()
	s.light = l
	s.version++
	s.mu.Unlock()
}

// Add creates an entity with a fresh id.
func (s *LiveState) Add(mesh core.Mesh, t core.Transform, instances uint32) (uuid.UUID, error) {
	e := Entity{ID: uuid.New(), Mesh: mesh, Transform: t, Instances: instances}
	if err := s.Upsert(e); err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

func (s *LiveState) Upsert(e Entity) error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: nil id", ErrInvalidMesh)
	}
	if err := e.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[e.ID]; ok {
		s.entities[i] = e
	} else {
		s.index[e.ID] = len(s.entities)
		s.entities = append(s.entities, e)
	}
	s.version++
	return nil
}

func (s *LiveState) Move(id uuid.UUID, t core.Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	s.entities[i].Transform = t
	s.version++
	return nil
}

// Update applies fn to the entity in place under the write lock.
func (s *LiveState) Update(id uuid.UUID, fn func(e *Entity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	e := s.entities[i]
	fn(&e)
	e.ID = id
	if err := e.validate(); err != nil {
		return err
	}
	s.entities[i] = e
	s.version++
	return nil
}

func (s *LiveState) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	last := len(s.entities) - 1
	if i != last {
		s.entities[i] = s.entities[last]
		s.index[s.entities[i].ID] = i
	}
	s.entities = s.entities[:last]
	delete(s.index, id)
	s.version++
	return nil
}

func (s *LiveState) Entity(id uuid.UUID) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Entity{}, false
	}
	return s.entities[i], true
}

// IDs lists entity ids in their current order.
func (s *LiveState) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, len(s.entities))
	for i, e := range s.entities {
		ids[i] = e.ID
	}
	return ids
}

func (s *LiveState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Version increments on every mutation.
func (s *LiveState) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

type liveView struct {
	camera   core.Camera
	light    core.DirectionalLight
	entities []Entity
	version  uint64
}

func (s *LiveState) view() liveView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entities := make([]Entity, len(s.entities))
	copy(entities, s.entities)
	return liveView{
		camera:   s.camera,
		light:    s.light,
		entities: entities,
		version:  s.version,
	}
}
