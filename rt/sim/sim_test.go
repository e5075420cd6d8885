package sim

import (
	"context"
	"testing"
	"time"

	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(t *testing.T, workers int) (*Simulation, *state.LiveState, *state.Buffer, []core.Mesh) {
	t.Helper()
	var g core.Geometry
	meshes := []core.Mesh{g.AddBox(mgl32.Vec3{1, 1, 1}), g.AddPyramid(1, 1.5)}

	live := state.NewLiveState()
	live.SetCamera(core.NewCamera())
	b := state.NewBuilder(state.BuilderOptions{Logger: framecore.NewNopLogger()})
	frames := state.NewBuffer(b, framecore.FrameConfig{FrustumCulling: true})
	s := New(Options{
		Logger:   framecore.NewNopLogger(),
		Live:     live,
		Frames:   frames,
		Workers:  workers,
		TickRate: 5 * time.Millisecond,
	})
	return s, live, frames, meshes
}

func TestPopulateSpawnsGrid(t *testing.T) {
	s, live, _, meshes := newSim(t, 0)
	require.NoError(t, s.Populate(10, meshes...))
	assert.Equal(t, 10, live.Len())

	var instances uint32
	seen := map[uint32]bool{}
	for _, id := range live.IDs() {
		e, ok := live.Entity(id)
		require.True(t, ok)
		instances += e.Instances
		seen[e.Mesh.FirstIndex] = true
	}
	assert.Equal(t, uint32(8+2*3), instances)
	assert.Len(t, seen, 2, "both meshes are used")

	assert.Error(t, s.Populate(1))
}

func TestStepMovesEntitiesAndCamera(t *testing.T) {
	for _, workers := range []int{0, 3} {
		s, live, frames, meshes := newSim(t, workers)
		require.NoError(t, s.Populate(50, meshes...))

		first, err := s.Step(100 * time.Millisecond)
		require.NoError(t, err)
		second, err := s.Step(100 * time.Millisecond)
		require.NoError(t, err)

		assert.Equal(t, first.Frame+1, second.Frame)
		assert.True(t, second.Flags.Has(state.CameraMoved))
		assert.True(t, second.Flags.Has(state.EntityMoved))
		assert.Len(t, second.Entities, 50)
		assert.NotEqual(t, first.Camera.Position, second.Camera.Position)
		assert.Equal(t, uint64(2), s.Ticks())
		assert.Equal(t, uint64(2), frames.Published())
		assert.Equal(t, second.Camera, live.Camera())
	}
}

func TestStepSurfacesRemovedEntities(t *testing.T) {
	s, live, _, meshes := newSim(t, 2)
	require.NoError(t, s.Populate(20, meshes...))
	require.NoError(t, live.Remove(live.IDs()[3]))

	_, err := s.Step(time.Millisecond)
	assert.ErrorIs(t, err, state.ErrUnknownEntity)
}

func TestRunStopsWithContext(t *testing.T) {
	s, _, frames, meshes := newSim(t, 2)
	require.NoError(t, s.Populate(16, meshes...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Ticks() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, frames.Published(), uint64(3))
	assert.False(t, frames.Acquire().IsEmpty())
}
