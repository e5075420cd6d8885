package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type Options struct {
	Logger framecore.Logger
	Live   *state.LiveState
	Frames *state.Buffer
	// Workers fans entity updates out over a pool. Zero updates inline.
	Workers  int
	TickRate time.Duration
	// Spacing is the grid pitch used by Populate.
	Spacing float32
}

type body struct {
	id    uuid.UUID
	base  mgl32.Vec3
	phase float32
	spin  float32
}

// Simulation moves a grid of entities and orbits the camera, then publishes
// a snapshot every tick. It only ever touches the scene through LiveState.
type Simulation struct {
	log     framecore.Logger
	live    *state.LiveState
	frames  *state.Buffer
	workers int
	rate    time.Duration
	spacing float32
	pool    worker.DynamicWorkerPool

	mu      sync.Mutex
	bodies  []body
	elapsed time.Duration
	ticks   atomic.Uint64
}

func New(opts Options) *Simulation {
	s := &Simulation{
		log:     framecore.Sub(opts.Logger, "sim"),
		live:    opts.Live,
		frames:  opts.Frames,
		workers: opts.Workers,
		rate:    opts.TickRate,
		spacing: opts.Spacing,
	}
	if s.rate <= 0 {
		s.rate = time.Second / 60
	}
	if s.spacing <= 0 {
		s.spacing = 4
	}
	if s.workers > 0 {
		s.pool = worker.NewDynamicWorkerPool(s.workers, 256, 1*time.Second)
	}
	return s
}

// Populate spawns n entities on a square grid in the XZ plane, cycling
// through meshes. Every fifth entity gets three instances.
func (s *Simulation) Populate(n int, meshes ...core.Mesh) error {
	if len(meshes) == 0 {
		return errors.New("sim: populate needs at least one mesh")
	}
	side := int(math.Ceil(math.Sqrt(float64(n))))
	half := float32(side-1) * s.spacing * 0.5

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		base := mgl32.Vec3{float32(i%side)*s.spacing - half, 0, float32(i/side)*s.spacing - half}
		t := core.NewTransform()
		t.Position = base
		instances := uint32(1)
		if i%5 == 4 {
			instances = 3
		}
		id, err := s.live.Add(meshes[i%len(meshes)], t, instances)
		if err != nil {
			return fmt.Errorf("sim: spawn %d: %w", i, err)
		}
		s.bodies = append(s.bodies, body{
			id:    id,
			base:  base,
			phase: float32(i) * 0.37,
			spin:  0.5 + float32(i%7)*0.25,
		})
	}
	s.log.Infof("spawned %d entities on a %dx%d grid", n, side, side)
	return nil
}

// Step advances the simulation by dt and publishes one snapshot.
func (s *Simulation) Step(dt time.Duration) (*state.FrameState, error) {
	s.mu.Lock()
	s.elapsed += dt
	t := float32(s.elapsed.Seconds())
	bodies := s.bodies
	s.mu.Unlock()

	if err := s.moveBodies(bodies, t); err != nil {
		return nil, err
	}
	s.live.SetCamera(s.orbit(t))

	fs := s.frames.Publish(s.live)
	s.ticks.Add(1)
	return fs, nil
}

// Run steps at the configured tick rate until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if _, err := s.Step(dt); err != nil {
				return err
			}
		}
	}
}

func (s *Simulation) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Simulation) moveBodies(bodies []body, t float32) error {
	n := len(bodies)
	if s.pool == nil || n == 0 {
		return s.moveRange(bodies, t)
	}

	tasks := s.workers * 4
	chunk := (n + tasks - 1) / tasks

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	id := 0
	for lo := 0; lo < n; lo += chunk {
		part := bodies[lo:min(lo+chunk, n)]
		wg.Add(1)
		s.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				if err := s.moveRange(part, t); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil, nil
			},
		})
		id++
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Simulation) moveRange(bodies []body, t float32) error {
	for _, b := range bodies {
		tr := core.NewTransform()
		tr.Position = b.base.Add(mgl32.Vec3{0, float32(math.Sin(float64(t + b.phase))), 0})
		tr.Rotation = mgl32.QuatRotate(t*b.spin, mgl32.Vec3{0, 1, 0})
		if err := s.live.Move(b.id, tr); err != nil {
			return fmt.Errorf("sim: move: %w", err)
		}
	}
	return nil
}

// orbit circles the camera around the grid center.
func (s *Simulation) orbit(t float32) core.Camera {
	cam := s.live.Camera()
	s.mu.Lock()
	radius := float32(math.Sqrt(float64(len(s.bodies))))*s.spacing*0.75 + 10
	s.mu.Unlock()
	angle := float64(t) * 0.2
	cam.Position = mgl32.Vec3{
		radius * float32(math.Cos(angle)),
		radius * 0.4,
		radius * float32(math.Sin(angle)),
	}
	cam.LookAt = mgl32.Vec3{0, 0, 0}
	return cam
}
