package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/gfx"
	"github.com/gekko3d/framecore/rt/pipeline"
	"github.com/gekko3d/framecore/rt/state"
)

var (
	ErrFrameInProgress = errors.New("app: frame already in progress")
	ErrNoFrame         = errors.New("app: no frame in progress")
)

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFrameStarted
	PhaseShadowPass
	PhaseMainPass
	PhasePresent
	PhaseFrameEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFrameStarted:
		return "frame-started"
	case PhaseShadowPass:
		return "shadow-pass"
	case PhaseMainPass:
		return "main-pass"
	case PhasePresent:
		return "present"
	case PhaseFrameEnded:
		return "frame-ended"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Presenter owns the per-frame render target.
type Presenter interface {
	BeginFrame(fs *state.FrameState) error
	Present() error
}

type Options struct {
	Logger    framecore.Logger
	Graphics  *gfx.Context
	Frames    *state.Buffer
	Pipeline  *pipeline.Pipeline
	Presenter Presenter
	// Profiler is optional.
	Profiler *Profiler
	// Fatal handles frame failures the renderer cannot recover from, such as
	// a command buffer overflow. Defaults to logging and os.Exit(1).
	Fatal func(error)
}

// Renderer sequences one frame at a time on the graphics thread:
// acquire snapshot, prepare, shadow pass if dirty, main pass, present, retire.
type Renderer struct {
	log       framecore.Logger
	gc        *gfx.Context
	frames    *state.Buffer
	pipe      *pipeline.Pipeline
	presenter Presenter
	prof      *Profiler
	fatal     func(error)

	// state packs the frame generation above the low byte and the Phase in
	// it, so a transition can be tied to the frame that made it.
	state    atomic.Uint64
	inFlight atomic.Int32
	ended    atomic.Uint64

	mu         sync.Mutex
	frameStart time.Time
	lastEnd    time.Time
	fpsFrames  int
	fpsTime    time.Duration
	fps        float64
	hooks      []func(*state.DrawResult)
}

func New(opts Options) *Renderer {
	r := &Renderer{
		log:       framecore.Sub(opts.Logger, "renderer"),
		gc:        opts.Graphics,
		frames:    opts.Frames,
		pipe:      opts.Pipeline,
		presenter: opts.Presenter,
		prof:      opts.Profiler,
		fatal:     opts.Fatal,
	}
	if r.fatal == nil {
		r.fatal = func(err error) {
			r.log.Errorf("fatal: %v", err)
			os.Exit(1)
		}
	}
	return r
}

func packState(gen uint64, p Phase) uint64 { return gen<<8 | uint64(p) }

func unpackState(s uint64) (uint64, Phase) { return s >> 8, Phase(s & 0xff) }

// OnFrameEnd registers fn to receive every retired frame result. Hooks run
// on the graphics thread and must not block.
func (r *Renderer) OnFrameEnd(fn func(*state.DrawResult)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// DrawFrame renders the latest snapshot. It blocks until the frame has been
// presented; from the graphics thread it runs inline. A command buffer
// overflow is handed to Options.Fatal before the error is returned.
func (r *Renderer) DrawFrame(ctx context.Context) (*state.DrawResult, error) {
	result, err := gfx.Calculate(ctx, r.gc, r.renderFrame)
	if errors.Is(err, pipeline.ErrCapacityExceeded) {
		r.fatal(err)
	}
	return result, err
}

func (r *Renderer) renderFrame(ctx context.Context) (result *state.DrawResult, err error) {
	if err := r.gc.RequireGraphicsThread(ctx); err != nil {
		return nil, err
	}

	r.scope("acquire")
	fs := r.frames.Acquire()
	r.endScope("acquire")

	gen, err := r.startFrame()
	if err != nil {
		return nil, err
	}
	result = state.NewDrawResult(fs.Frame, r.frames.LastResult())

	// A started frame always reaches FrameEnded, panics included. If an
	// external EndFrame already closed it, it is not closed twice.
	defer func() {
		d, endErr := r.endFrame(gen)
		result.FrameTime = d
		result.Set("fps", r.FPS())
		r.frames.Retire(result)
		r.runHooks(result)
		if endErr != nil && !errors.Is(endErr, ErrNoFrame) {
			err = errors.Join(err, endErr)
		}
	}()

	if err := r.presenter.BeginFrame(fs); err != nil {
		return result, fmt.Errorf("begin frame %d: %w", fs.Frame, err)
	}

	var errs []error
	r.scope("prepare")
	if err := r.pipe.Prepare(fs); err != nil {
		errs = append(errs, err)
	}
	r.endScope("prepare")

	if len(errs) == 0 {
		if fs.Flags.Has(state.ShadowMapDirty) {
			r.advance(gen, PhaseShadowPass)
			r.scope("shadow")
			if err := r.pipe.Draw(pipeline.PassShadow, result); err != nil {
				errs = append(errs, err)
			}
			result.ShadowRendered = true
			r.endScope("shadow")
		}

		r.advance(gen, PhaseMainPass)
		r.scope("main")
		if err := r.pipe.Draw(pipeline.PassMain, result); err != nil {
			errs = append(errs, err)
		}
		if fs.Config.Debug {
			if err := r.pipe.Draw(pipeline.PassOverlay, result); err != nil {
				errs = append(errs, err)
			}
		}
		r.endScope("main")
	}

	r.advance(gen, PhasePresent)
	r.scope("present")
	if err := r.presenter.Present(); err != nil {
		errs = append(errs, fmt.Errorf("present frame %d: %w", fs.Frame, err))
	}
	r.endScope("present")

	if r.prof != nil {
		r.prof.SetCount("entities", len(fs.Entities))
		r.prof.SetCount("draw_commands", result.DrawCommands)
		r.prof.SetCount("entities_drawn", result.EntitiesDrawn)
		r.prof.SetCount("draw_calls", result.DrawCalls)
	}
	return result, errors.Join(errs...)
}

// StartFrame opens a frame. Only one frame can be open at a time.
func (r *Renderer) StartFrame() error {
	_, err := r.startFrame()
	return err
}

func (r *Renderer) startFrame() (uint64, error) {
	for {
		s := r.state.Load()
		gen, p := unpackState(s)
		if p != PhaseIdle {
			return 0, fmt.Errorf("%w (phase %s)", ErrFrameInProgress, p)
		}
		gen++
		if r.state.CompareAndSwap(s, packState(gen, PhaseFrameStarted)) {
			r.inFlight.Add(1)
			r.mu.Lock()
			r.frameStart = time.Now()
			r.mu.Unlock()
			r.logPhase(PhaseFrameStarted)
			return gen, nil
		}
	}
}

// EndFrame closes the open frame, updates the FPS counters and returns the
// frame's duration. Of concurrent callers only one closes a given frame; the
// rest get ErrNoFrame.
func (r *Renderer) EndFrame() (time.Duration, error) {
	gen, _ := unpackState(r.state.Load())
	return r.endFrame(gen)
}

func (r *Renderer) endFrame(gen uint64) (time.Duration, error) {
	if !r.advance(gen, PhaseFrameEnded) {
		return 0, ErrNoFrame
	}

	now := time.Now()
	r.mu.Lock()
	d := now.Sub(r.frameStart)
	if !r.lastEnd.IsZero() {
		r.fpsFrames++
		r.fpsTime += now.Sub(r.lastEnd)
		if r.fpsTime >= time.Second {
			r.fps = float64(r.fpsFrames) / r.fpsTime.Seconds()
			r.fpsFrames = 0
			r.fpsTime = 0
		}
	}
	r.lastEnd = now
	r.mu.Unlock()

	r.ended.Add(1)
	r.inFlight.Add(-1)
	// Only the closer holds FrameEnded for gen, so this cannot fail.
	r.state.Store(packState(gen, PhaseIdle))
	r.logPhase(PhaseIdle)
	return d, nil
}

// advance moves frame gen to phase p. It does nothing once that frame has
// ended or a newer one has started.
func (r *Renderer) advance(gen uint64, p Phase) bool {
	for {
		s := r.state.Load()
		g, cur := unpackState(s)
		if g != gen || cur == PhaseIdle || cur == PhaseFrameEnded {
			return false
		}
		if r.state.CompareAndSwap(s, packState(gen, p)) {
			r.logPhase(p)
			return true
		}
	}
}

// IsFrameFinished reports whether no frame is in flight. Safe from any
// goroutine.
func (r *Renderer) IsFrameFinished() bool {
	return r.inFlight.Load() == 0
}

func (r *Renderer) Phase() Phase {
	_, p := unpackState(r.state.Load())
	return p
}

func (r *Renderer) FPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fps
}

// Frames counts ended frames.
func (r *Renderer) Frames() uint64 {
	return r.ended.Load()
}

func (r *Renderer) logPhase(p Phase) {
	if r.log.DebugEnabled() {
		r.log.Debugf("phase %s", p)
	}
}

func (r *Renderer) runHooks(result *state.DrawResult) {
	r.mu.Lock()
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()
	for _, h := range hooks {
		h(result)
	}
}

func (r *Renderer) scope(name string) {
	if r.prof != nil {
		r.prof.BeginScope(name)
	}
}

func (r *Renderer) endScope(name string) {
	if r.prof != nil {
		r.prof.EndScope(name)
	}
}
