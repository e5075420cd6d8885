package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/app"
	"github.com/gekko3d/framecore/rt/core"
	"github.com/gekko3d/framecore/rt/gfx"
	"github.com/gekko3d/framecore/rt/gpu"
	"github.com/gekko3d/framecore/rt/pipeline"
	"github.com/gekko3d/framecore/rt/sim"
	"github.com/gekko3d/framecore/rt/state"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	debug := flag.Bool("debug", false, "Enable debug mode (overlay pass, debug logging)")
	wireframe := flag.Bool("wireframe", false, "Draw the main pass as lines")
	noCull := flag.Bool("no-cull", false, "Disable frustum culling")
	entities := flag.Int("entities", 0, "Override sim.entities")
	flag.Parse()

	cfg, err := framecore.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.Graphics.Debug = true
		cfg.Log.Debug = true
	}
	if *wireframe {
		cfg.Graphics.Wireframe = true
	}
	if *noCull {
		cfg.Graphics.FrustumCulling = false
	}
	if *entities > 0 {
		cfg.Sim.Entities = *entities
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	log := cfg.NewLogger()

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	var geo core.Geometry
	meshes := []core.Mesh{
		geo.AddBox(mgl32.Vec3{1, 1, 1}),
		geo.AddPyramid(1.2, 1.5),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := gpu.New(gpu.Options{Logger: log, Window: window})
	gc := gfx.New(gfx.Options{
		Logger:          log,
		CommandsPerTick: cfg.Graphics.CommandsPerTick,
		Init: func() error {
			if err := device.Init(); err != nil {
				return err
			}
			return device.UploadGeometry(geo.Vertices, geo.Indices)
		},
		OnTick: func() {
			glfw.PollEvents()
			if window.ShouldClose() {
				cancel()
			}
		},
		TickInterval: 4 * time.Millisecond,
	})

	live := state.NewLiveState()
	cam := core.NewCamera()
	cam.Aspect = float32(cfg.Window.Width) / float32(cfg.Window.Height)
	live.SetCamera(cam)
	live.SetLight(core.NewDirectionalLight())

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if width <= 0 || height <= 0 {
			return
		}
		// Runs inside PollEvents on the worker; queue rather than wait on ourselves.
		gc.ExecuteAsync(ctx, func(context.Context) error {
			device.Resize(width, height)
			return nil
		})
		c := live.Camera()
		c.Aspect = float32(width) / float32(height)
		live.SetCamera(c)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	builder := state.NewBuilder(state.BuilderOptions{Logger: log, Workers: cfg.Sim.Workers})
	frames := state.NewBuffer(builder, cfg.Frame())

	simulation := sim.New(sim.Options{
		Logger:   log,
		Live:     live,
		Frames:   frames,
		Workers:  cfg.Sim.Workers,
		TickRate: cfg.Sim.TickRate,
	})
	if err := simulation.Populate(cfg.Sim.Entities, meshes...); err != nil {
		panic(err)
	}

	profiler := app.NewProfiler()
	renderer := app.New(app.Options{
		Logger:    log,
		Graphics:  gc,
		Frames:    frames,
		Pipeline:  pipeline.New(device, cfg.Graphics.MaxEntities, log),
		Presenter: device,
		Profiler:  profiler,
	})

	var lastReport time.Time
	renderer.OnFrameEnd(func(r *state.DrawResult) {
		if time.Since(lastReport) < 2*time.Second {
			return
		}
		lastReport = time.Now()
		log.Infof("frame %d: %.1f fps, %d/%d drawn, %d draw calls, shadow %v",
			r.Frame, renderer.FPS(), r.EntitiesDrawn, live.Len(), r.DrawCalls, r.ShadowRendered)
		if log.DebugEnabled() {
			log.Debugf("\n%s", profiler.GetStatsString())
		}
	})

	go func() {
		if err := simulation.Run(ctx); err != nil {
			log.Errorf("simulation: %v", err)
			cancel()
		}
	}()

	go func() {
		for ctx.Err() == nil {
			if _, err := renderer.DrawFrame(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("draw: %v", err)
			}
		}
	}()

	if err := gc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("graphics worker: %v", err)
		device.Release()
		os.Exit(1)
	}
	device.Release()
	log.Infof("stopped after %d frames, %d snapshots (%d never drawn)",
		renderer.Frames(), frames.Published(), frames.Skipped())
}
