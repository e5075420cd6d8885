package framecore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
}

type GraphicsConfig struct {
	// CommandsPerTick caps how many queued commands the graphics worker runs
	// between two OnTick calls. 0 drains everything pending.
	CommandsPerTick int  `yaml:"commands_per_tick"`
	MaxEntities     int  `yaml:"max_entities"`
	FrustumCulling  bool `yaml:"frustum_culling"`
	Wireframe       bool `yaml:"wireframe"`
	Debug           bool `yaml:"debug"`
}

type LogConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
}

type SimConfig struct {
	Entities int           `yaml:"entities"`
	Workers  int           `yaml:"workers"`
	TickRate time.Duration `yaml:"tick_rate"`
}

type Config struct {
	Window   WindowConfig   `yaml:"window"`
	Graphics GraphicsConfig `yaml:"graphics"`
	Log      LogConfig      `yaml:"log"`
	Sim      SimConfig      `yaml:"sim"`
}

// FrameConfig is the per-frame switch set captured into every snapshot.
// It is a value type; a snapshot's copy never changes.
type FrameConfig struct {
	FrustumCulling bool
	Wireframe      bool
	Debug          bool
}

func DefaultConfig() Config {
	return Config{
		Window: WindowConfig{
			Width:  1280,
			Height: 720,
			Title:  "framecore",
		},
		Graphics: GraphicsConfig{
			CommandsPerTick: 0,
			MaxEntities:     1 << 16,
			FrustumCulling:  true,
		},
		Log: LogConfig{
			Prefix: "framecore",
		},
		Sim: SimConfig{
			Entities: 1000,
			Workers:  4,
			TickRate: time.Second / 60,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height))
	}
	if c.Graphics.CommandsPerTick < 0 {
		errs = append(errs, fmt.Errorf("graphics.commands_per_tick must be >= 0, got %d", c.Graphics.CommandsPerTick))
	}
	if c.Graphics.MaxEntities <= 0 {
		errs = append(errs, fmt.Errorf("graphics.max_entities must be positive, got %d", c.Graphics.MaxEntities))
	}
	if c.Sim.Entities > c.Graphics.MaxEntities {
		errs = append(errs, fmt.Errorf("sim.entities (%d) exceeds graphics.max_entities (%d)", c.Sim.Entities, c.Graphics.MaxEntities))
	}
	if c.Sim.Workers < 0 {
		errs = append(errs, fmt.Errorf("sim.workers must be >= 0, got %d", c.Sim.Workers))
	}
	return errors.Join(errs...)
}

func (c Config) Frame() FrameConfig {
	return FrameConfig{
		FrustumCulling: c.Graphics.FrustumCulling,
		Wireframe:      c.Graphics.Wireframe,
		Debug:          c.Graphics.Debug,
	}
}

// NewLogger builds the root logger described by the log section.
func (c Config) NewLogger() *DefaultLogger {
	return NewDefaultLogger(c.Log.Prefix, c.Log.Debug)
}
