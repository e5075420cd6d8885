package framecore

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
window:
  width: 800
graphics:
  commands_per_tick: 16
  wireframe: true
sim:
  entities: 250
  tick_rate: 10ms
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 800, cfg.Window.Width)
	assert.Equal(t, def.Window.Height, cfg.Window.Height)
	assert.Equal(t, 16, cfg.Graphics.CommandsPerTick)
	assert.Equal(t, def.Graphics.MaxEntities, cfg.Graphics.MaxEntities)
	assert.True(t, cfg.Graphics.FrustumCulling)
	assert.Equal(t, 250, cfg.Sim.Entities)
	assert.Equal(t, 10*time.Millisecond, cfg.Sim.TickRate)

	assert.Equal(t, FrameConfig{FrustumCulling: true, Wireframe: true}, cfg.Frame())
}

func TestLoadConfigEmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "window: [1, 2"))
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadConfig(writeConfig(t, "graphics:\n  max_entities: 10\n  commands_per_tick: -1\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "commands_per_tick")
	assert.ErrorContains(t, err, "exceeds graphics.max_entities")
}

func TestNamedLoggerSharesDebugSwitch(t *testing.T) {
	var out bytes.Buffer
	root := NewDefaultLogger("framecore", false)
	root.out = log.New(&out, "", 0)

	gfx := root.Named("gfx")
	gfx.Debugf("hidden")
	assert.Empty(t, out.String())

	root.SetDebug(true)
	assert.True(t, gfx.DebugEnabled())
	gfx.Debugf("tick %d", 3)
	gfx.Infof("ready")
	assert.Equal(t, "[framecore/gfx] DEBUG: tick 3\n[framecore/gfx] INFO: ready\n", out.String())
}

func TestSubIsNilSafe(t *testing.T) {
	l := Sub(nil, "state")
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())
	l.Errorf("dropped")

	nop := NewNopLogger()
	assert.Same(t, nop, Sub(nop, "state"))
}
