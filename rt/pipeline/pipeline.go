package pipeline

import (
	"fmt"

	"github.com/gekko3d/framecore"
	"github.com/gekko3d/framecore/rt/state"
)

type Pass int

const (
	PassShadow Pass = iota
	PassMain
	PassOverlay
)

func (p Pass) String() string {
	switch p {
	case PassShadow:
		return "shadow"
	case PassMain:
		return "main"
	case PassOverlay:
		return "overlay"
	}
	return fmt.Sprintf("pass(%d)", int(p))
}

// DrawCall is one batched indirect submission.
type DrawCall struct {
	Pass     Pass
	Lines    bool
	CullBack bool
	Count    int
}

// Backend owns the GPU side. All methods are called on the graphics thread.
type Backend interface {
	Upload(buf *CommandBuffer) error
	DrawIndirect(call DrawCall) error
}

type Stats struct {
	Commands      int
	EntitiesDrawn int
	VerticesDrawn int
}

// Pipeline turns a snapshot's entity list into one indirect command buffer
// and submits it per pass.
type Pipeline struct {
	log     framecore.Logger
	backend Backend
	buf     *CommandBuffer

	frame    uint64
	cfg      framecore.FrameConfig
	stats    Stats
	prepared bool
}

func New(backend Backend, capacity int, log framecore.Logger) *Pipeline {
	return &Pipeline{
		log:     framecore.Sub(log, "pipeline"),
		backend: backend,
		buf:     NewCommandBuffer(capacity),
	}
}

// Prepare rebuilds the command buffer from fs and uploads it.
func (p *Pipeline) Prepare(fs *state.FrameState) error {
	p.buf.Reset()
	p.stats = Stats{}
	p.frame = fs.Frame
	p.cfg = fs.Config
	p.prepared = false

	cull := fs.Config.FrustumCulling
	for i := range fs.Entities {
		e := &fs.Entities[i]
		if cull && !e.Visible {
			continue
		}
		p.buf.Append(e.Command, e.EntityOffset)
		if e.VertexCount == 0 {
			continue
		}
		p.stats.EntitiesDrawn += int(e.InstanceCount)
		p.stats.VerticesDrawn += int(e.VertexCount) * int(e.InstanceCount)
	}
	p.stats.Commands = p.buf.Len()

	if err := p.backend.Upload(p.buf); err != nil {
		return fmt.Errorf("pipeline: upload frame %d: %w", fs.Frame, err)
	}
	p.prepared = true
	return nil
}

// Draw issues the prepared buffer for pass. An empty buffer submits nothing.
// Main pass stats are merged into result.
func (p *Pipeline) Draw(pass Pass, result *state.DrawResult) error {
	if !p.prepared {
		return fmt.Errorf("pipeline: draw %s before prepare", pass)
	}
	call := DrawCall{Pass: pass, Count: p.buf.Len()}
	switch pass {
	case PassMain:
		call.Lines = p.cfg.Wireframe
		call.CullBack = !p.cfg.Wireframe
	case PassOverlay:
		call.Lines = true
	case PassShadow:
		call.CullBack = true
	}

	if result != nil && pass == PassMain {
		result.DrawCommands += p.stats.Commands
		result.EntitiesDrawn += p.stats.EntitiesDrawn
		result.VerticesDrawn += p.stats.VerticesDrawn
	}
	if call.Count == 0 {
		return nil
	}
	if err := p.backend.DrawIndirect(call); err != nil {
		return fmt.Errorf("pipeline: draw %s frame %d: %w", pass, p.frame, err)
	}
	if result != nil {
		result.DrawCalls++
	}
	return nil
}

func (p *Pipeline) Stats() Stats { return p.stats }

func (p *Pipeline) Buffer() *CommandBuffer { return p.buf }
