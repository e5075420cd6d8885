package state

import (
	"sync"
	"sync/atomic"

	"github.com/gekko3d/framecore"
)

// Buffer hands snapshots from producers to the render thread. Producers
// build the next snapshot off to the side and swap it in atomically; the
// renderer keeps whatever it acquired for the whole frame.
type Buffer struct {
	mu      sync.Mutex
	builder *Builder
	config  atomic.Pointer[framecore.FrameConfig]

	latest   atomic.Pointer[FrameState]
	acquired atomic.Pointer[FrameState]
	result   atomic.Pointer[DrawResult]

	published atomic.Uint64
	skipped   atomic.Uint64
}

func NewBuffer(b *Builder, cfg framecore.FrameConfig) *Buffer {
	buf := &Buffer{builder: b}
	buf.config.Store(&cfg)
	return buf
}

// SetConfig applies to snapshots published from now on.
func (b *Buffer) SetConfig(cfg framecore.FrameConfig) {
	b.config.Store(&cfg)
}

func (b *Buffer) Config() framecore.FrameConfig {
	return *b.config.Load()
}

// Publish snapshots live and makes it the latest frame.
func (b *Buffer) Publish(live *LiveState) *FrameState {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.latest.Load()
	var carry Flags
	if prev != nil && b.acquired.Load() != prev {
		// Never drawn; its changes still need to reach the renderer.
		carry = prev.Flags
		b.skipped.Add(1)
	}
	fs := b.builder.Build(live, prev, carry, b.Config(), b.result.Load())
	b.latest.Store(fs)
	b.published.Add(1)
	return fs
}

// Acquire returns the snapshot to draw. It never returns nil.
func (b *Buffer) Acquire() *FrameState {
	fs := b.latest.Load()
	if fs == nil {
		return Empty()
	}
	b.acquired.Store(fs)
	return fs
}

// Retire records a finished frame; the next published snapshot links to it.
func (b *Buffer) Retire(r *DrawResult) {
	if r != nil {
		b.result.Store(r)
	}
}

func (b *Buffer) LastResult() *DrawResult {
	return b.result.Load()
}

func (b *Buffer) Published() uint64 { return b.published.Load() }

// Skipped counts snapshots replaced before the renderer acquired them.
func (b *Buffer) Skipped() uint64 { return b.skipped.Load() }
