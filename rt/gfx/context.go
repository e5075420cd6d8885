package gfx

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gekko3d/framecore"
)

const defaultTickInterval = 4 * time.Millisecond

type Options struct {
	Logger framecore.Logger

	// Init runs once on the worker before any command. It is where the
	// native context is created.
	Init func() error

	// OnTick runs on the worker after every drain pass, and at least every
	// TickInterval while the queue is idle (window event pumping).
	OnTick       func()
	TickInterval time.Duration

	// CommandsPerTick caps the commands run per drain pass. 0 means drain
	// everything pending.
	CommandsPerTick int

	// Fatal handles an Init failure. Defaults to logging and os.Exit(1).
	Fatal func(error)
}

type workerKey struct{}

type workerMark struct {
	token uint64
}

var workerTokens atomic.Uint64

type command struct {
	run  func(ctx context.Context)
	fail func(err error)
}

// Context owns the graphics worker and its command queue. All graphics API
// calls go through it.
type Context struct {
	log  framecore.Logger
	opts Options

	mu          sync.Mutex
	queue       []*command
	outstanding int
	idle        chan struct{}
	closed      bool

	wake  chan struct{}
	stop  chan struct{}
	ready chan error
	done  chan struct{}

	token atomic.Uint64
	tid   atomic.Int64
}

func New(opts Options) *Context {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.CommandsPerTick < 0 {
		opts.CommandsPerTick = 0
	}
	c := &Context{
		log:   framecore.OrNop(opts.Logger),
		opts:  opts,
		idle:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		ready: make(chan error, 1),
		done:  make(chan struct{}),
	}
	close(c.idle)
	if c.opts.Fatal == nil {
		c.opts.Fatal = func(err error) {
			c.log.Errorf("fatal: %v", err)
			os.Exit(1)
		}
	}
	return c
}

// Run runs the worker loop on the calling goroutine, which stays locked to
// its OS thread until Run returns. Use it from main when the windowing
// system insists on the main thread.
func (c *Context) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return c.loop(ctx)
}

// Start runs the worker loop on a new locked goroutine and returns once the
// worker identity is set and Init has completed.
func (c *Context) Start(ctx context.Context) error {
	go func() {
		// Never unlocked: the thread dies with the goroutine.
		runtime.LockOSThread()
		_ = c.loop(ctx)
	}()
	select {
	case err := <-c.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) loop(ctx context.Context) (err error) {
	token := workerTokens.Add(1)
	if !c.token.CompareAndSwap(0, token) {
		panic("gfx: graphics worker already running for this context")
	}
	c.tid.Store(currentThreadID())
	defer func() {
		c.tid.Store(0)
		close(c.done)
	}()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.failQueued(ErrClosed)
		c.ready <- ErrClosed
		return ErrClosed
	}

	if c.opts.Init != nil {
		if initErr := c.opts.Init(); initErr != nil {
			initErr = fmt.Errorf("gfx: init native context: %w", initErr)
			c.markClosed()
			c.failQueued(ErrClosed)
			c.ready <- initErr
			c.opts.Fatal(initErr)
			return initErr
		}
	}
	c.log.Infof("graphics worker started (thread %d)", c.tid.Load())
	c.ready <- nil

	wctx := context.WithValue(ctx, workerKey{}, workerMark{token: token})

	var tickC <-chan time.Time
	if c.opts.OnTick != nil {
		ticker := time.NewTicker(c.opts.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		c.drain(wctx, c.opts.CommandsPerTick)
		if c.opts.OnTick != nil {
			c.opts.OnTick()
		}

		c.mu.Lock()
		empty := len(c.queue) == 0
		closed := c.closed
		c.mu.Unlock()

		if closed && empty {
			c.log.Infof("graphics worker stopped")
			return err
		}
		if !empty {
			continue
		}

		select {
		case <-c.wake:
		case <-c.stop:
		case <-tickC:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
			c.markClosed()
		}
	}
}

// drain runs up to limit queued commands (all of them when limit <= 0).
func (c *Context) drain(wctx context.Context, limit int) int {
	n := 0
	for limit <= 0 || n < limit {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return n
		}
		cmd := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		cmd.run(wctx)
		c.finish()
		n++
	}
	return n
}

func (c *Context) enqueue(cmd *command) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, cmd)
	if c.outstanding == 0 {
		c.idle = make(chan struct{})
	}
	c.outstanding++
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Context) finish() {
	c.mu.Lock()
	c.outstanding--
	if c.outstanding == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

func (c *Context) markClosed() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stop)
	}
	c.mu.Unlock()
}

func (c *Context) failQueued(err error) {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, cmd := range queued {
		cmd.fail(err)
		c.finish()
	}
}

// Close stops accepting commands, lets the worker drain what is already
// queued and waits for it to exit. Called from the worker itself it only
// marks the context closed.
func (c *Context) Close(ctx context.Context) error {
	c.markClosed()
	if !c.Initialized() {
		c.failQueued(ErrClosed)
		return nil
	}
	if c.OnGraphicsThread(ctx) {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of queued commands plus the one executing, if any.
// Re-entrant commands run inline and are never counted.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Initialized reports whether the worker has claimed its identity.
func (c *Context) Initialized() bool {
	return c.token.Load() != 0
}

// ThreadID is the OS thread of the running worker, 0 when unknown.
func (c *Context) ThreadID() int64 {
	return c.tid.Load()
}

// OnGraphicsThread reports whether the caller is the graphics worker. Where
// the OS exposes thread ids only the thread decides, so a command context
// handed to another goroutine grants nothing there. Elsewhere the marker the
// worker puts on command contexts is all there is.
func (c *Context) OnGraphicsThread(ctx context.Context) bool {
	tok := c.token.Load()
	if tok == 0 {
		return false
	}
	if hasThreadIDs {
		return c.onWorkerThread()
	}
	if ctx != nil {
		if m, ok := ctx.Value(workerKey{}).(workerMark); ok && m.token == tok {
			return true
		}
	}
	return false
}

func (c *Context) onWorkerThread() bool {
	tid := c.tid.Load()
	return tid != 0 && currentThreadID() == tid
}

// RequireGraphicsThread fails fast when graphics affinity cannot be assumed.
func (c *Context) RequireGraphicsThread(ctx context.Context) error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if !c.OnGraphicsThread(ctx) {
		return ErrNotGraphicsThread
	}
	return nil
}

// WorkerToken returns the identity of the worker that owns ctx.
func WorkerToken(ctx context.Context) (uint64, bool) {
	m, ok := ctx.Value(workerKey{}).(workerMark)
	return m.token, ok
}

func (c *Context) workerContext(ctx context.Context) context.Context {
	if _, ok := ctx.Value(workerKey{}).(workerMark); ok {
		return ctx
	}
	return context.WithValue(ctx, workerKey{}, workerMark{token: c.token.Load()})
}

func invoke[T any](c *Context, ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		if err != nil {
			c.log.Warnf("command failed: %v", err)
		}
	}()
	return fn(ctx)
}

// Submit queues fn for the graphics worker and returns immediately. On the
// graphics thread fn runs inline and the returned future is already done.
func Submit[T any](ctx context.Context, c *Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	if c.OnGraphicsThread(ctx) {
		f.complete(invoke(c, c.workerContext(ctx), fn))
		return f
	}
	cmd := &command{
		run: func(wctx context.Context) {
			f.complete(invoke(c, wctx, fn))
		},
		fail: func(err error) {
			var zero T
			f.complete(zero, err)
		},
	}
	if err := c.enqueue(cmd); err != nil {
		cmd.fail(err)
	}
	return f
}

// Calculate runs fn on the graphics worker and waits for its result.
func Calculate[T any](ctx context.Context, c *Context, fn func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, c, fn).Wait(ctx)
}

// Execute runs fn on the graphics worker and waits for it to finish.
func (c *Context) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Calculate(ctx, c, unit(fn))
	return err
}

// ExecuteAsync queues fn without waiting.
func (c *Context) ExecuteAsync(ctx context.Context, fn func(context.Context) error) *Future[struct{}] {
	return Submit(ctx, c, unit(fn))
}

func unit(fn func(context.Context) error) func(context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}
}

// BlockUntilEmpty waits until no command is queued or executing and returns
// how long that took. On the graphics thread the queue is drained inline
// instead, since the worker cannot wait on itself.
func (c *Context) BlockUntilEmpty(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if c.OnGraphicsThread(ctx) {
		c.drain(c.workerContext(ctx), 0)
		return time.Since(start), nil
	}
	for {
		c.mu.Lock()
		if c.outstanding == 0 {
			c.mu.Unlock()
			return time.Since(start), nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		}
	}
}
