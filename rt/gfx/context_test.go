package gfx

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startContext(t *testing.T, opts Options) *Context {
	t.Helper()
	gc := New(opts)
	require.NoError(t, gc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gc.Close(ctx)
	})
	return gc
}

// gate parks the worker until the returned release func is called.
func gate(t *testing.T, gc *Context) (release func()) {
	t.Helper()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	gc.ExecuteAsync(context.Background(), func(context.Context) error {
		close(entered)
		<-unblock
		return nil
	})
	<-entered
	var once sync.Once
	return func() { once.Do(func() { close(unblock) }) }
}

func TestCommandsShareOneWorkerIdentity(t *testing.T) {
	gc := startContext(t, Options{})
	ctx := context.Background()

	var mu sync.Mutex
	tokens := map[uint64]int{}
	threads := map[int64]int{}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := gc.Execute(ctx, func(wctx context.Context) error {
					tok, ok := WorkerToken(wctx)
					if !ok {
						return errors.New("missing worker token")
					}
					mu.Lock()
					tokens[tok]++
					threads[currentThreadID()]++
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, tokens, 1, "every command must see the same worker identity")
	assert.Len(t, threads, 1, "every command must run on the same OS thread")
	if runtime.GOOS == "linux" {
		assert.Contains(t, threads, gc.ThreadID())
	}
}

func TestReentrantCommandRunsInline(t *testing.T) {
	gc := startContext(t, Options{})
	ctx := context.Background()

	var order []string
	err := gc.Execute(ctx, func(wctx context.Context) error {
		before := gc.Pending()
		order = append(order, "outer")

		v, err := Calculate(wctx, gc, func(context.Context) (int, error) {
			order = append(order, "inner")
			return 42, nil
		})
		if err != nil {
			return err
		}
		assert.Equal(t, 42, v)
		assert.Equal(t, before, gc.Pending(), "inline command must not be queued")

		f := gc.ExecuteAsync(wctx, func(context.Context) error {
			order = append(order, "async-inner")
			return nil
		})
		_, done, _ := f.TryGet()
		assert.True(t, done, "re-entrant future completes inline")

		order = append(order, "outer-end")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "async-inner", "outer-end"}, order)
}

func TestBlockUntilEmpty(t *testing.T) {
	for _, depth := range []int{0, 1, 10, 100} {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			gc := startContext(t, Options{})
			ctx := context.Background()

			release := gate(t, gc)
			var ran atomic.Int32
			for i := 0; i < depth; i++ {
				gc.ExecuteAsync(ctx, func(context.Context) error {
					ran.Add(1)
					return nil
				})
			}
			assert.Equal(t, depth+1, gc.Pending())

			returned := make(chan struct{})
			go func() {
				defer close(returned)
				_, err := gc.BlockUntilEmpty(ctx)
				assert.NoError(t, err)
				assert.Equal(t, 0, gc.Pending())
			}()

			select {
			case <-returned:
				t.Fatal("BlockUntilEmpty returned while the worker was still busy")
			case <-time.After(20 * time.Millisecond):
			}

			release()
			<-returned
			assert.Equal(t, int32(depth), ran.Load())
		})
	}
}

func TestBlockUntilEmptyOnWorkerDrainsInline(t *testing.T) {
	gc := startContext(t, Options{})
	ctx := context.Background()

	var ran []int
	err := gc.Execute(ctx, func(wctx context.Context) error {
		// Queued from another goroutine while this command holds the worker.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 3; i++ {
				i := i
				gc.ExecuteAsync(ctx, func(context.Context) error {
					ran = append(ran, i)
					return nil
				})
			}
		}()
		<-done
		_, err := gc.BlockUntilEmpty(wctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ran)
}

func TestCommandsFromDifferentThreadsRunInArrivalOrder(t *testing.T) {
	gc := startContext(t, Options{})
	ctx := context.Background()

	release := gate(t, gc)

	var mu sync.Mutex
	var order []string
	futures := make([]*Future[struct{}], 0, 3)
	for i, name := range []string{"A", "B", "C"} {
		name := name
		submitted := make(chan *Future[struct{}])
		go func() {
			submitted <- gc.ExecuteAsync(ctx, func(context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			})
		}()
		futures = append(futures, <-submitted)
		require.Equal(t, i+2, gc.Pending())
	}

	release()
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestFailingCommandDoesNotStopWorker(t *testing.T) {
	gc := startContext(t, Options{})
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := Calculate(ctx, gc, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = Calculate(ctx, gc, func(context.Context) (int, error) {
		panic("kaboom")
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	v, err := Calculate(ctx, gc, func(context.Context) (string, error) {
		return "still alive", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "still alive", v)
}

func TestPanicWithErrorUnwraps(t *testing.T) {
	gc := startContext(t, Options{})
	sentinel := errors.New("sentinel")
	err := gc.Execute(context.Background(), func(context.Context) error {
		panic(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRequireGraphicsThread(t *testing.T) {
	gc := New(Options{})
	ctx := context.Background()
	assert.ErrorIs(t, gc.RequireGraphicsThread(ctx), ErrNotInitialized)
	assert.False(t, gc.OnGraphicsThread(ctx))

	require.NoError(t, gc.Start(ctx))
	t.Cleanup(func() { _ = gc.Close(ctx) })

	assert.ErrorIs(t, gc.RequireGraphicsThread(ctx), ErrNotGraphicsThread)
	err := gc.Execute(ctx, func(wctx context.Context) error {
		return gc.RequireGraphicsThread(wctx)
	})
	assert.NoError(t, err)
}

func TestCommandContextDoesNotTravelToOtherGoroutines(t *testing.T) {
	if !hasThreadIDs {
		t.Skip("affinity relies on the context marker without OS thread ids")
	}
	gc := startContext(t, Options{})
	ctx := context.Background()

	type result struct {
		onGraphics bool
		requireErr error
		tid        int64
		err        error
	}
	out := make(chan result, 1)
	err := gc.Execute(ctx, func(wctx context.Context) error {
		go func() {
			var r result
			r.onGraphics = gc.OnGraphicsThread(wctx)
			r.requireErr = gc.RequireGraphicsThread(wctx)
			// Must queue behind the outer command, not run here.
			r.err = gc.Execute(wctx, func(context.Context) error {
				r.tid = currentThreadID()
				return nil
			})
			out <- r
		}()
		return nil
	})
	require.NoError(t, err)

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.False(t, r.onGraphics)
		assert.ErrorIs(t, r.requireErr, ErrNotGraphicsThread)
		assert.Equal(t, gc.ThreadID(), r.tid)
	case <-time.After(5 * time.Second):
		t.Fatal("command from the spawned goroutine never ran")
	}
}

func TestAbandonedFutureStillRuns(t *testing.T) {
	gc := startContext(t, Options{})
	release := gate(t, gc)

	var ran atomic.Bool
	waitCtx, cancel := context.WithCancel(context.Background())
	f := gc.ExecuteAsync(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()
	_, err := f.Wait(waitCtx)
	assert.ErrorIs(t, err, context.Canceled)

	release()
	_, err = gc.BlockUntilEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestInitFailureIsFatal(t *testing.T) {
	initErr := errors.New("no adapter")
	fatal := make(chan error, 1)
	gc := New(Options{
		Init:  func() error { return initErr },
		Fatal: func(err error) { fatal <- err },
	})

	err := gc.Start(context.Background())
	require.ErrorIs(t, err, initErr)
	assert.ErrorIs(t, <-fatal, initErr)

	err = gc.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInitRunsOnWorkerBeforeCommands(t *testing.T) {
	var initThread atomic.Int64
	gc := startContext(t, Options{
		Init: func() error {
			initThread.Store(currentThreadID())
			return nil
		},
	})
	var cmdThread int64
	require.NoError(t, gc.Execute(context.Background(), func(context.Context) error {
		cmdThread = currentThreadID()
		return nil
	}))
	assert.Equal(t, initThread.Load(), cmdThread)
}

func TestCloseDrainsThenRejects(t *testing.T) {
	gc := New(Options{})
	ctx := context.Background()
	require.NoError(t, gc.Start(ctx))

	release := gate(t, gc)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		gc.ExecuteAsync(ctx, func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	closed := make(chan error)
	go func() { closed <- gc.Close(ctx) }()
	release()
	require.NoError(t, <-closed)
	assert.Equal(t, int32(5), ran.Load())

	err := gc.Execute(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseBeforeStartFailsQueued(t *testing.T) {
	gc := New(Options{})
	ctx := context.Background()
	f := gc.ExecuteAsync(ctx, func(context.Context) error { return nil })
	assert.Equal(t, 1, gc.Pending())

	require.NoError(t, gc.Close(ctx))
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, gc.Pending())
}

func TestCommandsPerTickInterleavesTicks(t *testing.T) {
	var ticks atomic.Int32
	gc := startContext(t, Options{
		CommandsPerTick: 1,
		OnTick:          func() { ticks.Add(1) },
		TickInterval:    time.Hour,
	})
	ctx := context.Background()

	release := gate(t, gc)
	seen := make([]int32, 0, 5)
	for i := 0; i < 5; i++ {
		gc.ExecuteAsync(ctx, func(context.Context) error {
			seen = append(seen, ticks.Load())
			return nil
		})
	}
	release()
	_, err := gc.BlockUntilEmpty(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "one drain pass per command")
	}
}

func TestSecondWorkerPanics(t *testing.T) {
	gc := startContext(t, Options{})
	assert.PanicsWithValue(t, "gfx: graphics worker already running for this context", func() {
		_ = gc.loop(context.Background())
	})
}
