package gfx

import "context"

// Future is the result slot of a submitted command.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(v T, err error) {
	f.val = v
	f.err = err
	close(f.done)
}

// Done is closed once the command has run (or was rejected).
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the command finished or ctx is done. Giving up on a
// future does not stop the worker from running the command.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet reports the result without blocking. ok is false while the
// command is still pending.
func (f *Future[T]) TryGet() (v T, ok bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		return v, false, nil
	}
}
