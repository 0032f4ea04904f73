package notification

import "context"

// Completion is the eventual outcome of a handler invocation.
type Completion struct {
	done chan struct{}
	err  error
}

// Completed returns a Completion that is already resolved with err
// (nil means success).
func Completed(err error) *Completion {
	c := &Completion{done: make(chan struct{}), err: err}
	close(c.done)
	return c
}

// Go runs fn on a new goroutine and resolves the Completion with its result.
func Go(fn func() error) *Completion {
	c := &Completion{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		c.err = fn()
	}()
	return c
}

// Done is closed once the outcome is known.
func (c *Completion) Done() <-chan struct{} { return c.done }

// IsCompleted reports whether the outcome is known.
func (c *Completion) IsCompleted() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the failure outcome, or nil while still running or on success.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx ends. Giving up on ctx does
// not stop the underlying work.
func (c *Completion) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
