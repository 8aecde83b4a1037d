package scene

import (
	"context"
	"sync"
)

// Readiness is a one-shot future: resolved once with nil or an error.
// Wait blocks until then or until ctx ends.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

func (r *Readiness) Resolve() {
	r.settle(nil)
}

// Fail resolves the future with err. Later calls are ignored.
func (r *Readiness) Fail(err error) {
	r.settle(err)
}

func (r *Readiness) settle(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the future settles.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the future has settled, and with which error.
func (r *Readiness) Settled() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}
