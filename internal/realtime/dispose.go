package realtime

import (
	"sync"

	"go.uber.org/multierr"
)

// Disposer runs release functions in reverse order of registration.
type Disposer struct {
	mu       sync.Mutex
	fns      []func() error
	disposed bool
}

func NewDisposer() *Disposer {
	return &Disposer{}
}

// Add registers fn. After Dispose has run, fn is called immediately.
func (d *Disposer) Add(fn func() error) {
	d.mu.Lock()
	if !d.disposed {
		d.fns = append(d.fns, fn)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	_ = fn()
}

// Dispose runs every registered function once and returns their combined errors.
func (d *Disposer) Dispose() error {
	d.mu.Lock()
	fns := d.fns
	d.fns = nil
	d.disposed = true
	d.mu.Unlock()

	var err error
	for i := len(fns) - 1; i >= 0; i-- {
		err = multierr.Append(err, fns[i]())
	}
	return err
}

func (d *Disposer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fns)
}
