package bdispatch

import (
	"context"
	"sync"
)

// Deferred is work of one request that continues after its handler returned. It settles exactly once, with a nil
// error on success. Deferred work is always created with [Spawn] so that it is tied to the response of the request
// it belongs to.
type Deferred struct {
	conn  ConnID
	track *tracker
	done  chan struct{}

	mu       sync.Mutex
	settled  bool
	err      error
	observer func(error)
	orphaned bool
	gauge    func(delta int)
}

// Spawn starts task on a new goroutine as deferred work of the request that owns w. A panic in task settles the
// deferred work with an error. If the deferred work is not returned from the handler and it fails, the failure is
// reported to the dispatcher's unobserved-failure hook, which answers the request if it is still open.
func Spawn(ctx context.Context, w *Response, task func(ctx context.Context) error) *Deferred {
	d := &Deferred{conn: w.Conn(), track: w.track, done: make(chan struct{})}
	w.track.add(d)

	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = recovered(p)
			}
			d.settle(err)
		}()

		err = task(ctx)
	}()

	return d
}

// Conn returns the connection of the request the work belongs to.
func (d *Deferred) Conn() ConnID { return d.conn }

// Done is closed when the deferred work settled.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Err returns the outcome of the work. It returns nil until the work settled.
func (d *Deferred) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Wait blocks until the work settled or ctx is done.
func (d *Deferred) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observe registers the single observer. If the work already settled the observer is called right away.
func (d *Deferred) observe(fn func(error)) {
	d.mu.Lock()
	if d.settled {
		err := d.err
		d.mu.Unlock()
		fn(err)
		return
	}

	d.observer = fn
	d.mu.Unlock()
}

// orphan marks the work as having no observer. A failure is reported now or once it settles.
func (d *Deferred) orphan() {
	d.mu.Lock()
	if d.observer != nil || d.orphaned {
		d.mu.Unlock()
		return
	}

	d.orphaned = true
	settled, err := d.settled, d.err
	d.mu.Unlock()

	if settled && err != nil {
		d.track.unobserved(err)
	}
}

func (d *Deferred) settle(err error) {
	d.mu.Lock()
	d.settled, d.err = true, err
	obs, orphaned := d.observer, d.orphaned
	d.mu.Unlock()

	close(d.done)
	if d.gauge != nil {
		d.gauge(-1)
	}

	switch {
	case obs != nil:
		obs(err)
	case orphaned && err != nil:
		d.track.unobserved(err)
	}
}

// tracker keeps the deferred work of one request. After the handler returned the tracker is sealed: work that was
// not handed to the dispatcher has no observer from then on.
type tracker struct {
	w *Response

	mu     sync.Mutex
	sealed bool
	items  []*Deferred
	hook   UnobservedHook
	gauge  func(delta int)
}

func newTracker(w *Response) *tracker {
	return &tracker{w: w}
}

// bind sets the hook for unobserved failures and the in-flight gauge.
func (t *tracker) bind(hook UnobservedHook, gauge func(delta int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook, t.gauge = hook, gauge
}

func (t *tracker) add(d *Deferred) {
	t.mu.Lock()
	sealed := t.sealed
	d.gauge = t.gauge
	if !sealed {
		t.items = append(t.items, d)
	}
	t.mu.Unlock()

	if d.gauge != nil {
		d.gauge(1)
	}
	if sealed {
		d.orphan()
	}
}

// seal orphans all work except the observed one, which may be nil.
func (t *tracker) seal(observed *Deferred) {
	t.mu.Lock()
	t.sealed = true
	items := t.items
	t.items = nil
	t.mu.Unlock()

	for _, d := range items {
		if d == observed {
			continue
		}
		d.orphan()
	}
}

func (t *tracker) unobserved(err error) {
	t.mu.Lock()
	hook := t.hook
	t.mu.Unlock()

	if hook == nil {
		hook = AnswerUnobserved
	}
	hook(t.w, err)
}
