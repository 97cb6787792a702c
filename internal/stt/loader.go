package stt

import (
	"context"
	"sync"
)

// OpenFunc loads a recognizer.
type OpenFunc func() (Recognizer, error)

// Loader loads the recognizer on first use. Callers arriving while a load is
// in flight wait for that same load. A failed load is not cached; the next
// caller tries again.
type Loader struct {
	open OpenFunc

	mu   sync.Mutex
	rec  Recognizer
	call *loadCall
}

type loadCall struct {
	done chan struct{}
	rec  Recognizer
	err  error
}

// NewLoader returns a loader around open.
func NewLoader(open OpenFunc) *Loader {
	return &Loader{open: open}
}

// Get returns the recognizer, loading it if needed. ctx only bounds the
// wait; the load itself runs to completion for later callers.
func (l *Loader) Get(ctx context.Context) (Recognizer, error) {
	l.mu.Lock()
	if l.rec != nil {
		rec := l.rec
		l.mu.Unlock()
		return rec, nil
	}
	c := l.call
	if c == nil {
		c = &loadCall{done: make(chan struct{})}
		l.call = c
		go l.load(c)
	}
	l.mu.Unlock()

	select {
	case <-c.done:
		return c.rec, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(c *loadCall) {
	c.rec, c.err = l.open()
	l.mu.Lock()
	if c.err == nil {
		l.rec = c.rec
	}
	l.call = nil
	l.mu.Unlock()
	close(c.done)
}

// Loaded reports whether the recognizer is ready.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec != nil
}

// Close releases a loaded recognizer.
func (l *Loader) Close() error {
	l.mu.Lock()
	rec := l.rec
	l.rec = nil
	l.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Close()
}
