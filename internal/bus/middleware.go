package bus

import (
	"fmt"
	"sort"
	"sync"
)

// MiddlewareFunc intercepts a message before delivery. It receives the
// message and a single-use continuation; calling next advances to the
// following middleware (and ultimately to delivery). A middleware may:
//
//   - observe: call next() and return its error
//   - veto: return nil without calling next (the message is dropped
//     silently, no subscriber or route sees it)
//   - fail: return an error, aborting the remaining pipeline for this
//     message; the failure is reported as a middlewareError observation
//     and never reaches the publisher
//
// Code after the next() call runs in reverse priority order, giving
// stack-like nesting.
type MiddlewareFunc func(msg Message, next func() error) error

// Middleware pairs an interceptor with its priority. Higher priorities
// run first; equal priorities keep registration order.
type Middleware struct {
	// Name labels the middleware in observations and logs.
	Name string

	// Priority orders execution, higher first. Default 0.
	Priority int

	// Fn is the interceptor itself.
	Fn MiddlewareFunc
}

// pipeline is the ordered chain-of-responsibility executor. The list is
// re-sorted on every registration with a stable sort so equal
// priorities preserve insertion order.
type pipeline struct {
	mu  sync.RWMutex
	mws []Middleware
}

func newPipeline() *pipeline {
	return &pipeline{}
}

// use appends a middleware and re-sorts descending by priority.
func (p *pipeline) use(mw Middleware) {
	p.mu.Lock()
	p.mws = append(p.mws, mw)
	sort.SliceStable(p.mws, func(i, j int) bool {
		return p.mws[i].Priority > p.mws[j].Priority
	})
	p.mu.Unlock()
}

func (p *pipeline) snapshot() []Middleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mws := make([]Middleware, len(p.mws))
	copy(mws, p.mws)
	return mws
}

// run executes the pipeline for a message. It returns delivered=true
// when every middleware invoked its continuation, so the message may
// proceed to subscribers and routes. A panic inside a middleware is
// recovered and converted to an error.
func (p *pipeline) run(msg Message) (delivered bool, err error) {
	mws := p.snapshot()

	var exec func(i int) error
	exec = func(i int) error {
		if i >= len(mws) {
			delivered = true
			return nil
		}

		mw := mws[i]
		called := false
		next := func() error {
			if called {
				return nil
			}
			called = true
			return exec(i + 1)
		}
		return safeMiddleware(mw, msg, next)
	}

	err = exec(0)
	if err != nil {
		delivered = false
	}
	return delivered, err
}

// safeMiddleware invokes one middleware with panic recovery.
func safeMiddleware(mw Middleware, msg Message, next func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware %q panicked: %v", mw.Name, r)
		}
	}()
	return mw.Fn(msg, next)
}
