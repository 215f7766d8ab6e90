package main

import "context"

// runLoop is the single-threaded cooperative event loop required by
// SPEC_FULL.md §5: one goroutine draining a buffered channel of closures.
// Every bus method call, bus signal, and driver/action callback that
// touches shared daemon state is converted into a closure posted here by
// its originating goroutine, so mutation of the active/selected profile
// and the hold registry never races.
type runLoop struct {
	ctx    context.Context
	cancel context.CancelFunc
	work   chan func()
}

func newRunLoop() *runLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &runLoop{ctx: ctx, cancel: cancel, work: make(chan func(), 64)}
}

// run drains work until stop is called. Intended to be the body of the
// daemon's one dedicated loop goroutine.
func (l *runLoop) run() {
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-l.ctx.Done():
			return
		}
	}
}

// post enqueues fn to run on the loop goroutine without waiting for it.
func (l *runLoop) post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.ctx.Done():
	}
}

// postSync enqueues fn and blocks until it has run, for callers (bus method
// dispatch) that need the mutation to complete before replying.
func (l *runLoop) postSync(fn func()) {
	done := make(chan struct{})
	l.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-l.ctx.Done():
	}
}

// stop cancels the loop; run returns once any in-flight closure completes.
func (l *runLoop) stop() {
	l.cancel()
}
