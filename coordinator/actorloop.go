package coordinator

import "sync"

// actorLoop stands in for a reentrant mutex: storage mutation and
// broadcast must stay serialized across a refresh that suspends on a
// blocking origin call, and Go's sync.Mutex isn't reentrant, so a
// goroutine that owns a key's (or a family's) mutable state and drains
// jobs posted to it one at a time takes the place of one. Code that is
// already running as a job on the loop (e.g. loadFromExternal mutating
// lastEmitted) calls the *Locked helpers directly instead of submitting
// another job — it already has exclusive access, so there is nothing
// left to reenter.
type actorLoop struct {
	jobs     chan func()
	stopOnce sync.Once
	done     chan struct{}
}

func newActorLoop() *actorLoop {
	a := &actorLoop{jobs: make(chan func()), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *actorLoop) run() {
	for {
		select {
		case fn := <-a.jobs:
			fn()
		case <-a.done:
			return
		}
	}
}

// submit runs fn on the loop's goroutine and blocks the caller until it
// returns. If the loop has already been stopped, fn runs synchronously
// on the caller's goroutine instead, so Close-time cleanup still
// executes rather than hanging forever.
func (a *actorLoop) submit(fn func()) {
	finished := make(chan struct{})
	select {
	case a.jobs <- func() { fn(); close(finished) }:
		<-finished
	case <-a.done:
		fn()
	}
}

// stop halts the loop. Idempotent.
func (a *actorLoop) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}
