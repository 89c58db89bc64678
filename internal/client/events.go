package client

import "sync"

// eventQueue runs notifier callbacks for one connection, in the order they
// were queued, on a goroutine of its own. The receive loop only appends.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []func()
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// push queues fn. Events pushed after close are dropped.
func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.events = append(q.events, fn)
	q.cond.Signal()
}

// close lets the queued events run, then last if it is not nil, and stops
// the goroutine. Only the first call has any effect.
func (q *eventQueue) close(last func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if last != nil {
		q.events = append(q.events, last)
	}
	q.closed = true
	q.cond.Signal()
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		for len(q.events) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.events) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		q.mu.Unlock()

		fn()
	}
}
