package transport

import "sync"

// serialQueue runs tasks one at a time in submission order. A worker
// goroutine exists only while tasks are pending.
type serialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

// Dispatch schedules fn. It never blocks and never runs fn on the caller's
// goroutine.
func (q *serialQueue) Dispatch(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.tasks = nil
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}

// Flush blocks until every task dispatched before the call has run. It must
// not be called from a task.
func (q *serialQueue) Flush() {
	done := make(chan struct{})
	q.Dispatch(func() { close(done) })
	<-done
}
