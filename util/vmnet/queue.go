package vmnet

import "sync"

// SerialQueue is a Go dispatch queue: a single goroutine runs submitted work
// in submission order. Release lets already queued work finish and then stops
// the goroutine; work submitted after Release is dropped.
type SerialQueue struct {
	label string

	mu       sync.Mutex
	pending  []func()
	released bool
	wake     chan struct{}
	done     chan struct{}
}

func NewSerialQueue(label string) *SerialQueue {
	q := &SerialQueue{
		label: label,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *SerialQueue) Label() string {
	return q.label
}

// Async queues fn. It reports false when the queue has been released.
func (q *SerialQueue) Async(fn func()) bool {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync queues fn and waits for it to run. It must not be called from work
// running on q.
func (q *SerialQueue) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.Async(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	<-ran
	return true
}

func (q *SerialQueue) Barrier() {
	if !q.Sync(func() {}) {
		<-q.done
	}
}

func (q *SerialQueue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the queue has been released and drained.
func (q *SerialQueue) Done() <-chan struct{} {
	return q.done
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		work := q.pending
		q.pending = nil
		released := q.released
		q.mu.Unlock()

		for _, fn := range work {
			fn()
		}

		if len(work) == 0 {
			if released {
				return
			}
			<-q.wake
		}
	}
}
