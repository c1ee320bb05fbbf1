package state

import (
	"sync"

	"go.uber.org/zap"
)

// Delivery is a serial executor: every dispatched function runs on one
// dedicated goroutine in dispatch order. It is the SDK's equivalent of a
// UI-affinity queue; observer notifications and public completions are
// delivered through it.
type Delivery struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	drain  sync.WaitGroup
	logger *zap.Logger
}

// NewDelivery creates a delivery executor and starts its goroutine.
func NewDelivery(logger *zap.Logger) *Delivery {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Delivery{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
	d.drain.Add(1)
	go d.run()
	return d
}

// Dispatch enqueues fn for serial execution. It never blocks the caller;
// the queue is unbounded. Dispatch after Close is a logged no-op.
func (d *Delivery) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatch after delivery close dropped")
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops the executor after draining already-queued work.
func (d *Delivery) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.drain.Wait()
}

func (d *Delivery) run() {
	defer d.drain.Done()
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			d.invoke(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// invoke runs fn, isolating the executor from observer panics.
func (d *Delivery) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delivery callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
