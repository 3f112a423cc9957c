package otstack

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by operations on a closed stack.
var ErrClosed = errors.New("otstack: closed")

// Worker runs stack callbacks on a single goroutine. Each callback runs with
// gate held, so callbacks never interleave with gated RPC access.
type Worker struct {
	gate   sync.Locker
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWorker starts a worker that serializes callbacks behind gate.
func NewWorker(gate sync.Locker, logger *slog.Logger) *Worker {
	w := &Worker{
		gate:   gate,
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Post queues fn. It never blocks; it returns false once the worker is closed.
func (w *Worker) Post(fn func()) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()
	w.kick()
	return true
}

// Wake makes the worker drain its queue.
func (w *Worker) Wake() error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	w.kick()
	return nil
}

func (w *Worker) kick() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Close stops the worker and drops callbacks still queued.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 || w.closed {
				w.mu.Unlock()
				break
			}
			fn := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()
			w.exec(fn)
		}
	}
}

func (w *Worker) exec(fn func()) {
	w.gate.Lock()
	defer w.gate.Unlock()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("stack callback panic", "panic", r)
		}
	}()
	fn()
}
