package gateway

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gate is the single lock shared by RPC handlers and the stack worker.
// It is not reentrant.
type Gate struct {
	mu   sync.Mutex
	wait prometheus.Observer
}

// NewGate returns an unlocked gate.
func NewGate() *Gate {
	return &Gate{}
}

// Lock implements sync.Locker so the stack worker can share the gate.
func (g *Gate) Lock() { g.mu.Lock() }

// Unlock implements sync.Locker.
func (g *Gate) Unlock() { g.mu.Unlock() }

// TryLock reports whether the gate was free and takes it if so.
func (g *Gate) TryLock() bool { return g.mu.TryLock() }

// Do runs fn with the gate held. The gate is released on every return
// path, including a panic in fn.
func (g *Gate) Do(fn func() error) error {
	start := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wait != nil {
		g.wait.Observe(time.Since(start).Seconds())
	}
	return fn()
}
