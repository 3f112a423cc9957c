// Package gateway turns named commands with JSON parameter blobs into gated
// calls on a Thread stack and builds one ordered reply document per call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"otbr-gateway/internal/otstack"
	"otbr-gateway/internal/store"
)

// Config holds gateway tunables.
type Config struct {
	ScanTimeout   time.Duration
	DiagCooldown  time.Duration
	JoinerTimeout time.Duration
}

const (
	defaultScanTimeout   = 30 * time.Second
	defaultDiagCooldown  = 10 * time.Second
	defaultJoinerTimeout = 120 * time.Second
	eventQueueSize       = 256
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the wall clock used for the diagnostic cool-down, the
// scan timeout and event timestamps.
func WithClock(clk clock.Clock) Option {
	return func(g *Gateway) { g.clock = clk }
}

// WithStore persists diagnostics snapshots and network state.
func WithStore(st store.Store) Option {
	return func(g *Gateway) { g.store = st }
}

// WithMetrics records command and gate metrics into c.
func WithMetrics(c *Collector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithEvents publishes gateway events on bus.
func WithEvents(bus *EventBus) Option {
	return func(g *Gateway) { g.events = bus }
}

// Gateway owns the command table and the state shared between RPC callers
// and the stack worker. There is one per process.
type Gateway struct {
	stack   otstack.Stack
	gate    *Gate
	events  *EventBus
	store   store.Store
	clock   clock.Clock
	metrics *Collector
	logger  *slog.Logger
	cfg     Config

	commands map[string]*Command
	order    []*Command

	scanning atomic.Bool
	diag     diagCache

	eventCh   chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a gateway for stack. gate must be the lock the stack's worker
// runs its callbacks under.
func New(stack otstack.Stack, gate *Gate, cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	if cfg.DiagCooldown <= 0 {
		cfg.DiagCooldown = defaultDiagCooldown
	}
	if cfg.JoinerTimeout <= 0 {
		cfg.JoinerTimeout = defaultJoinerTimeout
	}
	g := &Gateway{
		stack:   stack,
		gate:    gate,
		clock:   clock.WallClock,
		logger:  logger.With("component", "gateway"),
		cfg:     cfg,
		eventCh: make(chan Event, eventQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.events == nil {
		g.events = NewEventBus(logger)
	}
	if g.metrics != nil {
		gate.wait = g.metrics.gateWait
	}
	g.diag.published = NewDocument()
	g.loadDiagnostics()
	g.registerCommands()

	stack.OnDiagnosticResponse(g.handleDiagnosticResponse)
	stack.OnCommissionerState(g.handleCommissionerState)
	stack.OnJoinerEvent(g.handleJoinerEvent)

	g.wg.Add(1)
	go g.dispatchEvents()
	return g
}

// Events returns the event bus.
func (g *Gateway) Events() *EventBus {
	return g.events
}

// Stack returns the underlying stack.
func (g *Gateway) Stack() otstack.Stack {
	return g.stack
}

// Close stops event delivery. It does not close the stack.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.done) })
	g.wg.Wait()
}

func networkState(state string) map[string]any {
	return map[string]any{"state": state}
}

// emit queues an event without blocking; stack callbacks call it with the
// gate held.
func (g *Gateway) emit(typ string, data any) {
	select {
	case g.eventCh <- Event{Type: typ, Data: data, Time: g.clock.Now()}:
	default:
		g.logger.Warn("event queue full, dropping event", "type", typ)
	}
}

func (g *Gateway) dispatchEvents() {
	defer g.wg.Done()
	for {
		select {
		case ev := <-g.eventCh:
			g.events.Emit(ev)
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) loadDiagnostics() {
	if g.store == nil {
		return
	}
	snap, err := g.store.GetDiagnostics()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("load diagnostics snapshot", "err", err)
		}
		return
	}
	doc := NewDocument()
	if err := json.Unmarshal(snap.Document, doc); err != nil {
		g.logger.Warn("decode diagnostics snapshot", "err", err)
		return
	}
	g.diag.published = doc
	g.diag.count = snap.Responses
	g.logger.Info("diagnostics snapshot restored", "responses", snap.Responses, "updated", snap.UpdatedAt)
}

// withStack runs fn with the gate held.
func (g *Gateway) withStack(fn func(st otstack.Stack) error) error {
	return g.gate.Do(func() error { return fn(g.stack) })
}

// detach keeps a handler running after its caller goes away.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
