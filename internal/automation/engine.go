//go:build !no_automation

// Package automation runs user Lua scripts against the gateway. Each script
// gets its own VM; all access to a VM goes through its command channel.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	lua "github.com/yuin/gopher-lua"

	"otbr-gateway/internal/gateway"
)

const (
	runTimeout        = 5 * time.Second
	vmCommandCapacity = 64
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a Lua callback registered with otbr.on. Every filter
// entry must equal the string form of the same key in the event data.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used by otbr.after.
func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = clk }
}

// Engine manages Lua VMs and dispatches gateway events to scripts.
type Engine struct {
	gw      *gateway.Gateway
	manager *Manager
	logger  *slog.Logger
	clock   clock.Clock

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(gw *gateway.Gateway, mgr *Manager, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		gw:      gw,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		clock:   clock.WallClock,
		vms:     make(map[string]*scriptVM),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start subscribes to gateway events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.gw.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the IDs of scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a saved script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary VM. Handlers the code registers
// with otbr.on are each invoked once with a synthetic event of their type.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), vmCommandCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}

	var logs []string
	var logMu sync.Mutex
	registerOtbrModule(L, vm, e, func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
		e.logger.Info("script run log", "msg", msg)
	})

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = runError(err)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script failed", "err", err)
		return result(err)
	}

	vm.mu.Lock()
	handlers := make([]luaEventHandler, len(vm.handlers))
	copy(handlers, vm.handlers)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		for k, v := range h.filter {
			ev.RawSetString(k, lua.LString(v))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			e.logger.Warn("run script handler failed", "event", h.eventType, "err", err)
			return result(err)
		}
	}
	return result(nil)
}

func runError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") {
		return fmt.Sprintf("timeout (%s)", runTimeout)
	}
	return msg
}

// newSandbox returns a state without file, process or module loading access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), vmCommandCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerOtbrModule(L, vm, e, func(msg string) {
		e.logger.Info("script log", "id", s.ID, "msg", msg)
	})

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// post queues fn on the VM without blocking.
func (e *Engine) post(vm *scriptVM, fn func(*lua.LState)) {
	if vm.ctx.Err() != nil {
		return
	}
	select {
	case vm.commands <- fn:
	default:
		e.logger.Warn("script command channel full, dropping callback")
	}
}

// dispatchEvent routes a gateway event to all matching Lua handlers.
func (e *Engine) dispatchEvent(event gateway.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			e.post(vm, func(L *lua.LState) {
				e.callHandler(L, fn, event)
			})
		}
	}
}

func matchesHandler(h luaEventHandler, event gateway.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if len(h.filter) == 0 {
		return true
	}
	data, ok := event.Data.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range h.filter {
		v, ok := data[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event gateway.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	if data, ok := event.Data.(map[string]any); ok {
		for k, v := range data {
			ev.RawSetString(k, goToLua(L, v))
		}
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "event", event.Type, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, lua.LString(vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
