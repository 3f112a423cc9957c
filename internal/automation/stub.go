//go:build no_automation

package automation

import (
	"errors"
	"log/slog"

	"github.com/juju/clock"

	"otbr-gateway/internal/gateway"
)

var (
	// ErrInvalidScript is returned by Save when the Lua source does not parse.
	ErrInvalidScript = errors.New("invalid lua script")
	// ErrScriptNotFound is returned for an ID with no script file.
	ErrScriptNotFound = errors.New("script not found")
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns nil manager when automation is disabled.
func NewManager(_ string) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get always reports ErrScriptNotFound.
func (m *Manager) Get(_ string) (*Script, error) { return nil, ErrScriptNotFound }

// Save returns the script unchanged.
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }

// Delete always reports ErrScriptNotFound.
func (m *Manager) Delete(_ string) error { return ErrScriptNotFound }

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock is a no-op.
func WithClock(_ clock.Clock) EngineOption { return func(*Engine) {} }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *gateway.Gateway, _ *Manager, _ *slog.Logger, _ ...EngineOption) *Engine {
	return &Engine{}
}

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// Running returns nil.
func (e *Engine) Running() []string { return nil }

// ReloadScript is a no-op.
func (e *Engine) ReloadScript(_ string) error { return nil }

// StopScript is a no-op.
func (e *Engine) StopScript(_ string) {}

// RunScript returns a stub result.
func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
