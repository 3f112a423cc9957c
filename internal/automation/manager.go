//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/gopher-lua/parse"
)

var (
	// ErrInvalidScript is returned by Save when the Lua source does not parse.
	ErrInvalidScript = errors.New("invalid lua script")
	// ErrScriptNotFound is returned for an ID with no script file.
	ErrScriptNotFound = errors.New("script not found")
)

const (
	scriptExt  = ".lua"
	metaPrefix = "-- "
	maxSlugLen = 40
)

// validScriptID accepts IDs made of letters, digits, '_' and '-', which keeps
// every ID a plain file name inside the scripts directory.
func validScriptID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Manager stores automation scripts as .lua files in one directory. The
// first line of a file is a Lua comment holding the JSON metadata.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager returns a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// List returns every readable script, ordered by ID. Files that cannot be
// read are logged and skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths, err := filepath.Glob(filepath.Join(m.dir, "*"+scriptExt))
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	scripts := make([]*Script, 0, len(paths))
	for _, p := range paths {
		s, err := m.parseFile(p)
		if err != nil {
			slog.Warn("skip script", "file", p, "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get loads the script with the given ID.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.parseFile(m.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

// Save validates the Lua source and writes the script. A script without an
// ID gets one derived from its name, suffixed until unused.
func (m *Manager) Save(s *Script) (*Script, error) {
	if _, err := parse.Parse(strings.NewReader(s.LuaCode), s.Meta.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id %q", s.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)
	if err := writeFileAtomic(s.FilePath, serializeScript(s)); err != nil {
		return nil, fmt.Errorf("write script %s: %w", s.ID, err)
	}
	return s, nil
}

// freeID returns base, or base_N for the first N with no file. Callers hold mu.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, os.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Delete removes the script with the given ID.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete script %s: %w", id, err)
	}
	return nil
}

func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), scriptExt),
		FilePath: path,
	}

	body := string(data)
	if first, rest, _ := strings.Cut(body, "\n"); strings.HasPrefix(first, metaPrefix+"{") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, metaPrefix)), &s.Meta); err != nil {
			slog.Warn("script metadata", "file", path, "err", err)
		}
		body = rest
	}
	s.LuaCode = trimBlankLines(body)
	return s, nil
}

// trimBlankLines drops whitespace-only lines from the start of code.
func trimBlankLines(code string) string {
	for {
		line, rest, found := strings.Cut(code, "\n")
		if !found || strings.TrimSpace(line) != "" {
			return code
		}
		code = rest
	}
}

func serializeScript(s *Script) string {
	meta, _ := json.Marshal(s.Meta)
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", metaPrefix, meta)
	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// writeFileAtomic replaces path through a temp file in the same directory,
// so a running engine never reads a half-written script.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".script-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// slugify lowercases name and joins its alphanumeric runs with '_'.
func slugify(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	s := b.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	return s
}
