// Package workspace provides exclusively-owned scratch directories,
// one per conversion request.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workspace is an ephemeral directory holding one request's input and
// output files. It is created by Manager.Acquire, never shared, and
// destroyed by Manager.Release at the end of the same request.
type Workspace struct {
	Dir string
}

// InputPath returns the path for the uploaded input file.
func (w *Workspace) InputPath(ext string) string {
	return filepath.Join(w.Dir, "input."+ext)
}

// OutputPath returns the path for the converted output file.
func (w *Workspace) OutputPath(format string) string {
	return filepath.Join(w.Dir, "output."+format)
}

// Join returns the path of name inside the workspace.
func (w *Workspace) Join(name string) string {
	return filepath.Join(w.Dir, name)
}

// Manager creates and destroys workspaces under a single root directory.
type Manager struct {
	root   string
	logger *zap.Logger
}

// NewManager ensures root exists and is writable, then returns a Manager.
// An empty root falls back to the system temp directory.
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "audioconv")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", root, err)
	}

	// Probe writability up front so a misconfigured volume fails at
	// startup instead of on the first request.
	probe := filepath.Join(root, ".write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return nil, fmt.Errorf("workspace root %s not writable: %w", root, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean workspace probe: %w", err)
	}

	return &Manager{root: root, logger: logger}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace directory unique to the call.
func (m *Manager) Acquire() (*Workspace, error) {
	dir := filepath.Join(m.root, "conv-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Release recursively deletes the workspace. It is idempotent: releasing
// an already-removed workspace is not an error. Failures are logged, not
// returned, because callers run Release on every exit path and have no
// recovery available.
func (m *Manager) Release(w *Workspace) {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		m.logger.Warn("failed to remove workspace",
			zap.String("dir", w.Dir),
			zap.Error(err))
	}
}
