// Package tools provides the local tool implementations the agent can
// schedule: file access, editing, shell execution, search and web fetch.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fernicar/gemini-cli/internal/agent"
)

// Tool spec names.
const (
	ReadFileToolName   = "read_file"
	WriteFileToolName  = "write_file"
	EditToolName       = "edit"
	ShellToolName      = "shell"
	GlobToolName       = "glob"
	WebFetchToolName   = "web_fetch"
	SaveMemoryToolName = "save_memory"
)

// Options configures the tool set.
type Options struct {
	// WorkDir roots all file operations. Paths escaping it are rejected.
	WorkDir string
	// Approvals holds durable project-level grants; may be nil.
	Approvals *ProjectApprovals
	// MemoryPath is where save_memory appends facts.
	MemoryPath string
}

// RegisterAll registers every local tool on the registry.
func RegisterAll(registry *agent.Registry, opts Options) {
	registry.Register(NewReadFileTool(opts.WorkDir))
	registry.Register(NewWriteFileTool(opts.WorkDir, opts.Approvals))
	registry.Register(NewEditTool(opts.WorkDir, opts.Approvals))
	registry.Register(NewShellTool(opts.WorkDir, opts.Approvals))
	registry.Register(NewGlobTool(opts.WorkDir))
	registry.Register(NewWebFetchTool(opts.Approvals))
	registry.Register(NewSaveMemoryTool(opts.MemoryPath))
}

// resolvePath joins a possibly-relative path against the workspace root and
// rejects anything that escapes it. Containment is checked on the
// symlink-resolved path, so a link inside the workspace cannot reach out.
func resolvePath(workDir, path string) (string, error) {
	if path == "" {
		return "", agent.NewToolError(agent.ErrInvalidParams, "path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workDir, abs)
	}
	abs = filepath.Clean(abs)

	root, err := filepath.EvalSymlinks(filepath.Clean(workDir))
	if err != nil {
		return "", agent.NewToolErrorf(agent.ErrInvalidParams, "cannot resolve workspace root: %v", err)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", agent.NewToolErrorf(agent.ErrInvalidParams, "cannot resolve path %q: %v", path, err)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", agent.NewToolErrorf(agent.ErrInvalidParams, "path %q is outside the workspace", path)
	}
	return abs, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor and
// rejoins the not-yet-created remainder, so paths about to be written still
// resolve.
func resolveExisting(path string) (string, error) {
	suffix := ""
	for p := path; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

// truncateOutput caps tool output returned to the model.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n\n[Output truncated at %d bytes]", max)
}
