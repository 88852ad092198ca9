package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// ProjectApprovals persists durable per-project grants: tools approved for
// every session and shell command patterns that skip confirmation. Stored as
// YAML under the config dir, keyed by a hash of the project path.
type ProjectApprovals struct {
	path string

	mu       sync.Mutex
	data     approvalsFile
	compiled []glob.Glob
}

type approvalsFile struct {
	Project       string   `yaml:"project"`
	Tools         []string `yaml:"tools,omitempty"`
	ShellPatterns []string `yaml:"shell_patterns,omitempty"`
}

// LoadProjectApprovals loads (or initializes) the approvals file for a
// project directory.
func LoadProjectApprovals(configDir, projectDir string) (*ProjectApprovals, error) {
	hash := sha256.Sum256([]byte(projectDir))
	path := filepath.Join(configDir, "projects", hex.EncodeToString(hash[:8])+".yaml")

	p := &ProjectApprovals{
		path: path,
		data: approvalsFile{Project: projectDir},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read approvals: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p.data); err != nil {
		return nil, fmt.Errorf("failed to parse approvals %s: %w", path, err)
	}
	p.recompile()
	return p, nil
}

// AllowsTool reports whether the tool has a durable grant.
func (p *ProjectApprovals) AllowsTool(name string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.data.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// AllowsCommand reports whether a shell command matches a granted pattern.
// Patterns use glob syntax, e.g. "git *" or "npm run *".
func (p *ProjectApprovals) AllowsCommand(command string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.compiled {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// GrantTool adds a durable grant for a tool name and saves.
func (p *ProjectApprovals) GrantTool(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.data.Tools {
		if t == name {
			return nil
		}
	}
	p.data.Tools = append(p.data.Tools, name)
	return p.save()
}

// GrantCommandPattern adds a durable shell pattern and saves.
func (p *ProjectApprovals) GrantCommandPattern(pattern string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.data.ShellPatterns {
		if existing == pattern {
			return nil
		}
	}
	p.data.ShellPatterns = append(p.data.ShellPatterns, pattern)
	p.recompile()
	return p.save()
}

// CommandPattern derives the durable pattern for a shell command: the
// leading program name plus a wildcard, so "git push origin" grants "git *".
// A bare command with no arguments is granted exactly.
func CommandPattern(command string) string {
	fields := strings.Fields(command)
	if len(fields) <= 1 {
		return strings.TrimSpace(command)
	}
	return fields[0] + " *"
}

func (p *ProjectApprovals) recompile() {
	p.compiled = p.compiled[:0]
	for _, pattern := range p.data.ShellPatterns {
		if g, err := glob.Compile(pattern); err == nil {
			p.compiled = append(p.compiled, g)
		}
	}
}

func (p *ProjectApprovals) save() error {
	out, err := yaml.Marshal(&p.data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, out, 0o644)
}
