package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

const maxGlobResults = 200

// GlobTool finds workspace files by pattern.
type GlobTool struct {
	workDir string
}

func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type globEntry struct {
	path    string
	modTime time.Time
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Results are sorted by modification time, newest first.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern, e.g. '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory for the search (defaults to the workspace root)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) ValidateParams(args json.RawMessage) error {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return agent.NewToolError(agent.ErrInvalidParams, "pattern is required")
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return agent.NewToolErrorf(agent.ErrInvalidParams, "invalid glob pattern: %s", a.Pattern)
	}
	return nil
}

func (t *GlobTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	return nil, nil
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}

	base := t.workDir
	if a.Path != "" {
		resolved, err := resolvePath(t.workDir, a.Path)
		if err != nil {
			return agent.ToolOutput{}, err
		}
		base = resolved
	}

	var entries []globEntry
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != base {
			return filepath.SkipDir
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, filepath.ToSlash(rel))
		if err != nil || !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, globEntry{path: rel, modTime: info.ModTime()})
		if len(entries) >= maxGlobResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return agent.ToolOutput{}, ctx.Err()
	}
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "walk error: %v", err)
	}

	if len(entries) == 0 {
		return agent.ToolOutput{Content: "No files matched the pattern."}, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.path)
		sb.WriteString("\n")
	}
	if len(entries) >= maxGlobResults {
		fmt.Fprintf(&sb, "[Results truncated at %d files]\n", maxGlobResults)
	}
	return agent.ToolOutput{
		Content: strings.TrimSuffix(sb.String(), "\n"),
		Display: fmt.Sprintf("Matched %d file(s)", len(entries)),
	}, nil
}
