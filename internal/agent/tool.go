package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/fernicar/gemini-cli/internal/llm"
)

// Tool is a named local capability the model may invoke.
type Tool interface {
	// Spec describes the tool to the model, including its parameter schema.
	Spec() llm.ToolSpec

	// ValidateParams runs tool-specific checks beyond schema validation.
	ValidateParams(args json.RawMessage) error

	// ShouldConfirm returns a confirmation request if the call needs user
	// approval, or nil to proceed without one.
	ShouldConfirm(ctx context.Context, args json.RawMessage) (*ConfirmationRequest, error)

	// Execute runs the tool. onOutput, when non-nil, receives incremental
	// output chunks as they are produced.
	Execute(ctx context.Context, args json.RawMessage, onOutput func(chunk string)) (ToolOutput, error)
}

// OriginTool is implemented by tools backed by a remote server. The origin
// keys ProceedAlwaysServer approvals.
type OriginTool interface {
	Origin() string
}

// ToolOutput is the successful result of a tool execution.
type ToolOutput struct {
	Content string // returned to the model
	Display string // human-readable summary (diff, truncated output)
}

// Registry resolves tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous registration with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec().Name] = t
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, NewToolErrorf(ErrToolNotFound, "tool not found: %q is not a registered tool", name)
	}
	return t, nil
}

// Specs returns all registered tool specs, sorted by name for a stable
// request payload.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	specs := r.Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// toolOrigin returns the remote origin for a tool, or "" for local tools.
func toolOrigin(t Tool) string {
	if ot, ok := t.(OriginTool); ok {
		return ot.Origin()
	}
	return ""
}
