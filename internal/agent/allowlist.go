package agent

import "sync"

// AllowList is the per-session approval cache. ProceedAlways grants skip
// confirmation for a tool name; ProceedAlwaysServer grants skip for every
// tool from a remote origin. Access is serialized so a grant in one batch is
// visible to confirmation checks in the same and later batches.
type AllowList struct {
	mu      sync.Mutex
	tools   map[string]bool
	origins map[string]bool
}

func NewAllowList() *AllowList {
	return &AllowList{
		tools:   make(map[string]bool),
		origins: make(map[string]bool),
	}
}

// AllowTool grants session-wide approval for a tool name.
func (a *AllowList) AllowTool(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tools[name] = true
}

// AllowOrigin grants session-wide approval for all tools from origin.
func (a *AllowList) AllowOrigin(origin string) {
	if origin == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.origins[origin] = true
}

// IsAllowed reports whether a call to the named tool (from the given origin,
// "" for local tools) may skip confirmation.
func (a *AllowList) IsAllowed(name, origin string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tools[name] {
		return true
	}
	return origin != "" && a.origins[origin]
}
