// Package agent implements the tool-call lifecycle scheduler and the
// streaming turn orchestrator that drive one model exchange: map provider
// fragments to a uniform event sequence, gate requested tool calls behind
// validation and confirmation, execute the approved batch concurrently, and
// merge results back into the conversation for the next turn.
package agent

import (
	"context"
	"encoding/json"
	"time"
)

// ToolCallRequest is a model-requested (or client-synthesized) tool
// invocation. CallID is unique within a turn; a missing backend id is filled
// in before the request leaves the turn orchestrator.
type ToolCallRequest struct {
	CallID          string
	Name            string
	Args            json.RawMessage
	ClientInitiated bool
}

// ToolCallResponse is the single terminal result of one request. Content is
// what goes back to the model; Display is a human-readable summary (a diff,
// a truncated output block).
type ToolCallResponse struct {
	CallID    string
	Name      string
	Content   string
	Display   string
	Err       *ToolError
	Cancelled bool
}

// Status is the lifecycle state of a scheduled tool call.
type Status string

const (
	StatusValidating       Status = "validating"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusScheduled        Status = "scheduled"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ToolCall is the scheduler-owned record for one request. It is mutated only
// by the scheduler while the batch runs and is read-only once terminal.
type ToolCall struct {
	Request  ToolCallRequest
	Tool     Tool // nil until resolved
	Status   Status
	Response *ToolCallResponse // nil until terminal
	Outcome  ConfirmOutcome    // set when the call passed through confirmation

	StartedAt  time.Time
	DurationMs int64

	// LiveOutput holds the most recent incremental output chunk from an
	// executing tool. Only the latest chunk is retained.
	LiveOutput string

	confirmation *ConfirmationRequest
}

// ConfirmOutcome represents the result of a user confirmation prompt.
type ConfirmOutcome string

const (
	ProceedOnce         ConfirmOutcome = "once"          // Single approval
	ProceedAlways       ConfirmOutcome = "always"        // Session-scoped approval for this tool
	ProceedAlwaysServer ConfirmOutcome = "always_server" // Session-scoped approval for the tool's origin server
	ModifyThenProceed   ConfirmOutcome = "modify"        // Edit arguments, then re-validate
	Cancel              ConfirmOutcome = "cancel"        // User denied
)

// ConfirmationRequest describes a pending tool call for the confirmation
// collaborator. Command and Diff are optional display payloads.
type ConfirmationRequest struct {
	CallID   string
	ToolName string
	Origin   string // non-empty for remote tool sources
	Summary  string
	Command  string
	Diff     string
}

// ConfirmationHandler resolves a confirmation request. Ask may block
// indefinitely on human input; it must honor ctx cancellation.
type ConfirmationHandler interface {
	Ask(ctx context.Context, req *ConfirmationRequest) (ConfirmOutcome, error)
}

// ArgsEditor lets a human alter proposed tool arguments before execution.
// Used for the ModifyThenProceed outcome.
type ArgsEditor interface {
	Modify(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}
