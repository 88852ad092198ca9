package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SchedulerOptions configures a Scheduler. Confirm, Editor and the callbacks
// are injected at construction; there is no runtime mutation of behavior.
type SchedulerOptions struct {
	Registry  *Registry
	Confirm   ConfirmationHandler
	Editor    ArgsEditor
	AllowList *AllowList

	// YoloMode skips every confirmation prompt.
	YoloMode bool

	// OnUpdate is called on every individual state transition.
	OnUpdate func(call *ToolCall)
	// OnOutput receives incremental output from executing tools.
	OnOutput func(callID, chunk string)
	// OnComplete is called exactly once per batch with the terminal calls in
	// input order.
	OnComplete func(calls []*ToolCall)
}

// Scheduler owns the lifecycle of every tool call in a batch: validation,
// confirmation, execution and result collection. One batch runs at a time.
//
// Per-call states:
//
//	Validating → {Scheduled | AwaitingApproval | Error}
//	AwaitingApproval → {Scheduled | Cancelled}   (ModifyThenProceed re-enters Validating)
//	Scheduled → Executing → {Success | Error}
//
// Nothing executes while any call in the batch is still Validating or
// AwaitingApproval, so a human reviewing a multi-call batch sees a stable
// picture before side effects begin.
type Scheduler struct {
	opts      SchedulerOptions
	validator *schemaValidator

	mu     sync.Mutex
	active bool
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.AllowList == nil {
		opts.AllowList = NewAllowList()
	}
	return &Scheduler{opts: opts, validator: newSchemaValidator()}
}

// Schedule runs one batch to completion and returns the terminal ToolCall
// records in input order. Every request yields exactly one result: success,
// error, or a cancellation marker.
func (s *Scheduler) Schedule(ctx context.Context, requests []ToolCallRequest) ([]*ToolCall, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		if seen[req.CallID] {
			return nil, fmt.Errorf("duplicate callId %q in batch", req.CallID)
		}
		seen[req.CallID] = true
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, fmt.Errorf("a batch is already being scheduled")
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	calls := make([]*ToolCall, len(requests))
	for i, req := range requests {
		calls[i] = &ToolCall{Request: req, Status: StatusValidating}
		s.notify(calls[i])
	}

	for _, call := range calls {
		s.validateCall(ctx, call)
	}

	// Resolve confirmations one at a time, in input order. A human answers
	// prompts sequentially; calls that need no approval already sit in
	// Scheduled and wait for the batch gate.
	for _, call := range calls {
		for call.Status == StatusAwaitingApproval {
			s.resolveConfirmation(ctx, call)
		}
	}

	// Batch gate holds: every call is now Scheduled or terminal.
	var wg sync.WaitGroup
	for _, call := range calls {
		if call.Status != StatusScheduled {
			continue
		}
		s.transition(call, StatusExecuting)
		call.StartedAt = time.Now()
		wg.Add(1)
		go func(call *ToolCall) {
			defer wg.Done()
			s.executeCall(ctx, call)
		}(call)
	}
	wg.Wait()

	if s.opts.OnComplete != nil {
		s.opts.OnComplete(calls)
	}
	return calls, nil
}

// validateCall drives one call from Validating to Scheduled,
// AwaitingApproval, or a terminal Error.
func (s *Scheduler) validateCall(ctx context.Context, call *ToolCall) {
	if call.Tool == nil {
		tool, err := s.opts.Registry.Resolve(call.Request.Name)
		if err != nil {
			s.finishError(call, asToolError(err, ErrToolNotFound))
			return
		}
		call.Tool = tool
	}

	if err := s.validator.Validate(call.Tool.Spec(), call.Request.Args); err != nil {
		s.finishError(call, asToolError(err, ErrInvalidParams))
		return
	}
	if err := call.Tool.ValidateParams(call.Request.Args); err != nil {
		s.finishError(call, asToolError(err, ErrInvalidParams))
		return
	}

	if s.opts.YoloMode || s.opts.AllowList.IsAllowed(call.Request.Name, toolOrigin(call.Tool)) {
		s.transition(call, StatusScheduled)
		return
	}

	confirmation, err := call.Tool.ShouldConfirm(ctx, call.Request.Args)
	if err != nil {
		s.finishError(call, asToolError(err, ErrExecutionFailed))
		return
	}
	if confirmation == nil || s.opts.Confirm == nil {
		s.transition(call, StatusScheduled)
		return
	}

	confirmation.CallID = call.Request.CallID
	if confirmation.ToolName == "" {
		confirmation.ToolName = call.Request.Name
	}
	if confirmation.Origin == "" {
		confirmation.Origin = toolOrigin(call.Tool)
	}
	call.confirmation = confirmation
	s.transition(call, StatusAwaitingApproval)
}

// resolveConfirmation consumes one ConfirmOutcome for a call in
// AwaitingApproval. ModifyThenProceed re-enters Validating, so the caller
// loops until the call leaves AwaitingApproval.
func (s *Scheduler) resolveConfirmation(ctx context.Context, call *ToolCall) {
	outcome, err := s.opts.Confirm.Ask(ctx, call.confirmation)
	if err != nil {
		s.finishCancelled(call, fmt.Sprintf("Confirmation aborted: %v", err))
		return
	}
	call.Outcome = outcome

	switch outcome {
	case ProceedOnce:
		s.transition(call, StatusScheduled)
	case ProceedAlways:
		s.opts.AllowList.AllowTool(call.Request.Name)
		s.transition(call, StatusScheduled)
	case ProceedAlwaysServer:
		s.opts.AllowList.AllowOrigin(toolOrigin(call.Tool))
		s.transition(call, StatusScheduled)
	case ModifyThenProceed:
		if s.opts.Editor == nil {
			s.transition(call, StatusScheduled)
			return
		}
		newArgs, err := s.opts.Editor.Modify(ctx, call.Request.Name, call.Request.Args)
		if err != nil {
			s.finishCancelled(call, fmt.Sprintf("Argument edit aborted: %v", err))
			return
		}
		call.Request.Args = newArgs
		s.transition(call, StatusValidating)
		s.validateCall(ctx, call)
	case Cancel:
		s.finishCancelled(call, "")
	default:
		s.finishCancelled(call, fmt.Sprintf("Unknown confirmation outcome %q", outcome))
	}
}

// executeCall runs one Executing call to a terminal state. A panic inside a
// tool is converted to an Error result, never a scheduler crash.
func (s *Scheduler) executeCall(ctx context.Context, call *ToolCall) {
	defer func() {
		if r := recover(); r != nil {
			call.DurationMs = time.Since(call.StartedAt).Milliseconds()
			s.finishError(call, NewToolErrorf(ErrExecutionFailed, "tool %s panicked: %v", call.Request.Name, r))
		}
	}()

	onOutput := func(chunk string) {
		s.mu.Lock()
		call.LiveOutput = chunk
		s.mu.Unlock()
		if s.opts.OnOutput != nil {
			s.opts.OnOutput(call.Request.CallID, chunk)
		}
	}

	out, err := call.Tool.Execute(ctx, call.Request.Args, onOutput)
	call.DurationMs = time.Since(call.StartedAt).Milliseconds()

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.finishCancelled(call, "Tool execution cancelled.")
			return
		}
		s.finishError(call, asToolError(err, ErrExecutionFailed))
		return
	}
	s.finishSuccess(call, out)
}

func (s *Scheduler) transition(call *ToolCall, status Status) {
	call.Status = status
	s.notify(call)
}

func (s *Scheduler) finishSuccess(call *ToolCall, out ToolOutput) {
	call.Response = &ToolCallResponse{
		CallID:  call.Request.CallID,
		Name:    call.Request.Name,
		Content: out.Content,
		Display: out.Display,
	}
	s.transition(call, StatusSuccess)
}

func (s *Scheduler) finishError(call *ToolCall, toolErr *ToolError) {
	call.Response = &ToolCallResponse{
		CallID:  call.Request.CallID,
		Name:    call.Request.Name,
		Content: formatToolError(toolErr),
		Err:     toolErr,
	}
	s.transition(call, StatusError)
}

func (s *Scheduler) finishCancelled(call *ToolCall, reason string) {
	if reason == "" {
		reason = "Tool call cancelled by user."
	}
	call.Response = &ToolCallResponse{
		CallID:    call.Request.CallID,
		Name:      call.Request.Name,
		Content:   reason,
		Cancelled: true,
	}
	s.transition(call, StatusCancelled)
}

func (s *Scheduler) notify(call *ToolCall) {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(call)
	}
}
