package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fernicar/gemini-cli/internal/llm"
)

func newTestRunner(provider llm.Provider, registry *Registry, opts RunnerOptions) *Runner {
	opts.Provider = provider
	opts.Registry = registry
	opts.Scheduler = NewScheduler(SchedulerOptions{Registry: registry})
	if opts.MaxContinuations == 0 {
		opts.MaxContinuations = 1
	}
	return NewRunner(opts)
}

func TestRunnerExecutesToolLoopAndMergesResults(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddToolCall("call-1", "read_file", map[string]string{"path": "a.txt"}).
		AddTextResponse("The file says hello.").
		AddTextResponse(`{"next_speaker": "user"}`)

	tool := &fakeTool{
		name: "read_file",
		execute: func(ctx context.Context, args json.RawMessage, onOutput func(string)) (ToolOutput, error) {
			return ToolOutput{Content: "hello"}, nil
		},
	}
	runner := newTestRunner(provider, newTestRegistry(tool), RunnerOptions{})

	history, err := runner.Run(context.Background(), nil, "what's in a.txt?")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var toolMsg *llm.Message
	for i := range history {
		if history[i].Role == llm.RoleTool {
			toolMsg = &history[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("expected a tool-result message in history")
	}
	if len(toolMsg.Parts) != 1 || toolMsg.Parts[0].ToolResult.Content != "hello" {
		t.Errorf("unexpected tool result message: %+v", toolMsg)
	}

	last := history[len(history)-1]
	if last.Role != llm.RoleAssistant {
		t.Fatalf("expected final assistant message, got role %s", last.Role)
	}
	if got := last.Parts[0].Text; got != "The file says hello." {
		t.Errorf("final text = %q", got)
	}
}

func TestRunnerMergesResultsInRequestOrder(t *testing.T) {
	calls := []*ToolCall{
		{
			Request:  ToolCallRequest{CallID: "1", Name: "a"},
			Status:   StatusSuccess,
			Response: &ToolCallResponse{CallID: "1", Name: "a", Content: "first"},
		},
		{
			Request: ToolCallRequest{CallID: "2", Name: "b"},
			Status:  StatusError,
			Response: &ToolCallResponse{
				CallID: "2", Name: "b",
				Content: formatToolError(NewToolError(ErrExecutionFailed, "exit status 1")),
				Err:     NewToolError(ErrExecutionFailed, "exit status 1"),
			},
		},
		{
			Request:  ToolCallRequest{CallID: "3", Name: "c"},
			Status:   StatusCancelled,
			Response: &ToolCallResponse{CallID: "3", Name: "c", Content: "Tool call cancelled by user.", Cancelled: true},
		},
	}

	msg := mergeResults(calls)
	if msg.Role != llm.RoleTool {
		t.Fatalf("expected tool role, got %s", msg.Role)
	}
	if len(msg.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(msg.Parts))
	}

	if msg.Parts[0].ToolResult.ID != "1" || msg.Parts[1].ToolResult.ID != "2" || msg.Parts[2].ToolResult.ID != "3" {
		t.Error("results must be merged in original request order")
	}
	if !msg.Parts[1].ToolResult.IsError {
		t.Error("error result must be error-shaped, not omitted")
	}
	if !strings.Contains(msg.Parts[1].ToolResult.Content, "EXECUTION_FAILED") {
		t.Errorf("error content should carry the failure detail, got %q", msg.Parts[1].ToolResult.Content)
	}
	if !msg.Parts[2].ToolResult.Cancelled {
		t.Error("cancelled result must carry the cancellation marker")
	}
}

func TestRunnerContinuesWhenModelIntendsToKeepGoing(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddTextResponse("I will now list the files.").
		AddTextResponse(`{"next_speaker": "model"}`).
		AddTextResponse("Here are the files: none.")

	runner := newTestRunner(provider, newTestRegistry(), RunnerOptions{})

	history, err := runner.Run(context.Background(), nil, "list the files")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var syntheticContinues int
	for _, msg := range history {
		if msg.Role == llm.RoleUser && len(msg.Parts) == 1 && msg.Parts[0].Text == continuePrompt {
			syntheticContinues++
		}
	}
	if syntheticContinues != 1 {
		t.Errorf("expected 1 synthetic continue directive, got %d", syntheticContinues)
	}
	// Main turn + verdict + continuation turn; the continuation turn had no
	// tool calls, so no further heuristic query is made.
	if provider.CurrentTurn() != 3 {
		t.Errorf("expected 3 provider calls, got %d", provider.CurrentTurn())
	}
}

func TestRunnerStopsWhenUserShouldSpeak(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddTextResponse("Done. Anything else?").
		AddTextResponse(`{"next_speaker": "user"}`)

	runner := newTestRunner(provider, newTestRegistry(), RunnerOptions{})

	history, err := runner.Run(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, msg := range history {
		if msg.Role == llm.RoleUser && len(msg.Parts) == 1 && msg.Parts[0].Text == continuePrompt {
			t.Fatal("must not continue when the verdict says user speaks next")
		}
	}
}

func TestRunnerContinuationBoundIsHonored(t *testing.T) {
	// Every turn claims it wants to keep going; the bound must still stop
	// the loop after one continuation without tool calls.
	provider := llm.NewMockProvider("mock").
		AddTextResponse("Step one done, doing step two next.").
		AddTextResponse(`{"next_speaker": "model"}`).
		AddTextResponse("Step two done, doing step three next.").
		AddTextResponse(`{"next_speaker": "model"}`).
		AddTextResponse("unreachable")

	runner := newTestRunner(provider, newTestRegistry(), RunnerOptions{MaxContinuations: 1})

	if _, err := runner.Run(context.Background(), nil, "do the steps"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if provider.CurrentTurn() != 3 {
		t.Errorf("expected the loop to stop after one continuation (3 calls), got %d", provider.CurrentTurn())
	}
}

func TestRunnerReturnsTransportError(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddToolCall("call-1", "read_file", map[string]string{"path": "a.txt"}).
		AddError(errTransportTest)

	tool := &fakeTool{
		name: "read_file",
		execute: func(ctx context.Context, args json.RawMessage, onOutput func(string)) (ToolOutput, error) {
			return ToolOutput{Content: "hello"}, nil
		},
	}
	runner := newTestRunner(provider, newTestRegistry(tool), RunnerOptions{})

	history, err := runner.Run(context.Background(), nil, "read it")
	if err == nil {
		t.Fatal("expected transport error")
	}

	// The completed tool result from the first turn is kept.
	var found bool
	for _, msg := range history {
		if msg.Role == llm.RoleTool {
			found = true
		}
	}
	if !found {
		t.Error("already-completed tool results must not be lost on transport failure")
	}
}

func TestRunnerCancellation(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{Text: "slow", Delay: 5 * time.Second})

	runner := newTestRunner(provider, newTestRegistry(), RunnerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx, nil, "hello"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunnerSystemPromptPrepended(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddTextResponse("hi").
		AddTextResponse(`{"next_speaker": "user"}`)

	runner := newTestRunner(provider, newTestRegistry(), RunnerOptions{SystemPrompt: "You are terse."})

	if _, err := runner.Run(context.Background(), nil, "hello"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(provider.Requests) == 0 {
		t.Fatal("no requests recorded")
	}
	first := provider.Requests[0].Messages[0]
	if first.Role != llm.RoleSystem || first.Parts[0].Text != "You are terse." {
		t.Errorf("expected system prompt first, got %+v", first)
	}
}

var errTransportTest = &transportTestError{}

type transportTestError struct{}

func (*transportTestError) Error() string { return "stream broke mid-exchange" }
