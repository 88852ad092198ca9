package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernicar/gemini-cli/internal/llm"
)

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for event := range events {
		out = append(out, event)
	}
	return out
}

func TestTurnMapsFragmentsToEvents(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Thoughts:  []string{"**Reading the file** I should look at a.txt first"},
		Text:      "Let me check that file.",
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "read_file", Arguments: []byte(`{"path":"a.txt"}`)}},
		Usage:     &llm.Usage{InputTokens: 12, OutputTokens: 34},
	})

	turn := NewTurn(provider, llm.Request{Messages: []llm.Message{llm.UserText("what's in a.txt?")}})
	events, err := turn.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	all := collectEvents(t, events)

	var thoughts, contents, requests, usages int
	var text string
	for _, event := range all {
		switch event.Type {
		case StreamThought:
			thoughts++
			if event.Thought.Subject != "Reading the file" {
				t.Errorf("unexpected thought subject %q", event.Thought.Subject)
			}
		case StreamContent:
			contents++
			text += event.Text
		case StreamToolCallRequest:
			requests++
			if event.Request.CallID != "call-1" || event.Request.Name != "read_file" {
				t.Errorf("unexpected request %+v", event.Request)
			}
		case StreamUsage:
			usages++
		case StreamUserCancelled, StreamError:
			t.Errorf("unexpected terminal event %s", event.Type)
		}
	}
	if thoughts != 1 || requests != 1 || usages != 1 {
		t.Errorf("expected 1 thought/request/usage, got %d/%d/%d", thoughts, requests, usages)
	}
	if text != "Let me check that file." {
		t.Errorf("reassembled content = %q", text)
	}

	pending := turn.PendingCalls()
	if len(pending) != 1 || pending[0].CallID != "call-1" {
		t.Fatalf("expected 1 pending call with id call-1, got %+v", pending)
	}
	if turn.Usage() == nil || turn.Usage().OutputTokens != 34 {
		t.Errorf("usage not remembered: %+v", turn.Usage())
	}
}

func TestTurnGeneratesMissingCallIDs(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		ToolCalls: []llm.ToolCall{
			{ID: "", Name: "glob", Arguments: []byte(`{"pattern":"*.go"}`)},
			{ID: "dup", Name: "read_file", Arguments: []byte(`{}`)},
			{ID: "dup", Name: "read_file", Arguments: []byte(`{}`)},
		},
	})

	turn := NewTurn(provider, llm.Request{})
	events, err := turn.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	collectEvents(t, events)

	pending := turn.PendingCalls()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending calls, got %d", len(pending))
	}
	seen := make(map[string]bool)
	for _, req := range pending {
		if req.CallID == "" {
			t.Error("callId must be generated when the backend omits one")
		}
		if seen[req.CallID] {
			t.Errorf("duplicate callId %q within turn", req.CallID)
		}
		seen[req.CallID] = true
	}
}

func TestTurnEmitsSingleUserCancelled(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Text:  "this response takes a while",
		Delay: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	turn := NewTurn(provider, llm.Request{})
	events, err := turn.Run(ctx)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	cancel()

	all := collectEvents(t, events)
	var cancels, errs int
	for _, event := range all {
		switch event.Type {
		case StreamUserCancelled:
			cancels++
		case StreamError:
			errs++
		}
	}
	if cancels != 1 {
		t.Errorf("expected exactly 1 UserCancelled event, got %d", cancels)
	}
	if errs != 0 {
		t.Errorf("cancellation must not surface as Error, got %d error events", errs)
	}
}

func TestTurnEmitsSingleErrorOnTransportFailure(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddError(errors.New("connection reset by peer"))

	turn := NewTurn(provider, llm.Request{})
	events, err := turn.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	all := collectEvents(t, events)
	var errEvents []StreamEvent
	for _, event := range all {
		if event.Type == StreamError {
			errEvents = append(errEvents, event)
		}
	}
	if len(errEvents) != 1 {
		t.Fatalf("expected exactly 1 Error event, got %d", len(errEvents))
	}
	var toolErr *ToolError
	if !errors.As(errEvents[0].Err, &toolErr) || toolErr.Type != ErrTransport {
		t.Errorf("expected TRANSPORT error, got %v", errEvents[0].Err)
	}
}

func TestTurnIsNotRestartable(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTextResponse("once")

	turn := NewTurn(provider, llm.Request{})
	events, err := turn.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	collectEvents(t, events)

	if _, err := turn.Run(context.Background()); err == nil {
		t.Fatal("second Run must fail; turns are consumed once")
	}
}

func TestTurnSurfacesCompression(t *testing.T) {
	provider := llm.NewMockProvider("mock").AddTextResponse("hi")

	turn := NewTurn(provider, llm.Request{})
	turn.NoteCompression(40, 8)
	events, err := turn.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	all := collectEvents(t, events)

	if len(all) == 0 || all[0].Type != StreamChatCompressed {
		t.Fatalf("expected ChatCompressed as first event, got %+v", all)
	}
	if all[0].Compression.BeforeCount != 40 || all[0].Compression.AfterCount != 8 {
		t.Errorf("unexpected compression info %+v", all[0].Compression)
	}
}

func TestParseThought(t *testing.T) {
	tests := []struct {
		raw     string
		subject string
		desc    string
	}{
		{"**Planning** I will read the file", "Planning", "I will read the file"},
		{"no markers at all", "", "no markers at all"},
		{"**Only subject**", "Only subject", ""},
		{"prefix **Mid** suffix", "Mid", "prefix  suffix"},
	}
	for _, tt := range tests {
		got := parseThought(tt.raw)
		if got.Subject != tt.subject || got.Description != tt.desc {
			t.Errorf("parseThought(%q) = {%q, %q}, want {%q, %q}",
				tt.raw, got.Subject, got.Description, tt.subject, tt.desc)
		}
	}
}
