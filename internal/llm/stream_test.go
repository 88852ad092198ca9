package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func drainStream(t *testing.T, s Stream) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		event, err := s.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func TestEventStreamDeliversAllEvents(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "hello"}
		events <- Event{Type: EventTextDelta, Text: " world"}
		events <- Event{Type: EventDone}
		return nil
	})

	events, err := drainStream(t, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Text != "hello" || events[1].Text != " world" {
		t.Errorf("unexpected text deltas: %q %q", events[0].Text, events[1].Text)
	}
	if events[2].Type != EventDone {
		t.Errorf("expected final EventDone, got %s", events[2].Type)
	}
}

func TestEventStreamSurfacesProducerErrorAfterEvents(t *testing.T) {
	wantErr := errors.New("backend exploded")
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "partial"}
		return wantErr
	})

	events, err := drainStream(t, s)
	if len(events) != 1 {
		t.Fatalf("expected 1 event before error, got %d", len(events))
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected producer error, got %v", err)
	}

	// Error is sticky across subsequent Recv calls.
	if _, err := s.Recv(); !errors.Is(err, wantErr) {
		t.Errorf("expected sticky error on second Recv, got %v", err)
	}
}

func TestEventStreamEOFIsSticky(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		return nil
	})

	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF on second Recv, got %v", err)
	}
}

func TestEventStreamCloseUnblocksProducer(t *testing.T) {
	produced := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		defer close(produced)
		for i := 0; i < 1000; i++ {
			select {
			case events <- Event{Type: EventTextDelta, Text: "x"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if _, err := s.Recv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not finish after Close")
	}
}

func TestMockProviderScriptedTurns(t *testing.T) {
	provider := NewMockProvider("test").
		AddTextResponse("first answer").
		AddToolCall("call-1", "read_file", map[string]any{"path": "a.txt"})

	stream, err := provider.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
	}
	if text != "first answer" {
		t.Errorf("expected reassembled text %q, got %q", "first answer", text)
	}

	stream, err = provider.Stream(context.Background(), Request{Messages: []Message{UserText("again")}})
	if err != nil {
		t.Fatalf("second stream failed: %v", err)
	}
	events, err = drainStream(t, stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var calls []*ToolCall
	for _, ev := range events {
		if ev.Type == EventToolCall {
			calls = append(calls, ev.Tool)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].Name != "read_file" {
		t.Errorf("unexpected tool call: %+v", calls[0])
	}

	if len(provider.Requests) != 2 {
		t.Errorf("expected 2 recorded requests, got %d", len(provider.Requests))
	}
}

func TestMockProviderExhaustedTurns(t *testing.T) {
	provider := NewMockProvider("test").AddTextResponse("only one")

	if _, err := provider.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("first stream failed: %v", err)
	}
	if _, err := provider.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for unscripted turn")
	}
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		text string
		size int
		want int
	}{
		{"", 8, 0},
		{"short", 8, 1},
		{"exactly8", 8, 1},
		{"more than eight bytes", 8, 3},
	}
	for _, tt := range tests {
		chunks := chunkText(tt.text, tt.size)
		if len(chunks) != tt.want {
			t.Errorf("chunkText(%q, %d): expected %d chunks, got %d", tt.text, tt.size, tt.want, len(chunks))
		}
		var joined string
		for _, c := range chunks {
			joined += c
		}
		if joined != tt.text {
			t.Errorf("chunkText(%q) lost content: %q", tt.text, joined)
		}
	}
}

// flakyProvider fails a fixed number of times before delegating to the inner
// provider.
type flakyProvider struct {
	inner    Provider
	failures int
	calls    int
}

func (f *flakyProvider) Name() string               { return "flaky" }
func (f *flakyProvider) Capabilities() Capabilities { return f.inner.Capabilities() }

func (f *flakyProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("503 service unavailable")
	}
	return f.inner.Stream(ctx, req)
}

func TestRetryProviderRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyProvider{
		inner:    NewMockProvider("mock").AddTextResponse("recovered"),
		failures: 2,
	}
	provider := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := provider.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("expected recovery, got error: %v", err)
	}

	var retries int
	var text string
	for _, ev := range events {
		switch ev.Type {
		case EventRetry:
			retries++
		case EventTextDelta:
			text += ev.Text
		}
	}
	if retries != 2 {
		t.Errorf("expected 2 retry events, got %d", retries)
	}
	if text != "recovered" {
		t.Errorf("expected text %q, got %q", "recovered", text)
	}
}

func TestRetryProviderGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{
		inner:    NewMockProvider("mock"),
		failures: 10,
	}
	provider := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := provider.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream construction failed: %v", err)
	}
	if _, err := drainStream(t, stream); err == nil {
		t.Fatal("expected terminal error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryProviderDoesNotRetryFatalErrors(t *testing.T) {
	provider := WrapWithRetry(
		NewMockProvider("mock").AddError(errors.New("invalid api key")),
		DefaultRetryConfig(),
	)

	stream, err := provider.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream construction failed: %v", err)
	}
	_, err = drainStream(t, stream)
	if err == nil {
		t.Fatal("expected error")
	}
	if isRetryable(err) {
		t.Errorf("error should not be retryable: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"429 too many requests", true},
		{"rate limit exceeded", true},
		{"502 bad gateway", true},
		{"overloaded_error", true},
		{"connection refused", true},
		{"invalid api key", false},
		{"400 bad request", false},
	}
	for _, tt := range tests {
		if got := isRetryable(errors.New(tt.err)); got != tt.want {
			t.Errorf("isRetryable(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
