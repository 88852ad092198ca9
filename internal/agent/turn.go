package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fernicar/gemini-cli/internal/llm"
)

// StreamEventType tags the turn event union.
type StreamEventType string

const (
	StreamContent         StreamEventType = "content"
	StreamThought         StreamEventType = "thought"
	StreamToolCallRequest StreamEventType = "tool_call_request"
	StreamUserCancelled   StreamEventType = "user_cancelled"
	StreamError           StreamEventType = "error"
	StreamChatCompressed  StreamEventType = "chat_compressed"
	StreamUsage           StreamEventType = "usage_metadata"
)

// Thought is a model reasoning annotation, split into a bolded subject and
// the remaining description.
type Thought struct {
	Subject     string
	Description string
}

// ChatCompressionInfo reports a history compression that happened before the
// turn opened.
type ChatCompressionInfo struct {
	BeforeCount int
	AfterCount  int
}

// StreamEvent is one element of a turn's ordered event sequence.
type StreamEvent struct {
	Type        StreamEventType
	Text        string
	Thought     *Thought
	Request     *ToolCallRequest
	Err         error
	Compression *ChatCompressionInfo
	Usage       *llm.Usage
}

// Turn drives one exchange with the provider and converts its fragments
// into a lazy, finite StreamEvent sequence. A Turn is consumed once; a new
// exchange needs a new Turn.
//
// Exactly one of StreamUserCancelled or StreamError terminates an
// interrupted sequence; after either, no further fragments are consumed.
type Turn struct {
	provider    llm.Provider
	req         llm.Request
	compression *ChatCompressionInfo

	mu      sync.Mutex
	started bool
	pending []ToolCallRequest
	usage   *llm.Usage
	seenIDs map[string]bool
}

func NewTurn(provider llm.Provider, req llm.Request) *Turn {
	return &Turn{
		provider: provider,
		req:      req,
		seenIDs:  make(map[string]bool),
	}
}

// NoteCompression records a pre-turn history compression so the event
// sequence can surface it before any content.
func (t *Turn) NoteCompression(before, after int) {
	t.compression = &ChatCompressionInfo{BeforeCount: before, AfterCount: after}
}

// Run opens the provider stream and returns the event sequence. The channel
// closes when the turn completes, errors, or is cancelled.
func (t *Turn) Run(ctx context.Context) (<-chan StreamEvent, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("turn already consumed; open a new turn to retry")
	}
	t.started = true
	t.mu.Unlock()

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)

		if t.compression != nil {
			out <- StreamEvent{Type: StreamChatCompressed, Compression: t.compression}
		}

		stream, err := t.provider.Stream(ctx, t.req)
		if err != nil {
			out <- t.terminalEvent(ctx, err)
			return
		}
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				out <- StreamEvent{Type: StreamUserCancelled}
				return
			default:
			}

			event, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				out <- t.terminalEvent(ctx, err)
				return
			}

			switch event.Type {
			case llm.EventTextDelta:
				if event.Text != "" {
					out <- StreamEvent{Type: StreamContent, Text: event.Text}
				}
			case llm.EventThought:
				out <- StreamEvent{Type: StreamThought, Thought: parseThought(event.Text)}
			case llm.EventToolCall:
				if event.Tool == nil {
					continue
				}
				request := t.recordToolCall(*event.Tool)
				out <- StreamEvent{Type: StreamToolCallRequest, Request: &request}
			case llm.EventUsage:
				t.mu.Lock()
				t.usage = event.Use
				t.mu.Unlock()
				out <- StreamEvent{Type: StreamUsage, Usage: event.Use}
			case llm.EventError:
				out <- t.terminalEvent(ctx, event.Err)
				return
			}
		}
	}()
	return out, nil
}

// PendingCalls returns the tool-call requests accumulated during the turn,
// in the order the model emitted them. Valid after the event channel closes.
func (t *Turn) PendingCalls() []ToolCallRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Usage returns the usage metadata seen during the turn, if any.
func (t *Turn) Usage() *llm.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// recordToolCall fills in a missing or duplicate call id and appends the
// request to the pending list.
func (t *Turn) recordToolCall(call llm.ToolCall) ToolCallRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := call.ID
	if id == "" || t.seenIDs[id] {
		id = fmt.Sprintf("%s-%s", call.Name, uuid.NewString())
	}
	t.seenIDs[id] = true

	request := ToolCallRequest{
		CallID: id,
		Name:   call.Name,
		Args:   call.Arguments,
	}
	t.pending = append(t.pending, request)
	return request
}

// terminalEvent maps an interrupting failure to exactly one terminal event:
// cancellation when the context was cancelled, a transport error otherwise.
func (t *Turn) terminalEvent(ctx context.Context, err error) StreamEvent {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return StreamEvent{Type: StreamUserCancelled}
	}
	return StreamEvent{Type: StreamError, Err: NewToolErrorf(ErrTransport, "stream failed: %v", err)}
}

// parseThought splits a raw thought fragment into subject and description.
// Models emit thoughts as "**Subject** rest of the thought".
func parseThought(text string) *Thought {
	start := strings.Index(text, "**")
	if start >= 0 {
		end := strings.Index(text[start+2:], "**")
		if end >= 0 {
			subject := strings.TrimSpace(text[start+2 : start+2+end])
			description := strings.TrimSpace(text[:start] + text[start+2+end+2:])
			return &Thought{Subject: subject, Description: description}
		}
	}
	return &Thought{Description: strings.TrimSpace(text)}
}
