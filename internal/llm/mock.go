package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn scripts one provider response for MockProvider.
type MockTurn struct {
	Text      string
	Thoughts  []string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error
	Delay     time.Duration
}

// MockProvider is a scripted provider used in tests and --mock runs. Each
// call to Stream consumes the next configured turn and records the request.
type MockProvider struct {
	name  string
	caps  Capabilities
	turns []MockTurn

	mu       sync.Mutex
	turnIdx  int
	Requests []Request
}

// NewMockProvider creates a mock provider with tool-call support enabled.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		caps: Capabilities{ToolCalls: true},
	}
}

// WithCapabilities overrides the mock's capabilities.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

// AddTurn appends a scripted turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse appends a turn that streams the given text.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text, Usage: &Usage{InputTokens: 10, OutputTokens: len(text) / 4}})
}

// AddToolCall appends a turn that requests a single tool invocation.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, _ := json.Marshal(args)
	return p.AddTurn(MockTurn{
		ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}},
		Usage:     &Usage{InputTokens: 10, OutputTokens: 5},
	})
}

// AddError appends a turn that fails with err.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// Reset clears recorded requests and rewinds the turn index.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turnIdx = 0
	p.Requests = nil
}

// CurrentTurn returns the index of the next turn to be consumed.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnIdx
}

func (p *MockProvider) Name() string {
	return p.name
}

func (p *MockProvider) Capabilities() Capabilities {
	return p.caps
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	if p.turnIdx >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %q: no turn configured for request %d", p.name, p.turnIdx)
	}
	turn := p.turns[p.turnIdx]
	p.turnIdx++
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(turn.Delay):
			}
		}

		if turn.Err != nil {
			return turn.Err
		}

		for _, thought := range turn.Thoughts {
			events <- Event{Type: EventThought, Text: thought}
		}
		for _, chunk := range chunkText(turn.Text, 8) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- Event{Type: EventTextDelta, Text: chunk}:
			}
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if turn.Usage != nil {
			events <- Event{Type: EventUsage, Use: turn.Usage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// chunkText splits text into chunks of at most size bytes so mock streams
// resemble real token-by-token deltas.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	return append(chunks, text)
}
