package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fernicar/gemini-cli/internal/llm"
)

const defaultMaxTurns = 20

// continuePrompt is the synthetic directive used when the next-speaker
// heuristic decides the model should keep going without new user input.
const continuePrompt = "Please continue."

const nextSpeakerPrompt = `Analyze the assistant's last message and decide who should speak next.
Respond with only a JSON object: {"next_speaker": "user"} if the assistant finished its thought and is waiting for the user, or {"next_speaker": "model"} if the assistant stated an immediate next step it intends to take itself.`

// TurnSummary reports one completed turn to the caller, for session
// recording and usage display.
type TurnSummary struct {
	AssistantText string
	ToolCalls     int
	Usage         *llm.Usage
	Continuation  bool
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Provider  llm.Provider
	Registry  *Registry
	Scheduler *Scheduler

	Model        string
	SystemPrompt string
	Debug        bool

	// MaxTurns caps chained turns within one exchange (loop protection).
	MaxTurns int
	// MaxContinuations bounds autonomous "keep speaking" turns. A
	// continuation turn that produces no tool calls never triggers another.
	MaxContinuations int
	// CompressAfter compresses history once it exceeds this many messages.
	// Zero disables compression.
	CompressAfter int

	// OnEvent receives every turn event as it is produced.
	OnEvent func(event StreamEvent)
	// OnTurnComplete is called after each turn with its summary.
	OnTurnComplete func(summary TurnSummary)
}

// Runner drives a full exchange: it opens turns, hands accumulated tool
// calls to the scheduler, merges results back into the conversation, and
// decides whether the agent keeps speaking without new user input.
type Runner struct {
	opts RunnerOptions
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.MaxContinuations < 0 {
		opts.MaxContinuations = 0
	}
	return &Runner{opts: opts}
}

// Run processes one user input against the given history and returns the
// updated history. Tool results and continuation turns are appended as they
// happen, so a transport failure mid-exchange never loses completed results.
func (r *Runner) Run(ctx context.Context, history []llm.Message, userInput string) ([]llm.Message, error) {
	messages := history
	if r.opts.SystemPrompt != "" && !hasSystemMessage(messages) {
		messages = append([]llm.Message{llm.SystemText(r.opts.SystemPrompt)}, messages...)
	}
	if userInput != "" {
		messages = append(messages, llm.UserText(userInput))
	}

	continuations := 0
	lastWasContinuation := false

	for turnCount := 0; turnCount < r.opts.MaxTurns; turnCount++ {
		var compression *ChatCompressionInfo
		if r.opts.CompressAfter > 0 && len(messages) > r.opts.CompressAfter {
			messages, compression = r.compressHistory(ctx, messages)
		}

		turn := NewTurn(r.opts.Provider, llm.Request{
			Model:    r.opts.Model,
			Messages: messages,
			Tools:    r.opts.Registry.Specs(),
			Debug:    r.opts.Debug,
		})
		if compression != nil {
			turn.NoteCompression(compression.BeforeCount, compression.AfterCount)
		}

		events, err := turn.Run(ctx)
		if err != nil {
			return messages, err
		}

		var text strings.Builder
		var turnErr error
		cancelled := false
		for event := range events {
			if r.opts.OnEvent != nil {
				r.opts.OnEvent(event)
			}
			switch event.Type {
			case StreamContent:
				text.WriteString(event.Text)
			case StreamError:
				turnErr = event.Err
			case StreamUserCancelled:
				cancelled = true
			}
		}
		if cancelled {
			return messages, context.Canceled
		}
		if turnErr != nil {
			return messages, turnErr
		}

		pending := turn.PendingCalls()
		if msg, ok := assistantMessage(text.String(), pending); ok {
			messages = append(messages, msg)
		}
		if r.opts.OnTurnComplete != nil {
			r.opts.OnTurnComplete(TurnSummary{
				AssistantText: text.String(),
				ToolCalls:     len(pending),
				Usage:         turn.Usage(),
				Continuation:  lastWasContinuation,
			})
		}

		if len(pending) == 0 {
			if lastWasContinuation || continuations >= r.opts.MaxContinuations {
				return messages, nil
			}
			if !r.nextSpeakerIsModel(ctx, text.String()) {
				return messages, nil
			}
			messages = append(messages, llm.UserText(continuePrompt))
			continuations++
			lastWasContinuation = true
			continue
		}
		lastWasContinuation = false

		calls, err := r.opts.Scheduler.Schedule(ctx, pending)
		if err != nil {
			return messages, err
		}
		messages = append(messages, mergeResults(calls))
	}

	return messages, fmt.Errorf("exchange exceeded %d chained turns", r.opts.MaxTurns)
}

// mergeResults builds the single follow-up message carrying every terminal
// call's function response, in original request order. Errors go back as
// error-shaped responses and cancellations as a distinct cancellation
// marker, so the model sees what happened to each call.
func mergeResults(calls []*ToolCall) llm.Message {
	msg := llm.Message{Role: llm.RoleTool}
	for _, call := range calls {
		resp := call.Response
		if resp == nil {
			// Terminal calls always carry a response; guard anyway.
			resp = &ToolCallResponse{
				CallID:  call.Request.CallID,
				Name:    call.Request.Name,
				Content: formatToolError(NewToolError(ErrExecutionFailed, "missing result")),
				Err:     NewToolError(ErrExecutionFailed, "missing result"),
			}
		}
		msg.Parts = append(msg.Parts, llm.Part{
			Type: llm.PartToolResult,
			ToolResult: &llm.ToolResult{
				ID:        resp.CallID,
				Name:      resp.Name,
				Content:   resp.Content,
				IsError:   resp.Err != nil,
				Cancelled: resp.Cancelled,
			},
		})
	}
	return msg
}

// assistantMessage records what the model said this turn, including the tool
// calls it requested, so later turns see a faithful transcript.
func assistantMessage(text string, pending []ToolCallRequest) (llm.Message, bool) {
	msg := llm.Message{Role: llm.RoleAssistant}
	if text != "" {
		msg.Parts = append(msg.Parts, llm.Part{Type: llm.PartText, Text: text})
	}
	for _, req := range pending {
		msg.Parts = append(msg.Parts, llm.Part{
			Type: llm.PartToolCall,
			ToolCall: &llm.ToolCall{
				ID:        req.CallID,
				Name:      req.Name,
				Arguments: req.Args,
			},
		})
	}
	return msg, len(msg.Parts) > 0
}

// nextSpeakerIsModel asks the provider for a tiny JSON verdict on whether
// the model intended to keep going. Any failure defaults to the user
// speaking next.
func (r *Runner) nextSpeakerIsModel(ctx context.Context, lastText string) bool {
	if strings.TrimSpace(lastText) == "" {
		return false
	}

	stream, err := r.opts.Provider.Stream(ctx, llm.Request{
		Model: r.opts.Model,
		Messages: []llm.Message{
			llm.SystemText(nextSpeakerPrompt),
			llm.UserText(lastText),
		},
		MaxOutputTokens: 64,
	})
	if err != nil {
		return false
	}
	reply, err := collectStreamText(stream)
	if err != nil {
		return false
	}

	var verdict struct {
		NextSpeaker string `json:"next_speaker"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &verdict); err != nil {
		return false
	}
	return verdict.NextSpeaker == "model"
}

// compressHistory replaces older messages with a model-written summary,
// keeping system messages and a recent tail intact. On any failure the
// original history is returned unchanged.
func (r *Runner) compressHistory(ctx context.Context, messages []llm.Message) ([]llm.Message, *ChatCompressionInfo) {
	const keepTail = 4
	if len(messages) <= keepTail+1 {
		return messages, nil
	}

	var system []llm.Message
	var rest []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= keepTail {
		return messages, nil
	}
	head, tail := rest[:len(rest)-keepTail], rest[len(rest)-keepTail:]

	stream, err := r.opts.Provider.Stream(ctx, llm.Request{
		Model: r.opts.Model,
		Messages: []llm.Message{
			llm.SystemText("Summarize the following conversation concisely, preserving facts, decisions and file paths the assistant will need later."),
			llm.UserText(renderTranscript(head)),
		},
	})
	if err != nil {
		return messages, nil
	}
	summary, err := collectStreamText(stream)
	if err != nil || strings.TrimSpace(summary) == "" {
		return messages, nil
	}

	compressed := append([]llm.Message{}, system...)
	compressed = append(compressed, llm.UserText("Summary of the conversation so far:\n\n"+summary))
	compressed = append(compressed, tail...)
	return compressed, &ChatCompressionInfo{BeforeCount: len(messages), AfterCount: len(compressed)}
}

// renderTranscript flattens messages into plain text for summarization.
func renderTranscript(messages []llm.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			switch part.Type {
			case llm.PartText:
				fmt.Fprintf(&b, "%s: %s\n", msg.Role, part.Text)
			case llm.PartToolCall:
				if part.ToolCall != nil {
					fmt.Fprintf(&b, "%s: [called %s(%s)]\n", msg.Role, part.ToolCall.Name, string(part.ToolCall.Arguments))
				}
			case llm.PartToolResult:
				if part.ToolResult != nil {
					fmt.Fprintf(&b, "%s: [%s returned: %s]\n", msg.Role, part.ToolResult.Name, part.ToolResult.Content)
				}
			}
		}
	}
	return b.String()
}

// collectStreamText drains a stream and concatenates its text deltas.
func collectStreamText(stream llm.Stream) (string, error) {
	defer stream.Close()
	var b strings.Builder
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		if event.Type == llm.EventTextDelta {
			b.WriteString(event.Text)
		}
	}
}

// extractJSON strips markdown code fences and surrounding prose from a
// model reply that should contain a JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

func hasSystemMessage(messages []llm.Message) bool {
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			return true
		}
	}
	return false
}
