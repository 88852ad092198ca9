// Package debuglog records every provider request and stream event to a
// JSONL file, for inspecting what was actually sent and received.
package debuglog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fernicar/gemini-cli/internal/llm"
)

// Entry is one logged record.
type Entry struct {
	Timestamp time.Time       `json:"ts"`
	Type      string          `json:"type"` // "request", "event" or "error"
	Model     string          `json:"model,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Logger appends entries to a JSONL file.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates a timestamped log file under dir.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("debug-%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{f: f}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.f.Name()
}

func (l *Logger) Close() error {
	return l.f.Close()
}

func (l *Logger) write(entry Entry) {
	entry.Timestamp = time.Now()
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Write(append(line, '\n'))
}

// LogRequest records an outgoing request.
func (l *Logger) LogRequest(req llm.Request) {
	data, err := json.Marshal(requestRecord(req))
	if err != nil {
		return
	}
	l.write(Entry{Type: "request", Model: req.Model, Data: data})
}

// LogEvent records one stream event.
func (l *Logger) LogEvent(event llm.Event) {
	data, err := json.Marshal(eventRecord(event))
	if err != nil {
		return
	}
	l.write(Entry{Type: "event", Data: data})
}

// LogError records a stream failure.
func (l *Logger) LogError(err error) {
	l.write(Entry{Type: "error", Error: err.Error()})
}

func requestRecord(req llm.Request) map[string]any {
	var tools []string
	for _, spec := range req.Tools {
		tools = append(tools, spec.Name)
	}
	var messages []map[string]any
	for _, msg := range req.Messages {
		m := map[string]any{"role": string(msg.Role)}
		var parts []map[string]any
		for _, part := range msg.Parts {
			p := map[string]any{"type": string(part.Type)}
			if part.Text != "" {
				p["text"] = part.Text
			}
			if part.ToolCall != nil {
				p["tool_call"] = map[string]any{
					"id":   part.ToolCall.ID,
					"name": part.ToolCall.Name,
					"args": json.RawMessage(part.ToolCall.Arguments),
				}
			}
			if part.ToolResult != nil {
				p["tool_result"] = map[string]any{
					"id":       part.ToolResult.ID,
					"name":     part.ToolResult.Name,
					"content":  part.ToolResult.Content,
					"is_error": part.ToolResult.IsError,
				}
			}
			parts = append(parts, p)
		}
		m["parts"] = parts
		messages = append(messages, m)
	}
	return map[string]any{
		"messages":          messages,
		"tools":             tools,
		"max_output_tokens": req.MaxOutputTokens,
	}
}

func eventRecord(event llm.Event) map[string]any {
	rec := map[string]any{"event_type": string(event.Type)}
	if event.Text != "" {
		rec["text"] = event.Text
	}
	if event.Tool != nil {
		rec["tool_call"] = map[string]any{
			"id":   event.Tool.ID,
			"name": event.Tool.Name,
			"args": json.RawMessage(event.Tool.Arguments),
		}
	}
	if event.Use != nil {
		rec["usage"] = map[string]int{
			"input":  event.Use.InputTokens,
			"output": event.Use.OutputTokens,
		}
	}
	return rec
}

// WrapProvider returns a provider that logs every request and event passing
// through it.
func WrapProvider(p llm.Provider, logger *Logger) llm.Provider {
	return &loggingProvider{inner: p, logger: logger}
}

type loggingProvider struct {
	inner  llm.Provider
	logger *Logger
}

func (p *loggingProvider) Name() string {
	return p.inner.Name()
}

func (p *loggingProvider) Capabilities() llm.Capabilities {
	return p.inner.Capabilities()
}

func (p *loggingProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.logger.LogRequest(req)
	stream, err := p.inner.Stream(ctx, req)
	if err != nil {
		p.logger.LogError(err)
		return nil, err
	}
	return &loggingStream{inner: stream, logger: p.logger}, nil
}

type loggingStream struct {
	inner  llm.Stream
	logger *Logger
}

func (s *loggingStream) Recv() (llm.Event, error) {
	event, err := s.inner.Recv()
	if err == nil {
		s.logger.LogEvent(event)
	} else if err != io.EOF {
		s.logger.LogError(err)
	}
	return event, err
}

func (s *loggingStream) Close() error {
	return s.inner.Close()
}
