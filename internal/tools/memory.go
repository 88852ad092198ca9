package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

// SaveMemoryTool appends a fact to the persistent memory file. It is also
// invocable without a model round trip: a /memory command synthesizes a
// client-initiated request through SaveMemoryRequest.
type SaveMemoryTool struct {
	path string
}

func NewSaveMemoryTool(path string) *SaveMemoryTool {
	return &SaveMemoryTool{path: path}
}

// SaveMemoryArgs are the arguments for save_memory.
type SaveMemoryArgs struct {
	Fact string `json:"fact"`
}

// SaveMemoryRequest synthesizes a client-initiated scheduler request, the
// path used when the user asks to remember something directly.
func SaveMemoryRequest(fact string) agent.ToolCallRequest {
	args, _ := json.Marshal(SaveMemoryArgs{Fact: fact})
	return agent.ToolCallRequest{
		CallID:          fmt.Sprintf("%s-%s", SaveMemoryToolName, uuid.NewString()),
		Name:            SaveMemoryToolName,
		Args:            args,
		ClientInitiated: true,
	}
}

func (t *SaveMemoryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SaveMemoryToolName,
		Description: "Save a fact about the user or project to persistent memory for future sessions.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"fact": map[string]interface{}{
					"type":        "string",
					"description": "The fact to remember, phrased as a standalone statement",
				},
			},
			"required":             []string{"fact"},
			"additionalProperties": false,
		},
	}
}

func (t *SaveMemoryTool) ValidateParams(args json.RawMessage) error {
	var a SaveMemoryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if a.Fact == "" {
		return agent.NewToolError(agent.ErrInvalidParams, "fact is required")
	}
	return nil
}

func (t *SaveMemoryTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	return nil, nil
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a SaveMemoryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "mkdir failed: %v", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "open failed: %v", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("- %s (%s)\n", a.Fact, time.Now().Format("2006-01-02"))
	if _, err := f.WriteString(entry); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "write failed: %v", err)
	}

	return agent.ToolOutput{
		Content: fmt.Sprintf("Saved: %s", a.Fact),
		Display: "Memory updated",
	}, nil
}
