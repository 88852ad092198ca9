package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

// WriteFileTool creates or overwrites a file in the workspace.
type WriteFileTool struct {
	workDir   string
	approvals *ProjectApprovals
}

func NewWriteFileTool(workDir string, approvals *ProjectApprovals) *WriteFileTool {
	return &WriteFileTool{workDir: workDir, approvals: approvals}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Write content to a file, creating it (and parent directories) if needed, overwriting if it exists.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path, absolute or relative to the workspace root",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full content to write",
				},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) ValidateParams(args json.RawMessage) error {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	_, err := resolvePath(t.workDir, a.Path)
	return err
}

func (t *WriteFileTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	path, err := resolvePath(t.workDir, a.Path)
	if err != nil {
		return nil, err
	}
	if t.approvals.AllowsTool(WriteFileToolName) {
		return nil, nil
	}

	old := ""
	if data, err := os.ReadFile(path); err == nil {
		old = string(data)
	}
	return &agent.ConfirmationRequest{
		Summary: fmt.Sprintf("Write %d bytes to %s", len(a.Content), a.Path),
		Diff:    unifiedDiff(a.Path, old, a.Content),
	}, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	path, err := resolvePath(t.workDir, a.Path)
	if err != nil {
		return agent.ToolOutput{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "write failed: %v", err)
	}

	return agent.ToolOutput{
		Content: fmt.Sprintf("Wrote %d bytes to %s", len(a.Content), a.Path),
		Display: fmt.Sprintf("Wrote %s", a.Path),
	}, nil
}
