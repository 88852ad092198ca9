package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

const maxReadBytes = 256 * 1024

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	workDir string
}

func NewReadFileTool(workDir string) *ReadFileTool {
	return &ReadFileTool{workDir: workDir}
}

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read a file from the workspace. Optionally read a line range with offset and limit.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path, absolute or relative to the workspace root",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "1-based line to start reading from",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of lines to return",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) ValidateParams(args json.RawMessage) error {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	_, err := resolvePath(t.workDir, a.Path)
	return err
}

func (t *ReadFileTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	return nil, nil // reads never need approval
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	path, err := resolvePath(t.workDir, a.Path)
	if err != nil {
		return agent.ToolOutput{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "file not found: %s", a.Path)
		}
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "read failed: %v", err)
	}
	if bytes.ContainsRune(data, 0) {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "file appears to be binary: %s", a.Path)
	}

	content := string(data)
	if a.Offset > 0 || a.Limit > 0 {
		content = sliceLines(content, a.Offset, a.Limit)
	}
	content = truncateOutput(content, maxReadBytes)

	return agent.ToolOutput{
		Content: content,
		Display: fmt.Sprintf("Read %s (%d bytes)", a.Path, len(data)),
	}, nil
}

// sliceLines returns limit lines starting at the 1-based offset line.
func sliceLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return ""
	}
	lines = lines[offset-1:]
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n")
}
