package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

// EditTool replaces an exact string in a file. The old string must match
// exactly once unless replace_all is set.
type EditTool struct {
	workDir   string
	approvals *ProjectApprovals
}

func NewEditTool(workDir string, approvals *ProjectApprovals) *EditTool {
	return &EditTool{workDir: workDir, approvals: approvals}
}

// EditArgs are the arguments for edit.
type EditArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditToolName,
		Description: "Replace an exact string in a file. old_string must appear exactly once unless replace_all is true.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path, absolute or relative to the workspace root",
				},
				"old_string": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to replace",
				},
				"new_string": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring a unique match",
				},
			},
			"required":             []string{"path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *EditTool) ValidateParams(args json.RawMessage) error {
	var a EditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if a.OldString == a.NewString {
		return agent.NewToolError(agent.ErrInvalidParams, "old_string and new_string are identical")
	}
	_, err := resolvePath(t.workDir, a.Path)
	return err
}

func (t *EditTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	var a EditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if t.approvals.AllowsTool(EditToolName) {
		return nil, nil
	}
	old, updated, err := t.apply(a)
	if err != nil {
		// Surface the failure during validation/confirmation display; the
		// execute step reports the same error as the terminal result.
		return &agent.ConfirmationRequest{
			Summary: fmt.Sprintf("Edit %s (cannot preview: %v)", a.Path, err),
		}, nil
	}
	return &agent.ConfirmationRequest{
		Summary: fmt.Sprintf("Edit %s", a.Path),
		Diff:    unifiedDiff(a.Path, old, updated),
	}, nil
}

func (t *EditTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a EditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	path, err := resolvePath(t.workDir, a.Path)
	if err != nil {
		return agent.ToolOutput{}, err
	}
	old, updated, err := t.apply(a)
	if err != nil {
		return agent.ToolOutput{}, err
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "write failed: %v", err)
	}

	replacements := strings.Count(old, a.OldString)
	if !a.ReplaceAll {
		replacements = 1
	}
	return agent.ToolOutput{
		Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replacements, a.Path),
		Display: unifiedDiff(a.Path, old, updated),
	}, nil
}

// apply reads the file and computes the edited content without writing.
func (t *EditTool) apply(a EditArgs) (old, updated string, err error) {
	path, err := resolvePath(t.workDir, a.Path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", agent.NewToolErrorf(agent.ErrExecutionFailed, "file not found: %s", a.Path)
		}
		return "", "", agent.NewToolErrorf(agent.ErrExecutionFailed, "read failed: %v", err)
	}
	old = string(data)

	count := strings.Count(old, a.OldString)
	switch {
	case count == 0:
		return "", "", agent.NewToolErrorf(agent.ErrExecutionFailed, "old_string not found in %s", a.Path)
	case count > 1 && !a.ReplaceAll:
		return "", "", agent.NewToolErrorf(agent.ErrExecutionFailed,
			"old_string appears %d times in %s; provide more context or set replace_all", count, a.Path)
	}

	if a.ReplaceAll {
		updated = strings.ReplaceAll(old, a.OldString, a.NewString)
	} else {
		updated = strings.Replace(old, a.OldString, a.NewString, 1)
	}
	return old, updated, nil
}

// unifiedDiff renders a unified diff between two versions of a file.
func unifiedDiff(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}
	return string(diff.Diff(path, []byte(oldContent), path, []byte(newContent)))
}
