package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/llm"
)

const (
	defaultShellTimeout = 2 * time.Minute
	maxShellOutput      = 64 * 1024
)

// ShellTool runs a shell command in the workspace, streaming output as it is
// produced. Commands always require confirmation unless a durable project
// grant covers them.
type ShellTool struct {
	workDir   string
	approvals *ProjectApprovals
}

func NewShellTool(workDir string, approvals *ProjectApprovals) *ShellTool {
	return &ShellTool{workDir: workDir, approvals: approvals}
}

// ShellArgs are the arguments for shell.
type ShellArgs struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

func (t *ShellTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: "Run a shell command in the workspace and return its combined output.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The command to run with sh -c",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "One-line description of what the command does",
				},
				"timeout_secs": map[string]interface{}{
					"type":        "integer",
					"description": "Timeout in seconds (default 120)",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) ValidateParams(args json.RawMessage) error {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if strings.TrimSpace(a.Command) == "" {
		return agent.NewToolError(agent.ErrInvalidParams, "command is required")
	}
	return nil
}

func (t *ShellTool) ShouldConfirm(ctx context.Context, args json.RawMessage) (*agent.ConfirmationRequest, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}
	if t.approvals.AllowsTool(ShellToolName) || t.approvals.AllowsCommand(a.Command) {
		return nil, nil
	}
	return &agent.ConfirmationRequest{
		Summary: a.Description,
		Command: a.Command,
	}, nil
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage, onOutput func(string)) (agent.ToolOutput, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agent.ToolOutput{}, agent.NewToolError(agent.ErrInvalidParams, err.Error())
	}

	timeout := defaultShellTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = t.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "pipe failed: %v", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "failed to start command: %v", err)
	}

	var mu sync.Mutex
	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		mu.Lock()
		output.WriteString(line)
		output.WriteString("\n")
		mu.Unlock()
		if onOutput != nil {
			onOutput(line)
		}
	}

	scanErr := scanner.Err()
	err = cmd.Wait()
	combined := truncateOutput(output.String(), maxShellOutput)

	if ctx.Err() == context.DeadlineExceeded {
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed,
			"command timed out after %s\n%s", timeout, combined)
	}
	if ctx.Err() == context.Canceled {
		return agent.ToolOutput{}, context.Canceled
	}
	if scanErr != nil {
		// The read loop stopped early (e.g. a line over the buffer limit);
		// whatever was captured is incomplete.
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed,
			"output read failed: %v\n%s", scanErr, combined)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed,
				"command exited with status %d\n%s", exitErr.ExitCode(), combined)
		}
		return agent.ToolOutput{}, agent.NewToolErrorf(agent.ErrExecutionFailed, "command failed: %v", err)
	}

	if combined == "" {
		combined = "(no output)"
	}
	return agent.ToolOutput{
		Content: combined,
		Display: fmt.Sprintf("$ %s", a.Command),
	}, nil
}
