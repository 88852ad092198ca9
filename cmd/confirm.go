package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/tools"
)

// terminalConfirm prompts on the terminal for tool approval. Outside a TTY
// every request is denied; unattended runs must opt into --yolo explicitly.
type terminalConfirm struct {
	reader    *bufio.Reader
	approvals *tools.ProjectApprovals
}

func newTerminalConfirm(approvals *tools.ProjectApprovals) *terminalConfirm {
	return &terminalConfirm{
		reader:    bufio.NewReader(os.Stdin),
		approvals: approvals,
	}
}

func (c *terminalConfirm) Ask(ctx context.Context, req *agent.ConfirmationRequest) (agent.ConfirmOutcome, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Denied %s (no terminal for confirmation; use --yolo to skip prompts)\n", req.ToolName)
		return agent.Cancel, nil
	}

	fmt.Printf("\nTool: %s", req.ToolName)
	if req.Origin != "" {
		fmt.Printf(" (from %s)", req.Origin)
	}
	fmt.Println()
	if req.Summary != "" {
		fmt.Printf("  %s\n", req.Summary)
	}
	if req.Command != "" {
		fmt.Printf("  $ %s\n", req.Command)
	}
	if req.Diff != "" {
		fmt.Println(req.Diff)
	}

	for {
		fmt.Print("Allow? [y]es / [a]lways / [s]ave for project / [m]odify / [n]o: ")
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return agent.Cancel, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return agent.ProceedOnce, nil
		case "a", "always":
			return agent.ProceedAlways, nil
		case "s", "save":
			if c.approvals != nil {
				var err error
				if req.Command != "" {
					err = c.approvals.GrantCommandPattern(tools.CommandPattern(req.Command))
				} else {
					err = c.approvals.GrantTool(req.ToolName)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to save approval: %v\n", err)
				}
			}
			if req.Origin != "" {
				return agent.ProceedAlwaysServer, nil
			}
			return agent.ProceedAlways, nil
		case "m", "modify":
			return agent.ModifyThenProceed, nil
		case "n", "no", "":
			return agent.Cancel, nil
		}
	}
}

// editorArgsEditor opens $EDITOR on the proposed arguments and returns the
// edited JSON.
type editorArgsEditor struct{}

func (editorArgsEditor) Modify(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmp, err := os.CreateTemp("", "gemini-cli-args-*.json")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, args, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(args)
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, editor, tmp.Name())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("editor failed: %w", err)
	}

	edited, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, err
	}
	if !json.Valid(edited) {
		return nil, fmt.Errorf("edited arguments are not valid JSON")
	}
	return json.RawMessage(edited), nil
}
