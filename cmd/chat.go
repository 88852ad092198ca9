package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fernicar/gemini-cli/internal/agent"
	"github.com/fernicar/gemini-cli/internal/config"
	"github.com/fernicar/gemini-cli/internal/debuglog"
	"github.com/fernicar/gemini-cli/internal/llm"
	"github.com/fernicar/gemini-cli/internal/session"
	"github.com/fernicar/gemini-cli/internal/tools"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the model, letting it run local tools",
	Long: `Starts an exchange with the configured provider. With a message argument
the exchange runs once and exits; without one an interactive loop reads
prompts from stdin. Tool calls requested by the model are validated,
confirmed and executed locally, and their results fed back to the model.`,
	Args: cobra.ArbitraryArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	if flagYolo {
		cfg.Agent.Yolo = true
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	provider = llm.WrapWithRetry(provider, llm.DefaultRetryConfig())

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}

	if flagDebug {
		logger, err := debuglog.Open(filepath.Join(configDir, "debug"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: debug logging disabled: %v\n", err)
		} else {
			defer logger.Close()
			fmt.Fprintf(os.Stderr, "Debug log: %s\n", logger.Path())
			provider = debuglog.WrapProvider(provider, logger)
		}
	}

	approvals, err := tools.LoadProjectApprovals(configDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: project approvals unavailable: %v\n", err)
	}

	registry := agent.NewRegistry()
	tools.RegisterAll(registry, tools.Options{
		WorkDir:    cwd,
		Approvals:  approvals,
		MemoryPath: filepath.Join(configDir, "MEMORY.md"),
	})

	if cfg.Agent.Yolo {
		fmt.Fprintln(os.Stderr, "YOLO mode: all tool calls run without confirmation.")
	}

	scheduler := agent.NewScheduler(agent.SchedulerOptions{
		Registry: registry,
		Confirm:  newTerminalConfirm(approvals),
		Editor:   editorArgsEditor{},
		YoloMode: cfg.Agent.Yolo,
		OnUpdate: renderCallUpdate,
		OnOutput: func(callID, chunk string) {
			fmt.Fprint(os.Stderr, chunk)
		},
	})

	var store *session.Store
	var sessionID string
	ctx := cmd.Context()
	if cfg.Session.Enabled {
		store, err = session.Open(cfg.Session.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: session recording disabled: %v\n", err)
		} else {
			defer store.Close()
			sessionID, err = store.Create(ctx, cfg.Provider, cfg.ActiveModel(), cwd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: session recording disabled: %v\n", err)
				store = nil
			}
		}
	}

	runner := agent.NewRunner(agent.RunnerOptions{
		Provider:         provider,
		Registry:         registry,
		Scheduler:        scheduler,
		Model:            cfg.ActiveModel(),
		SystemPrompt:     systemPrompt(cfg, cwd),
		Debug:            flagDebug,
		MaxTurns:         cfg.Agent.MaxTurns,
		MaxContinuations: cfg.Agent.MaxContinuations,
		CompressAfter:    cfg.Agent.CompressAfter,
		OnEvent:          renderEvent,
		OnTurnComplete: func(summary agent.TurnSummary) {
			if store == nil {
				return
			}
			if summary.AssistantText != "" {
				store.AppendMessage(ctx, sessionID, "assistant", summary.AssistantText)
			}
			in, out := 0, 0
			if summary.Usage != nil {
				in, out = summary.Usage.InputTokens, summary.Usage.OutputTokens
			}
			store.RecordTurn(ctx, sessionID, summary.ToolCalls, in, out)
		},
	})

	exchange := func(ctx context.Context, history []llm.Message, input string) ([]llm.Message, error) {
		if store != nil {
			store.AppendMessage(ctx, sessionID, "user", input)
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		history, err := runner.Run(ctx, history, input)
		fmt.Println()
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			return history, nil
		}
		return history, err
	}

	if len(args) > 0 {
		_, err := exchange(ctx, nil, strings.Join(args, " "))
		return err
	}

	fmt.Printf("%s (%s) ready. Empty line or Ctrl-D exits. /memory <fact> saves a note.\n", cfg.Provider, cfg.ActiveModel())
	reader := bufio.NewReader(os.Stdin)
	var history []llm.Message
	for {
		fmt.Print("> ")
		line, readErr := reader.ReadString('\n')
		input := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(input, "/memory"):
			runMemoryCommand(ctx, scheduler, strings.TrimSpace(strings.TrimPrefix(input, "/memory")))
		case input != "":
			history, err = exchange(ctx, history, input)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
		if readErr != nil || input == "" {
			return nil
		}
	}
}

// runMemoryCommand saves a fact without a model round trip by synthesizing a
// client-initiated tool call straight into the scheduler.
func runMemoryCommand(ctx context.Context, scheduler *agent.Scheduler, fact string) {
	if fact == "" {
		fmt.Println("Usage: /memory <fact to remember>")
		return
	}
	calls, err := scheduler.Schedule(ctx, []agent.ToolCallRequest{tools.SaveMemoryRequest(fact)})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return
	}
	for _, call := range calls {
		if call.Response != nil {
			fmt.Println(call.Response.Content)
		}
	}
}

// buildProvider constructs the configured backend.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "gemini", "":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("no Gemini API key; set GEMINI_API_KEY or gemini.api_key in config")
		}
		return llm.NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model), nil
	case "anthropic":
		return llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "mock":
		return llm.NewMockProvider("mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func systemPrompt(cfg *config.Config, cwd string) string {
	base := fmt.Sprintf(`You are a coding agent running in a terminal. The working directory is %s.
Use the available tools to inspect and modify files, run shell commands and fetch web pages.
Prefer small, verifiable steps. When a task is done, summarize what changed.`, cwd)
	if cfg.Agent.SystemPrompt != "" {
		base += "\n\n" + cfg.Agent.SystemPrompt
	}
	return base
}

// renderEvent prints turn events: content to stdout, everything else to
// stderr so piped output stays clean.
func renderEvent(event agent.StreamEvent) {
	switch event.Type {
	case agent.StreamContent:
		fmt.Print(event.Text)
	case agent.StreamThought:
		if event.Thought != nil && event.Thought.Subject != "" {
			fmt.Fprintf(os.Stderr, "\n[thinking] %s\n", event.Thought.Subject)
		}
	case agent.StreamToolCallRequest:
		if event.Request != nil {
			fmt.Fprintf(os.Stderr, "\n[tool] %s requested\n", event.Request.Name)
		}
	case agent.StreamChatCompressed:
		if event.Compression != nil {
			fmt.Fprintf(os.Stderr, "[history compressed: %d -> %d messages]\n",
				event.Compression.BeforeCount, event.Compression.AfterCount)
		}
	case agent.StreamError:
		fmt.Fprintf(os.Stderr, "\n[error] %v\n", event.Err)
	}
}

// renderCallUpdate reports scheduler state transitions worth showing.
func renderCallUpdate(call *agent.ToolCall) {
	switch call.Status {
	case agent.StatusExecuting:
		fmt.Fprintf(os.Stderr, "[tool] %s running...\n", call.Request.Name)
	case agent.StatusSuccess:
		fmt.Fprintf(os.Stderr, "[tool] %s done (%dms)\n", call.Request.Name, call.DurationMs)
		if call.Response != nil && call.Response.Display != "" {
			fmt.Fprintln(os.Stderr, call.Response.Display)
		}
	case agent.StatusError:
		if call.Response != nil {
			fmt.Fprintf(os.Stderr, "[tool] %s failed: %s\n", call.Request.Name, call.Response.Content)
		}
	case agent.StatusCancelled:
		fmt.Fprintf(os.Stderr, "[tool] %s cancelled\n", call.Request.Name)
	}
}
