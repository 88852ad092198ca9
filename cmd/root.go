// Package cmd implements the gemini-cli command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagProvider string
	flagModel    string
	flagYolo     bool
	flagDebug    bool
)

var rootCmd = &cobra.Command{
	Use:   "gemini-cli",
	Short: "Terminal agent that lets a generative-AI backend run local tools",
	Long: `gemini-cli drives a conversation with a generative-AI backend and executes
the tools it requests (file edits, shell commands, web fetches) on the local
machine, gated behind confirmation prompts.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Backend provider (gemini, anthropic, mock)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model override for the active provider")
	rootCmd.PersistentFlags().BoolVar(&flagYolo, "yolo", false, "Skip all tool confirmation prompts")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Print request debugging to stderr")
}
