package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fernicar/gemini-cli/internal/config"
	"github.com/fernicar/gemini-cli/internal/session"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Session.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.Recent(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tPROVIDER\tMODEL\tTURNS\tTOOLS\tTOKENS\tCWD")
		for _, s := range sessions {
			fmt.Fprintf(w, "%.8s\t%s\t%s\t%s\t%d\t%d\t%d/%d\t%s\n",
				s.ID, s.UpdatedAt.Format("2006-01-02 15:04"),
				s.Provider, s.Model, s.Turns, s.ToolCalls,
				s.InputTokens, s.OutputTokens, s.Cwd)
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
