package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/store"
	"github.com/Iron-Ham/arbiter/internal/tui"
)

var historyOutput string

var historyCmd = &cobra.Command{
	Use:   "history <contract-id>",
	Short: "Replay the message log of a contract's deliberations",
	Long: `History prints every message the committee exchanged while deliberating
on a contract, in emission order: proposals, stance revisions or pairwise
comparisons, vote tallies, the consensus result and progress updates.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", outputText, "output format: text, json, yaml")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validOutput(historyOutput); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = stores.Close() }()

	messages, err := stores.Messages.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	handled, err := writeStructured(out, historyOutput, messages)
	if handled || err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Fprintf(out, "No messages recorded for %s\n", args[0])
		return nil
	}
	for _, msg := range messages {
		fmt.Fprintln(out, tui.RenderMessage(msg))
	}
	return nil
}
