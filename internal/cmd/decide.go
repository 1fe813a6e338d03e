package cmd

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/orchestrator"
	"github.com/Iron-Ham/arbiter/internal/settlement"
	"github.com/Iron-Ham/arbiter/internal/tui"
)

var (
	decideOutput string
	decideFollow bool
)

var decideCmd = &cobra.Command{
	Use:   "decide <contract-id>",
	Short: "Run a committee deliberation for a contract",
	Long: `Decide runs the full deliberation pipeline for one contract: the committee
proposes a winner, discusses until it converges, and the verdict is declared to
the settlement ledger and stored.

The contract must be BETTING_CLOSED with its betting window elapsed. Deciding
an already decided contract is a no-op that prints the existing decision.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVarP(&decideOutput, "output", "o", outputText, "output format: text, json, yaml")
	decideCmd.Flags().BoolVarP(&decideFollow, "follow", "f", false, "show the deliberation live in a terminal view")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	if err := validOutput(decideOutput); err != nil {
		return err
	}
	contractID := args[0]

	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	var res *orchestrator.Result
	if decideFollow {
		res, err = followDecide(cmd, a, contractID)
		if err != nil {
			return err
		}
	} else {
		res = a.orch.Decide(cmd.Context(), contractID)
	}
	if err := writeResult(cmd.OutOrStdout(), decideOutput, res); err != nil {
		return err
	}
	if decideOutput == outputText && res.Success {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ledgerReceipt(a.ledger, contractID))
	}
	return err
}

// ledgerReceipt describes the ledger entry that settled contractID and
// whether the chain still verifies.
func ledgerReceipt(l *settlement.Ledger, contractID string) string {
	entry, ok := l.Lookup(contractID)
	if !ok {
		return fmt.Sprintf("ledger: no entry for %s", contractID)
	}
	status := "verified"
	if err := l.Verify(); err != nil {
		status = "VERIFY FAILED: " + err.Error()
	}
	return fmt.Sprintf("ledger: entry %d, hash %s (%s)", entry.Seq, entry.Hash, status)
}

// followDecide starts the deliberation in the background and shows its
// message stream until it completes or the user detaches.
func followDecide(cmd *cobra.Command, a *app, contractID string) (*orchestrator.Result, error) {
	history, sub := a.bus.SubscribeWithHistory(contractID)
	defer sub.Close()

	id := a.orch.DecideAsync(cmd.Context(), contractID)

	p := tea.NewProgram(
		tui.New(contractID, history, sub.C()),
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("terminal view failed: %w", err)
	}

	a.orch.Wait()
	res, found := a.orch.AsyncResult(id)
	if !found || res == nil {
		return nil, fmt.Errorf("deliberation %s finished without a result", id)
	}
	return res, nil
}

// writeResult prints res and turns a failed deliberation into an error so
// the process exits non-zero.
func writeResult(w io.Writer, format string, res *orchestrator.Result) error {
	handled, err := writeStructured(w, format, res)
	if err != nil {
		return err
	}
	if !handled {
		if _, err := fmt.Fprintln(w, tui.RenderResult(res)); err != nil {
			return err
		}
	}
	if !res.Success && !res.AlreadyDecided {
		if res.Err != nil {
			return fmt.Errorf("deliberation failed in %s: %w", res.Phase, res.Err)
		}
		return fmt.Errorf("deliberation failed in %s: %s", res.Phase, res.Reason)
	}
	return nil
}
