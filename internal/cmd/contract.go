package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/monitor"
	"github.com/Iron-Ham/arbiter/internal/store"
)

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Manage contracts in the configured store",
}

var (
	addID     string
	addPartyA string
	addPartyB string
	addEndsIn time.Duration
	addEndsAt string
	addStatus string
)

var contractAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a contract",
	Long: `Create a contract between two parties. Parties are given as id:name.

Examples:
  arbiter contract add --party-a alice:Alice --party-b bob:Bob --ends-in 1h
  arbiter contract add --id c-1 --party-a a:Alice --party-b b:Bob --ends-at 2026-03-01T12:00:00Z --status BETTING_CLOSED`,
	Args: cobra.NoArgs,
	RunE: runContractAdd,
}

var showOutput string

var contractShowCmd = &cobra.Command{
	Use:   "show <contract-id>",
	Short: "Show a contract and its decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runContractShow,
}

var endOutput string

var contractEndCmd = &cobra.Command{
	Use:   "end <contract-id>",
	Short: "Close betting now and decide the contract",
	Long: `End closes betting on an open contract immediately and triggers its
deliberation through the same guard the monitor uses. If a monitor already
started a deliberation for the contract, end reports a conflict and leaves the
decision to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runContractEnd,
}

func init() {
	contractAddCmd.Flags().StringVar(&addID, "id", "", "contract id (default: generated)")
	contractAddCmd.Flags().StringVar(&addPartyA, "party-a", "", "first party as id:name (required)")
	contractAddCmd.Flags().StringVar(&addPartyB, "party-b", "", "second party as id:name (required)")
	contractAddCmd.Flags().DurationVar(&addEndsIn, "ends-in", 0, "betting window length from now")
	contractAddCmd.Flags().StringVar(&addEndsAt, "ends-at", "", "betting end time (RFC 3339)")
	contractAddCmd.Flags().StringVar(&addStatus, "status", string(contract.StatusBettingOpen), "initial status")
	_ = contractAddCmd.MarkFlagRequired("party-a")
	_ = contractAddCmd.MarkFlagRequired("party-b")
	contractAddCmd.MarkFlagsMutuallyExclusive("ends-in", "ends-at")

	contractShowCmd.Flags().StringVarP(&showOutput, "output", "o", outputText, "output format: text, json, yaml")
	contractEndCmd.Flags().StringVarP(&endOutput, "output", "o", outputText, "output format: text, json, yaml")

	contractCmd.AddCommand(contractAddCmd, contractShowCmd, contractEndCmd)
	rootCmd.AddCommand(contractCmd)
}

// parseParty splits "id:name"; a bare id doubles as the name.
func parseParty(s string) (contract.Party, error) {
	id, name, found := strings.Cut(s, ":")
	id = strings.TrimSpace(id)
	if id == "" {
		return contract.Party{}, fmt.Errorf("invalid party %q: want id:name", s)
	}
	name = strings.TrimSpace(name)
	if !found || name == "" {
		name = id
	}
	return contract.Party{ID: id, Name: name}, nil
}

func buildContract(now time.Time) (*contract.Contract, error) {
	a, err := parseParty(addPartyA)
	if err != nil {
		return nil, err
	}
	b, err := parseParty(addPartyB)
	if err != nil {
		return nil, err
	}

	end := now.Add(addEndsIn)
	if addEndsAt != "" {
		end, err = time.Parse(time.RFC3339, addEndsAt)
		if err != nil {
			return nil, fmt.Errorf("invalid --ends-at: %w", err)
		}
	}

	id := addID
	if id == "" {
		id = uuid.NewString()
	}
	c := &contract.Contract{
		ID:             id,
		Status:         contract.Status(strings.ToUpper(addStatus)),
		BettingEndTime: end.UTC(),
		PartyA:         a,
		PartyB:         b,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func runContractAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := buildContract(time.Now().UTC())
	if err != nil {
		return err
	}

	stores, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = stores.Close() }()

	if err := stores.Contracts.Save(cmd.Context(), c); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created contract %s (%s vs %s, %s, betting ends %s)\n",
		c.ID, c.PartyA.Name, c.PartyB.Name, c.Status, c.BettingEndTime.Format(time.RFC3339))
	if cfg.Store.Driver == "" || cfg.Store.Driver == store.DriverMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: store.driver is memory; the contract is discarded when this command exits")
	}
	return nil
}

// contractView is what contract show prints.
type contractView struct {
	Contract *contract.Contract `json:"contract"`
	Decision *store.Decision    `json:"decision,omitempty"`
}

func runContractShow(cmd *cobra.Command, args []string) error {
	if err := validOutput(showOutput); err != nil {
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

	c, err := stores.Contracts.FindByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	d, err := stores.Decisions.FindByContractID(cmd.Context(), c.ID)
	if err != nil {
		return err
	}

	view := contractView{Contract: c, Decision: d}
	handled, err := writeStructured(cmd.OutOrStdout(), showOutput, view)
	if handled || err != nil {
		return err
	}
	printContract(cmd.OutOrStdout(), view)
	return nil
}

func printContract(w io.Writer, v contractView) {
	c := v.Contract
	fmt.Fprintf(w, "Contract:    %s\n", c.ID)
	fmt.Fprintf(w, "Status:      %s\n", c.Status)
	fmt.Fprintf(w, "Party A:     %s (%s)\n", c.PartyA.Name, c.PartyA.ID)
	fmt.Fprintf(w, "Party B:     %s (%s)\n", c.PartyB.Name, c.PartyB.ID)
	fmt.Fprintf(w, "Betting end: %s\n", c.BettingEndTime.Format(time.RFC3339))
	if v.Decision == nil {
		fmt.Fprintln(w, "Decision:    none")
		return
	}
	d := v.Decision
	fmt.Fprintf(w, "Winner:      %s\n", d.WinnerID)
	fmt.Fprintf(w, "Methodology: %s\n", d.Methodology)
	fmt.Fprintf(w, "Confidence:  %.2f\n", d.Confidence)
	fmt.Fprintf(w, "Transaction: %s\n", d.TransactionID)
	fmt.Fprintf(w, "History:     %s (%d messages)\n", d.HistoryRef, d.MessageCount)
}

func runContractEnd(cmd *cobra.Command, args []string) error {
	if err := validOutput(endOutput); err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	m := monitor.New(a.stores.Contracts, a.trigger, a.orch, monitor.WithLogger(a.logger))
	res, err := m.MarkEnded(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), endOutput, res)
}
