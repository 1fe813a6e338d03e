package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/monitor"
	"github.com/Iron-Ham/arbiter/internal/orchestrator"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decide contracts as their betting windows end",
	Long: `Monitor polls the contract store for closed contracts whose betting window
has ended and starts a deliberation for each one. Duplicate triggers for the
same contract are suppressed by the trigger guard, shared across replicas when
guard.backend is redis.

The committee is reloaded when the config file changes. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "poll once and exit")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Monitor.Enabled && !monitorOnce {
		return fmt.Errorf("monitor is disabled: set monitor.enabled or use --once")
	}

	a, err := newApp(ctx, appOptions{watch: !monitorOnce})
	if err != nil {
		return err
	}
	defer a.close()

	interval := a.cfg.Monitor.Interval()
	if monitorOnce {
		interval = 0
	}

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	m := monitor.New(a.stores.Contracts, a.trigger, a.orch,
		monitor.WithInterval(interval),
		monitor.WithLogger(a.logger),
		monitor.WithResultHandler(func(res *orchestrator.Result) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, resultLine(res))
		}),
	)
	return m.Run(ctx)
}

// resultLine summarizes a deliberation on one line.
func resultLine(res *orchestrator.Result) string {
	switch {
	case res.Success:
		return fmt.Sprintf("%s decided: winner %s (%s, tx %s)",
			res.ContractID, res.Decision.WinnerID, res.Decision.Methodology, res.Decision.TransactionID)
	case res.AlreadyDecided:
		return fmt.Sprintf("%s already decided", res.ContractID)
	default:
		return fmt.Sprintf("%s failed in %s: %s", res.ContractID, res.Phase, res.Reason)
	}
}
