package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/arbiter/internal/agent"
	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/guard"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/orchestrator"
	"github.com/Iron-Ham/arbiter/internal/settlement"
	"github.com/Iron-Ham/arbiter/internal/store"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	stores   *store.Stores
	bus      *event.Bus
	registry *guard.Registry
	trigger  guard.TriggerGuard
	roster   *agent.Roster
	ledger   *settlement.Ledger
	orch     *orchestrator.Orchestrator

	cancel  context.CancelFunc
	closers []func() error
}

// appOptions select the optional parts of the wiring.
type appOptions struct {
	// watch reloads the committee when the config file changes.
	watch bool
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Logging.File, cfg.Logging.Level)
}

// newApp wires telemetry, stores, bus, guard, committee, ledger and orchestrator from
// the current configuration. Callers must call close.
func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.logger, err = newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a.closers = append(a.closers, a.logger.Close)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return tel.Shutdown(shutdownCtx)
	})

	a.stores, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, a.stores.Close)

	a.bus = event.NewBus(
		event.WithBufferSize(cfg.Events.BufferSize),
		event.WithLogger(a.logger),
	)
	messages := a.stores.Messages
	a.bus.SubscribeAll(func(msg event.Message) {
		if err := messages.Append(context.WithoutCancel(ctx), msg); err != nil {
			a.logger.WithContract(msg.ContractID).Warn("failed to persist message", "error", err.Error())
		}
	})

	var bg context.Context
	bg, a.cancel = context.WithCancel(ctx)
	go a.bus.RunCleanup(bg, cfg.Events.CleanupInterval(), cfg.Events.Retention())

	a.registry = guard.NewRegistry(
		guard.WithCooldown(cfg.Guard.Cooldown()),
		guard.WithLogger(a.logger),
	)
	a.trigger, err = a.newTrigger(ctx)
	if err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, err
	}
	a.roster, err = agent.NewRoster(cfg, creds, agent.WithRosterLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build committee: %w", err)
	}
	if opts.watch && viper.ConfigFileUsed() != "" {
		config.Watch(viper.GetViper(), func(next *config.Config) {
			if err := a.roster.Reload(next); err != nil {
				a.logger.Warn("committee reload rejected", "error", err.Error())
				return
			}
			a.logger.Info("committee reloaded", "members", len(a.roster.Members()))
		}, func(err error) {
			a.logger.Warn("config change ignored", "error", err.Error())
		})
	}

	a.ledger = settlement.NewLedger(settlement.WithLogger(a.logger))

	a.orch, err = orchestrator.New(orchestrator.ConfigFrom(cfg), orchestrator.Deps{
		Contracts:  a.stores.Contracts,
		Decisions:  a.stores.Decisions,
		Settlement: a.ledger,
		Guard:      a.registry,
		Bus:        a.bus,
		Committee:  a.roster,
	},
		orchestrator.WithLogger(a.logger),
		orchestrator.WithRateLimits(a.roster.RateLimits()),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) newTrigger(ctx context.Context) (guard.TriggerGuard, error) {
	g := a.cfg.Guard
	if g.Backend != "redis" {
		return guard.LocalTrigger{Registry: a.registry}, nil
	}
	rt := guard.NewRedisTrigger(g.RedisAddr, g.RedisPassword, g.RedisDB, g.RunTTL(), g.Cooldown())
	a.closers = append(a.closers, rt.Close)
	if err := rt.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis guard unreachable at %s: %w", g.RedisAddr, err)
	}
	return rt, nil
}

// close drains async deliberations and releases resources in reverse order.
func (a *app) close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.ledger != nil {
		a.logLedger()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// logLedger records the settlements made by this process before exit.
func (a *app) logLedger() {
	entries := a.ledger.Entries()
	if len(entries) == 0 {
		return
	}
	if err := a.ledger.Verify(); err != nil {
		a.logger.Error("settlement ledger failed verification", "entries", len(entries), "error", err.Error())
		return
	}
	a.logger.Info("settlement ledger verified", "entries", len(entries), "head", entries[len(entries)-1].Hash)
}
