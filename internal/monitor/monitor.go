// Package monitor starts deliberations for contracts whose betting window
// has ended. Two triggers share the non-blocking guard so at most one of
// them starts work for a contract: the periodic poll in Run and the manual
// MarkEnded.
package monitor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/guard"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/orchestrator"
	"github.com/Iron-Ham/arbiter/internal/store"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Decider runs one deliberation. *orchestrator.Orchestrator implements it.
type Decider interface {
	Decide(ctx context.Context, contractID string) *orchestrator.Result
}

// Monitor polls for contracts ready for decision.
type Monitor struct {
	contracts store.ContractStore
	trigger   guard.TriggerGuard
	decider   Decider

	interval time.Duration
	parallel int
	onResult func(*orchestrator.Result)
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval. Zero or negative disables the
// periodic poll; Run then only polls once.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithParallel bounds how many contracts one poll decides concurrently.
func WithParallel(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.parallel = n
		}
	}
}

// WithResultHandler is called with every finished deliberation, possibly
// from several goroutines at once.
func WithResultHandler(fn func(*orchestrator.Result)) Option {
	return func(m *Monitor) { m.onResult = fn }
}

// WithLogger sets the monitor logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = logging.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor.
func New(contracts store.ContractStore, trigger guard.TriggerGuard, decider Decider, opts ...Option) *Monitor {
	m := &Monitor{
		contracts: contracts,
		trigger:   trigger,
		decider:   decider,
		interval:  DefaultInterval,
		parallel:  4,
		logger:    logging.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "interval", m.interval.String())
	defer m.logger.Info("monitor stopped")

	if _, err := m.Poll(ctx); err != nil {
		m.logger.Error("poll failed", "error", err.Error())
	}
	if m.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Poll(ctx); err != nil {
				m.logger.Error("poll failed", "error", err.Error())
			}
		}
	}
}

// Poll starts a deliberation for every ready contract the guard lets
// through and waits for them. It returns how many were started.
func (m *Monitor) Poll(ctx context.Context) (int, error) {
	ready, err := m.contracts.FindReadyForDecision(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if len(ready) == 0 {
		return 0, nil
	}
	m.logger.Debug("contracts ready for decision", "count", len(ready))

	started := make([]bool, len(ready))
	var g errgroup.Group
	g.SetLimit(m.parallel)
	for i, c := range ready {
		g.Go(func() error {
			ok, err := m.run(ctx, c.ID)
			if err != nil {
				m.logger.WithContract(c.ID).Warn("trigger guard failed", "error", err.Error())
				return nil
			}
			started[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range started {
		if ok {
			n++
		}
	}
	return n, nil
}

// MarkEnded closes betting on contractID now and triggers its deliberation
// through the same guard as the poll. When another trigger already holds
// the contract it returns a ConcurrencyConflict error; the contract stays
// closed and that trigger decides it.
func (m *Monitor) MarkEnded(ctx context.Context, contractID string) (*orchestrator.Result, error) {
	if err := m.closeBetting(ctx, contractID); err != nil {
		return nil, err
	}

	var res *orchestrator.Result
	ok, err := m.guarded(ctx, contractID, func() { res = m.decider.Decide(ctx, contractID) })
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewDeliberationError("deliberation already triggered", errors.ErrConcurrencyConflict).
			WithContractID(contractID).WithRetryable(false)
	}
	m.report(res)
	return res, nil
}

// closeBetting ends betting on contractID. The write is conditional on the
// status read, so a deliberation that settles the contract in between is
// never overwritten by the stale copy.
func (m *Monitor) closeBetting(ctx context.Context, contractID string) error {
	c, err := m.contracts.FindByID(ctx, contractID)
	if err != nil {
		return err
	}
	from := c.Status
	changed, err := c.CloseBetting(m.now())
	if err != nil || !changed {
		return err
	}
	if err := m.contracts.UpdateIfStatus(ctx, c, from); err != nil {
		return err
	}
	m.logger.WithContract(contractID).Info("betting closed manually", "previous_status", string(from))
	return nil
}

func (m *Monitor) run(ctx context.Context, contractID string) (bool, error) {
	return m.guarded(ctx, contractID, func() {
		m.report(m.decider.Decide(ctx, contractID))
	})
}

// guarded runs fn when the trigger guard admits contractID.
func (m *Monitor) guarded(ctx context.Context, contractID string, fn func()) (bool, error) {
	ok, err := m.trigger.TryStart(ctx, contractID)
	if err != nil || !ok {
		if !ok && err == nil {
			m.logger.WithContract(contractID).Debug("trigger suppressed")
		}
		return false, err
	}
	defer func() {
		if err := m.trigger.Finish(context.WithoutCancel(ctx), contractID); err != nil {
			m.logger.WithContract(contractID).Warn("trigger finish failed", "error", err.Error())
		}
	}()
	fn()
	return true, nil
}

func (m *Monitor) report(res *orchestrator.Result) {
	if res == nil {
		return
	}
	log := m.logger.WithContract(res.ContractID)
	switch {
	case res.Success:
		log.Info("contract decided", "winner_id", res.Decision.WinnerID)
	case res.AlreadyDecided:
		log.Debug("contract already decided")
	case errors.IsRetryable(res.Err):
		log.Warn("deliberation failed, retrying next tick", "phase", string(res.Phase), "kind", kindName(res.Err), "reason", res.Reason)
	default:
		log.Error("deliberation failed", "phase", string(res.Phase), "kind", kindName(res.Err), "reason", res.Reason)
	}
	if m.onResult != nil {
		m.onResult(res)
	}
}

func kindName(err error) string {
	if kind := errors.Kind(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}
