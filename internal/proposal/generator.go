package proposal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// Config bounds a generation run.
type Config struct {
	// MinProposals is the fewest proposals the phase may end with.
	MinProposals int
	// MaxPerAgent caps how many proposals one proposer may contribute.
	MaxPerAgent int
	// CallTimeout bounds every proposer call.
	CallTimeout time.Duration
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{MinProposals: 2, MaxPerAgent: 1, CallTimeout: 60 * time.Second}
}

// Outcome is the result of one fan-out.
type Outcome struct {
	// Proposals in proposer order, then in the order each proposer returned them.
	Proposals []AgentProposal
	// Failures maps proposer id to the error that excluded it.
	Failures map[string]error
}

// Generator fans a contract out to every enabled proposer concurrently.
type Generator struct {
	cfg     Config
	emitter event.Emitter
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithEmitter streams every accepted proposal to e as it arrives.
func WithEmitter(e event.Emitter) GeneratorOption {
	return func(g *Generator) { g.emitter = e }
}

// WithLogger sets the generator logger.
func WithLogger(l *logging.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logging.OrNop(l) }
}

// WithRateLimit limits calls to proposerID to rpm requests per minute.
func WithRateLimit(proposerID string, rpm int) GeneratorOption {
	return func(g *Generator) {
		if rpm > 0 {
			g.limiters[proposerID] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config, opts ...GeneratorOption) *Generator {
	if cfg.MaxPerAgent < 1 {
		cfg.MaxPerAgent = 1
	}
	g := &Generator{
		cfg:      cfg,
		logger:   logging.NopLogger(),
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks every proposer for up to MaxPerAgent proposals concurrently
// and waits for all of them. A failing or timed-out proposer contributes
// nothing and does not affect the others. If fewer than MinProposals valid
// proposals are collected, Generate returns the outcome together with an
// InsufficientProposals error.
func (g *Generator) Generate(ctx context.Context, in Input, proposers []Proposer) (*Outcome, error) {
	log := g.logger.WithContract(in.ContractID).WithPhase(string(event.PhaseProposing))
	log.Info("generating proposals", "proposers", len(proposers), "min", g.cfg.MinProposals)

	slots := make([][]AgentProposal, len(proposers))
	errs := make([]error, len(proposers))

	// Tasks never return an error so one failure does not cancel siblings.
	var eg errgroup.Group
	for i, p := range proposers {
		eg.Go(func() error {
			proposals, err := g.callProposer(ctx, in, p)
			if err != nil {
				errs[i] = err
				log.Warn("proposer failed", "agent_id", p.ID(), "error", err.Error())
				return nil
			}
			slots[i] = proposals
			for _, prop := range proposals {
				g.emit(prop)
			}
			return nil
		})
	}
	_ = eg.Wait()

	out := &Outcome{Failures: make(map[string]error)}
	for i, p := range proposers {
		if errs[i] != nil {
			out.Failures[p.ID()] = errs[i]
			continue
		}
		out.Proposals = append(out.Proposals, slots[i]...)
	}

	if len(out.Proposals) < g.cfg.MinProposals {
		err := errors.NewDeliberationError(
			fmt.Sprintf("collected %d of %d required proposals", len(out.Proposals), g.cfg.MinProposals),
			errors.ErrInsufficientProposals,
		).WithContractID(in.ContractID).WithPhase(string(event.PhaseProposing))
		log.Error("proposal phase failed", "collected", len(out.Proposals), "failed", len(out.Failures))
		return out, err
	}

	log.Info("proposals collected", "collected", len(out.Proposals), "failed", len(out.Failures))
	return out, nil
}

type callResult struct {
	proposals []AgentProposal
	err       error
}

// callProposer runs one bounded proposer call and normalizes its output.
// The call runs in its own goroutine so a proposer that ignores its context
// still cannot hold the phase past the timeout.
func (g *Generator) callProposer(ctx context.Context, in Input, p Proposer) ([]AgentProposal, error) {
	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	if lim := g.limiter(p.ID()); lim != nil {
		if err := lim.Wait(callCtx); err != nil {
			return nil, errors.NewParticipantError("rate limit wait", err).WithAgentID(p.ID())
		}
	}

	start := g.now()
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("proposer panicked: %v", r)}
			}
		}()
		proposals, err := p.GenerateProposals(callCtx, in, g.cfg.MaxPerAgent)
		done <- callResult{proposals: proposals, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if res.err != nil {
		if callCtx.Err() != nil {
			return nil, g.boundErr(ctx, p)
		}
		return nil, errors.NewParticipantError("generate proposals", res.err).WithAgentID(p.ID())
	}

	elapsed := g.now().Sub(start).Milliseconds()
	var accepted []AgentProposal
	for _, prop := range res.proposals {
		if len(accepted) == g.cfg.MaxPerAgent {
			break
		}
		prop = g.normalize(prop, in, p, elapsed)
		if err := prop.Validate(in); err != nil {
			g.logger.WithContract(in.ContractID).Warn("dropping invalid proposal",
				"agent_id", p.ID(), "error", err.Error())
			continue
		}
		accepted = append(accepted, prop)
	}
	if len(accepted) == 0 {
		return nil, errors.NewParticipantError("generate proposals",
			errors.New("no valid proposals returned")).WithAgentID(p.ID())
	}
	return accepted, nil
}

// boundErr classifies a call that ended because its context did.
func (g *Generator) boundErr(parent context.Context, p Proposer) error {
	if parent.Err() != nil {
		return errors.NewParticipantError("generate proposals",
			errors.Join(errors.ErrCanceled, parent.Err())).WithAgentID(p.ID())
	}
	return errors.NewParticipantError("generate proposals",
		errors.NewTimeoutError("generate proposals", g.cfg.CallTimeout)).WithAgentID(p.ID())
}

func (g *Generator) normalize(prop AgentProposal, in Input, p Proposer, elapsedMs int64) AgentProposal {
	if prop.ID == "" {
		prop.ID = uuid.NewString()
	}
	if prop.AgentID == "" {
		prop.AgentID = p.ID()
	}
	if prop.AgentName == "" {
		prop.AgentName = p.Name()
	}
	prop.ContractID = in.ContractID
	if prop.CreatedAt.IsZero() {
		prop.CreatedAt = g.now()
	}
	if prop.Metadata.ProcessingTimeMs == 0 {
		prop.Metadata.ProcessingTimeMs = elapsedMs
	}
	return prop
}

func (g *Generator) limiter(id string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiters[id]
}

func (g *Generator) emit(p AgentProposal) {
	msg := event.Message{
		ContractID:  p.ContractID,
		Phase:       event.PhaseProposing,
		MessageType: event.TypeProposal,
		AgentID:     p.AgentID,
		AgentName:   p.AgentName,
		Content:     p,
		Metadata: event.Metadata{
			ProcessingTimeMs: p.Metadata.ProcessingTimeMs,
		},
	}
	if p.Metadata.TokenUsage > 0 {
		msg.Metadata.TokenUsage = &event.TokenUsage{Total: p.Metadata.TokenUsage}
	}
	event.Emit(g.emitter, msg)
}
