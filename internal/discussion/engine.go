package discussion

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/proposal"
)

// Stance is a participant's answer to a discussion turn.
type Stance struct {
	WinnerID   string
	Confidence float64
	Rationale  string
	Evidence   []string
	TokenUsage int
}

// Turn is everything a participant sees when asked to revise its stance.
type Turn struct {
	Contract proposal.Input
	Round    int
	Current  proposal.AgentProposal
	Peers    []PeerStance
}

// Participant restates or revises its stance given its peers' anchors.
type Participant interface {
	ID() string
	ReviseStance(ctx context.Context, turn Turn) (Stance, error)
}

// Config controls both discussion strategies.
type Config struct {
	// SummaryChars truncates peer rationales shown in a turn.
	SummaryChars int
	// CallTimeout bounds every participant and judge call.
	CallTimeout time.Duration
	Pairwise    PairwiseConfig
}

// PairwiseConfig controls the rule + pairwise strategy.
type PairwiseConfig struct {
	Rounds          int
	RuleWeight      float64
	LLMWeight       float64
	MaskNames       bool
	NormalizeLength bool
	Parallel        int
	// Seed fixes left/right randomization; 0 seeds from the clock.
	Seed int64
}

// DefaultConfig returns the discussion defaults.
func DefaultConfig() Config {
	return Config{
		SummaryChars: 280,
		CallTimeout:  60 * time.Second,
		Pairwise: PairwiseConfig{
			Rounds:          1,
			RuleWeight:      0.4,
			LLMWeight:       0.6,
			MaskNames:       true,
			NormalizeLength: true,
			Parallel:        4,
		},
	}
}

// Engine runs discussion rounds and pairwise evaluations.
type Engine struct {
	cfg     Config
	emitter event.Emitter
	logger  *logging.Logger
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter publishes revisions, comparisons and evaluations to e.
func WithEmitter(e event.Emitter) Option {
	return func(en *Engine) { en.emitter = e }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(en *Engine) { en.logger = logging.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, opts ...Option) *Engine {
	seed := cfg.Pairwise.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	en := &Engine{
		cfg:    cfg,
		logger: logging.NopLogger(),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// RunRound runs one live-discussion round over prev and returns the next
// snapshot. Agents take turns in prev's fixed order. Each turn sees the
// anchors as left by the turns before it in the same round. A participant
// whose call fails keeps its anchor. prev is not modified.
func (en *Engine) RunRound(ctx context.Context, in proposal.Input, participants []Participant, prev *Anchors, round int) (*Anchors, error) {
	byID := make(map[string]Participant, len(participants))
	for _, p := range participants {
		byID[p.ID()] = p
	}

	next := prev.Next()
	log := en.logger.WithContract(in.ContractID).WithPhase(string(event.PhaseDiscussion)).WithRound(round)

	for _, agentID := range next.Agents() {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewDeliberationError("discussion interrupted", errors.Join(errors.ErrCanceled, err)).
				WithContractID(in.ContractID).WithPhase(string(event.PhaseDiscussion))
		}

		participant, ok := byID[agentID]
		if !ok {
			continue
		}
		current, _ := next.Get(agentID)
		turn := Turn{
			Contract: in,
			Round:    round,
			Current:  current,
			Peers:    next.Peers(agentID, en.cfg.SummaryChars),
		}

		start := en.now()
		stance, err := bounded(ctx, en.cfg.CallTimeout, func(callCtx context.Context) (Stance, error) {
			return participant.ReviseStance(callCtx, turn)
		})
		if err == nil && !in.HasParty(stance.WinnerID) {
			err = fmt.Errorf("stance names unknown party %q", stance.WinnerID)
		}
		if err == nil && (stance.Confidence < 0 || stance.Confidence > 1) {
			err = fmt.Errorf("stance confidence %v out of range", stance.Confidence)
		}

		revision := StanceRevision{
			Round:            round,
			AgentID:          agentID,
			PreviousWinnerID: current.WinnerID,
			Proposal:         current,
			PeersSeen:        turn.Peers,
		}
		if err != nil {
			perr := errors.NewParticipantError("revise stance", err).WithAgentID(agentID)
			log.Warn("participant kept its anchor", "agent_id", agentID, "error", perr.Error())
			revision.Error = perr.Error()
		} else {
			updated := current.Revise(stance.WinnerID, stance.Confidence, stance.Rationale, stance.Evidence, en.now())
			updated.Metadata.TokenUsage = stance.TokenUsage
			updated.Metadata.ProcessingTimeMs = elapsedMs(start, en.now())
			next.Set(updated)
			revision.Proposal = updated
			revision.Changed = updated.WinnerID != current.WinnerID
			log.Debug("stance revised", "agent_id", agentID, "winner_id", updated.WinnerID, "changed", revision.Changed)
		}

		msg := event.Message{
			ContractID:  in.ContractID,
			Phase:       event.PhaseDiscussion,
			MessageType: event.TypeEvaluation,
			AgentID:     agentID,
			AgentName:   current.AgentName,
			Content:     revision,
			Metadata: event.Metadata{
				Round:            round,
				ProcessingTimeMs: elapsedMs(start, en.now()),
			},
		}
		if revision.Proposal.Metadata.TokenUsage > 0 && err == nil {
			msg.Metadata.TokenUsage = &event.TokenUsage{Total: revision.Proposal.Metadata.TokenUsage}
		}
		event.Emit(en.emitter, msg)
	}

	return next, nil
}

// bounded runs fn with a timeout in its own goroutine so a callee that
// ignores its context cannot outlive the bound.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("participant panicked: %v", r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil && ctx.Err() == nil {
			return zero, errors.NewTimeoutError("participant call", timeout).WithCause(r.err)
		}
		return r.v, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, errors.Join(errors.ErrCanceled, ctx.Err())
		}
		return zero, errors.NewTimeoutError("participant call", timeout)
	}
}
