// Package orchestrator drives one contract from "betting closed" to a
// settled, persisted decision.
//
// A deliberation walks the state machine
//
//	idle → proposing → discussing → synthesizing → settling → done
//
// and may fail from any step. Deliberations of one contract are serialized
// by the guard registry; different contracts run concurrently. Failures are
// returned as Result values and never escape as panics.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/arbiter/internal/agent"
	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/consensus"
	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/guard"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/settlement"
	"github.com/Iron-Ham/arbiter/internal/store"
)

const instrumentationName = "github.com/Iron-Ham/arbiter/internal/orchestrator"

// Config controls the deliberation pipeline.
type Config struct {
	// Mode is config.ModeLive or config.ModePairwise.
	Mode             string
	DiscussionRounds int
	Generator        proposal.Config
	Discussion       discussion.Config
	// DissentAdjustedConfidence reports the winner's vote share as
	// confidence on non-unanimous results.
	DissentAdjustedConfidence bool
	WeightAlpha               float64
}

// ConfigFrom derives the pipeline configuration from the application config.
func ConfigFrom(c *config.Config) Config {
	d := c.Deliberation
	return Config{
		Mode:             d.Mode,
		DiscussionRounds: d.DiscussionRounds,
		Generator: proposal.Config{
			MinProposals: d.MinProposals,
			MaxPerAgent:  d.MaxProposalsPerAgent,
			CallTimeout:  d.CallTimeout(),
		},
		Discussion: discussion.Config{
			SummaryChars: d.RationaleSummaryChars,
			CallTimeout:  d.CallTimeout(),
			Pairwise: discussion.PairwiseConfig{
				Rounds:          c.Pairwise.Rounds,
				RuleWeight:      c.Pairwise.RuleWeight,
				LLMWeight:       c.Pairwise.LLMWeight,
				MaskNames:       c.Pairwise.MaskNames,
				NormalizeLength: c.Pairwise.NormalizeLength,
				Parallel:        c.Pairwise.Parallel,
				Seed:            c.Pairwise.Seed,
			},
		},
		DissentAdjustedConfidence: d.DissentAdjustedConfidence,
		WeightAlpha:               DefaultWeightAlpha,
	}
}

// CommitteeSource supplies the committee for each deliberation.
// *agent.Roster implements it.
type CommitteeSource interface {
	Committee() agent.Committee
}

// Deps are the collaborators a deliberation needs.
type Deps struct {
	Contracts  store.ContractStore
	Decisions  store.DecisionStore
	Settlement settlement.Service
	Guard      *guard.Registry
	Bus        *event.Bus
	Committee  CommitteeSource
}

// Result is the outcome of one deliberation attempt.
type Result struct {
	DeliberationID string `json:"deliberationId"`
	ContractID     string `json:"contractId"`
	Success        bool   `json:"success"`
	// Reason is a human-readable explanation of a failure.
	Reason string `json:"reason,omitempty"`
	// Phase is the state the deliberation ended in, or failed from.
	Phase State `json:"phase"`
	// AlreadyDecided marks the idempotent no-op; Decision holds the
	// existing record.
	AlreadyDecided bool              `json:"alreadyDecided,omitempty"`
	Path           []State           `json:"path"`
	Consensus      *consensus.Result `json:"consensus,omitempty"`
	Decision       *store.Decision   `json:"decision,omitempty"`
	Duration       time.Duration     `json:"duration"`
	Err            error             `json:"-"`
}

// Orchestrator runs deliberations.
type Orchestrator struct {
	cfg  Config
	deps Deps

	generator *proposal.Generator
	engine    *discussion.Engine
	builder   *consensus.Builder
	weights   *Weights

	logger *logging.Logger
	now    func() time.Time

	tracer    trace.Tracer
	decisions metric.Int64Counter
	duration  metric.Float64Histogram

	asyncMu sync.Mutex
	async   map[string]*Result
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger     *logging.Logger
	now        func() time.Time
	rateLimits map[string]int
	weights    *Weights
	tracers    trace.TracerProvider
	meters     metric.MeterProvider
}

// WithLogger sets the orchestrator logger. It is shared with the pipeline
// components.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRateLimits limits proposer calls, in requests per minute by agent id.
func WithRateLimits(limits map[string]int) Option {
	return func(o *options) { o.rateLimits = limits }
}

// WithWeights seeds the agent track record.
func WithWeights(w *Weights) Option {
	return func(o *options) { o.weights = w }
}

// WithTracerProvider sets where deliberation spans go. The global provider
// is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracers = tp }
}

// WithMeterProvider sets where deliberation metrics go. The global provider
// is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Contracts == nil || deps.Decisions == nil || deps.Settlement == nil || deps.Committee == nil {
		return nil, errors.NewValidationError("contracts, decisions, settlement and committee are required")
	}
	o := options{
		logger:  logging.NopLogger(),
		now:     time.Now,
		tracers: otel.GetTracerProvider(),
		meters:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Guard == nil {
		deps.Guard = guard.NewRegistry(guard.WithLogger(o.logger))
	}
	if o.weights == nil {
		o.weights = NewWeights(cfg.WeightAlpha)
	}

	var emitter event.Emitter
	if deps.Bus != nil {
		emitter = deps.Bus
	}

	genOpts := []proposal.GeneratorOption{proposal.WithEmitter(emitter), proposal.WithLogger(o.logger)}
	for id, rpm := range o.rateLimits {
		genOpts = append(genOpts, proposal.WithRateLimit(id, rpm))
	}

	orch := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		generator: proposal.NewGenerator(cfg.Generator, genOpts...),
		engine: discussion.NewEngine(cfg.Discussion,
			discussion.WithEmitter(emitter), discussion.WithLogger(o.logger), discussion.WithClock(o.now)),
		builder: consensus.NewBuilder(
			consensus.WithEmitter(emitter), consensus.WithLogger(o.logger),
			consensus.WithDissentAdjustedConfidence(cfg.DissentAdjustedConfidence)),
		weights: o.weights,
		logger:  o.logger,
		now:     o.now,
		tracer:  o.tracers.Tracer(instrumentationName),
		async:   make(map[string]*Result),
	}

	meter := o.meters.Meter(instrumentationName)
	var err error
	if orch.decisions, err = meter.Int64Counter("arbiter.deliberations",
		metric.WithDescription("Deliberation attempts by outcome")); err != nil {
		return nil, fmt.Errorf("create deliberation counter: %w", err)
	}
	if orch.duration, err = meter.Float64Histogram("arbiter.deliberation.duration",
		metric.WithDescription("Deliberation wall time"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return orch, nil
}

// Weights returns the orchestrator's agent track record.
func (o *Orchestrator) Weights() *Weights { return o.weights }

// Decide runs a deliberation for contractID and waits for it. Calls for the
// same contract queue behind each other; once one succeeds the rest return
// AlreadyDecided.
func (o *Orchestrator) Decide(ctx context.Context, contractID string) *Result {
	return o.decide(ctx, uuid.NewString(), contractID)
}

func (o *Orchestrator) decide(ctx context.Context, deliberationID, contractID string) *Result {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "arbiter.decide", trace.WithAttributes(
		attribute.String("arbiter.contract_id", contractID),
		attribute.String("arbiter.deliberation_id", deliberationID),
		attribute.String("arbiter.mode", o.cfg.Mode),
	))
	defer span.End()

	r := &run{
		o:   o,
		res: &Result{DeliberationID: deliberationID, ContractID: contractID},
		m:   newMachine(o.now),
		log: o.logger.WithContract(contractID).With("deliberation_id", deliberationID),
	}

	err := o.deps.Guard.Acquire(ctx, contractID, func(ctx context.Context) error {
		return r.deliberate(ctx, span)
	})
	if err != nil && r.res.Err == nil {
		// Acquire itself failed, or the pipeline panicked.
		r.fail(err)
	}

	res := r.res
	res.Path = r.m.path()
	res.Duration = o.now().Sub(start)

	outcome := "success"
	switch {
	case res.AlreadyDecided:
		outcome = "already_decided"
	case !res.Success:
		outcome = "failure"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Reason)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("phase", string(res.Phase)))
	o.decisions.Add(ctx, 1, attrs)
	o.duration.Record(ctx, res.Duration.Seconds(), attrs)
	return res
}

// DecideAsync starts a deliberation in the background and returns its id
// at once. Progress is published on the bus; the terminal Result is
// available from AsyncResult. The deliberation outlives ctx's cancellation.
func (o *Orchestrator) DecideAsync(ctx context.Context, contractID string) string {
	id := uuid.NewString()
	o.asyncMu.Lock()
	o.async[id] = nil
	o.asyncMu.Unlock()

	bg := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		res := o.decide(bg, id, contractID)
		o.asyncMu.Lock()
		o.async[id] = res
		o.asyncMu.Unlock()
	})
	return id
}

// AsyncResult returns the Result of an async deliberation. found is false
// for unknown ids; res is nil while the deliberation is still running.
// A finished result is handed out once and then forgotten.
func (o *Orchestrator) AsyncResult(id string) (res *Result, found bool) {
	o.asyncMu.Lock()
	defer o.asyncMu.Unlock()
	res, found = o.async[id]
	if res != nil {
		delete(o.async, id)
	}
	return res, found
}

// Wait blocks until every async deliberation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run is the state of one deliberation attempt.
type run struct {
	o   *Orchestrator
	res *Result
	m   *machine
	log *logging.Logger
}

func (r *run) contractID() string { return r.res.ContractID }

func (r *run) progress(status, text string) {
	if r.o.deps.Bus == nil {
		return
	}
	r.o.deps.Bus.Emit(event.NewProgress(r.contractID(), r.m.current.Phase(), status, text))
}

func (r *run) enter(ctx context.Context, next State, text string) error {
	if err := r.m.to(next, text); err != nil {
		return err
	}
	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(attribute.String("arbiter.state", string(next))))
	r.log.Info("deliberation state changed", "state", string(next))
	r.progress(string(next), text)
	return nil
}

// fail records err and moves the machine to Failed. The phase reported is
// the state the failure happened in.
func (r *run) fail(err error) {
	phase := r.m.current
	var de *errors.DeliberationError
	if !errors.As(err, &de) {
		err = errors.NewDeliberationError(fmt.Sprintf("%s failed", phase), err).
			WithContractID(r.contractID()).WithPhase(string(phase))
	}
	r.res.Success = false
	r.res.Phase = phase
	r.res.Reason = err.Error()
	r.res.Err = err
	if !phase.IsTerminal() {
		_ = r.m.to(StateFailed, r.res.Reason)
	}

	if errors.GetSeverity(err) >= errors.SeverityError {
		r.log.Error("deliberation failed", "phase", string(phase), "error", err.Error())
	} else {
		r.log.Warn("deliberation failed", "phase", string(phase), "error", err.Error())
	}
	if r.o.deps.Bus != nil {
		ok := false
		msg := event.NewProgress(r.contractID(), event.PhaseCompleted, string(StateFailed), r.res.Reason)
		msg.Content = event.Progress{Status: string(StateFailed), Message: r.res.Reason, Success: &ok}
		r.o.deps.Bus.Emit(msg)
	}
}

// deliberate runs under the contract's exclusive lock. It reports through
// r.res and returns nil unless the lock's caller needs to see an error.
func (r *run) deliberate(ctx context.Context, span trace.Span) error {
	o := r.o
	id := r.contractID()

	existing, err := o.deps.Decisions.FindByContractID(ctx, id)
	if err != nil {
		r.fail(err)
		return nil
	}
	if existing != nil {
		if err := r.reconcile(ctx, existing); err != nil {
			r.fail(err)
			return nil
		}
		r.res.AlreadyDecided = true
		r.res.Phase = StateDone
		r.res.Decision = existing
		r.res.Reason = "contract already decided"
		r.res.Err = errors.NewDeliberationError("decision exists", errors.ErrAlreadyDecided).WithContractID(id)
		r.log.Info("contract already decided", "decision_id", existing.ID)
		return nil
	}

	c, err := o.deps.Contracts.FindByID(ctx, id)
	if err != nil {
		r.fail(err)
		return nil
	}
	if err := c.ReadyForDecision(o.now()); err != nil {
		r.fail(err)
		return nil
	}

	committee := o.deps.Committee.Committee()
	span.SetAttributes(attribute.Int("arbiter.committee_size", len(committee.Proposers)))
	in := proposal.InputFor(c, "", o.weights.Snapshot())

	if err := r.enter(ctx, StateProposing, fmt.Sprintf("asking %d proposers", len(committee.Proposers))); err != nil {
		r.fail(err)
		return nil
	}
	gen, err := o.generator.Generate(ctx, in, committee.Proposers)
	if err != nil {
		r.fail(err)
		return nil
	}
	anchors := discussion.NewAnchors(gen.Proposals)

	if err := r.enter(ctx, StateDiscussing, fmt.Sprintf("%d proposals collected", len(gen.Proposals))); err != nil {
		r.fail(err)
		return nil
	}
	result, final, err := r.discuss(ctx, in, committee, anchors)
	if err != nil {
		r.fail(err)
		return nil
	}
	r.res.Consensus = result

	if err := r.enter(ctx, StateSettling, fmt.Sprintf("declaring %s (%s)", result.FinalWinner, result.Methodology)); err != nil {
		r.fail(err)
		return nil
	}
	decision, err := r.settle(ctx, c, result)
	if err != nil {
		r.fail(err)
		return nil
	}
	r.res.Decision = decision

	o.weights.Update(final.Votes(), result.FinalWinner)

	if err := r.m.to(StateDone, "settled"); err != nil {
		r.fail(err)
		return nil
	}
	r.res.Success = true
	r.res.Phase = StateDone
	r.log.Info("deliberation complete",
		"winner_id", result.FinalWinner,
		"methodology", string(result.Methodology),
		"transaction_id", decision.TransactionID)

	if o.deps.Bus != nil {
		ok := true
		msg := event.NewProgress(id, event.PhaseCompleted, string(StateDone), "winner "+result.FinalWinner)
		msg.Content = event.Progress{Status: string(StateDone), Message: "winner " + result.FinalWinner, Success: &ok}
		o.deps.Bus.Emit(msg)
	}
	return nil
}

// discuss runs the configured strategy and synthesizes the consensus. It
// returns the final anchors alongside the result.
func (r *run) discuss(ctx context.Context, in proposal.Input, committee agent.Committee, anchors *discussion.Anchors) (*consensus.Result, *discussion.Anchors, error) {
	o := r.o

	if o.cfg.Mode == config.ModePairwise {
		report, err := o.engine.Evaluate(ctx, in, committee.Judges, anchors)
		if err != nil {
			return nil, nil, err
		}
		if err := r.enter(ctx, StateSynthesizing, fmt.Sprintf("%d comparisons judged", len(report.Comparisons))); err != nil {
			return nil, nil, err
		}
		result, err := o.builder.BuildWeighted(in, anchors, report)
		return result, anchors, err
	}

	outcome, err := o.builder.Converge(ctx, in.ContractID, anchors, o.cfg.DiscussionRounds,
		func(ctx context.Context, prev *discussion.Anchors, round int) (*discussion.Anchors, error) {
			return o.engine.RunRound(ctx, in, committee.Participants, prev, round)
		})
	if err != nil {
		return nil, nil, err
	}
	if err := r.enter(ctx, StateSynthesizing, fmt.Sprintf("voting ended after %d round(s)", outcome.Rounds)); err != nil {
		return nil, nil, err
	}
	result, err := o.builder.Build(in, outcome)
	return result, outcome.Anchors, err
}

// settle declares the winner externally and persists. The stored contract
// is only updated after settlement succeeds, so a failed settlement leaves
// it eligible for a retry.
func (r *run) settle(ctx context.Context, c *contract.Contract, result *consensus.Result) (*store.Decision, error) {
	o := r.o
	now := o.now()

	decided := *c
	if err := decided.DeclareWinner(result.FinalWinner, now); err != nil {
		return nil, err
	}

	txID, err := o.deps.Settlement.DeclareWinner(ctx, c.ID, result.FinalWinner)
	if err != nil {
		return nil, err
	}

	messages := 0
	if o.deps.Bus != nil {
		messages = len(o.deps.Bus.History(c.ID))
	}
	decision := &store.Decision{
		ID:            uuid.NewString(),
		ContractID:    c.ID,
		WinnerID:      result.FinalWinner,
		Confidence:    result.ConfidenceLevel,
		Reasoning:     result.SynthesizedReasoning,
		Evidence:      result.MergedEvidence,
		Methodology:   result.Methodology,
		Metrics:       result.Metrics,
		QualityFlags:  result.QualityFlags,
		TransactionID: txID,
		HistoryRef:    store.HistoryRef(c.ID),
		MessageCount:  messages,
		CreatedAt:     now,
	}
	if err := o.deps.Decisions.Save(ctx, decision); err != nil {
		r.log.Error("settled but decision not persisted", "transaction_id", txID, "error", err.Error())
		return nil, err
	}
	if err := o.deps.Contracts.UpdateIfStatus(ctx, &decided, contract.StatusBettingClosed); err != nil {
		r.log.Error("decision persisted but contract not updated", "transaction_id", txID, "error", err.Error())
		return nil, err
	}
	return decision, nil
}

// reconcile moves the contract to DECIDED when a stored decision exists but
// the contract update that should have followed it was lost.
func (r *run) reconcile(ctx context.Context, d *store.Decision) error {
	c, err := r.o.deps.Contracts.FindByID(ctx, d.ContractID)
	if err != nil {
		return err
	}
	if c.Status != contract.StatusBettingClosed {
		return nil
	}
	if err := c.DeclareWinner(d.WinnerID, r.o.now()); err != nil {
		return err
	}
	if err := r.o.deps.Contracts.UpdateIfStatus(ctx, c, contract.StatusBettingClosed); err != nil {
		return errors.Wrap(err, "reconcile stored decision")
	}
	r.log.Warn("contract reconciled with stored decision", "decision_id", d.ID, "winner_id", d.WinnerID)
	return nil
}
