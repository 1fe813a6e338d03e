package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/util"
)

// Request is one chat completion call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

// Response is a completion and its token accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client sends chat completions to a vendor.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// LLM is an agent backed by a chat completion model. It asks for JSON
// answers and tolerates prose or code fences around them.
type LLM struct {
	id          string
	name        string
	vendor      Vendor
	model       string
	temperature float64
	client      Client
	logger      *logging.Logger
	now         func() time.Time
}

// LLMOption configures an LLM agent.
type LLMOption func(*LLM)

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) LLMOption {
	return func(a *LLM) { a.logger = logging.OrNop(l) }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(a *LLM) { a.temperature = t }
}

// NewLLM creates an LLM agent.
func NewLLM(id, name string, vendor Vendor, model string, client Client, opts ...LLMOption) *LLM {
	if name == "" {
		name = id
	}
	a := &LLM{
		id:     id,
		name:   name,
		vendor: vendor,
		model:  model,
		client: client,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLM) ID() string     { return a.id }
func (a *LLM) Name() string   { return a.name }
func (a *LLM) Vendor() Vendor { return a.vendor }

type stanceJSON struct {
	WinnerID   string   `json:"winnerId"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Evidence   []string `json:"evidence"`
}

type verdictJSON struct {
	Preferred string `json:"preferred"`
	Reasoning string `json:"reasoning"`
}

const systemPrompt = `You are a member of an adjudication committee deciding which of two parties won a contract.
Answer only with a single JSON object, no prose.`

// GenerateProposals asks the model for count independent proposals.
func (a *LLM) GenerateProposals(ctx context.Context, in proposal.Input, count int) ([]proposal.AgentProposal, error) {
	count = max(count, 1)
	var sb strings.Builder
	writeContract(&sb, in)
	fmt.Fprintf(&sb, "\nPropose %d independent judgement(s) of who won.\n", count)
	sb.WriteString(`Respond as {"proposals":[{"winnerId":"<party id>","confidence":0.0-1.0,"rationale":"...","evidence":["..."]}]}`)

	start := a.now()
	resp, err := a.complete(ctx, sb.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Proposals []stanceJSON `json:"proposals"`
	}
	if err := decodeJSON(resp.Content, &parsed); err != nil {
		return nil, err
	}

	tokens := resp.PromptTokens + resp.CompletionTokens
	cost, _ := EstimateCost(a.model, resp.PromptTokens, resp.CompletionTokens)
	out := make([]proposal.AgentProposal, 0, len(parsed.Proposals))
	for _, p := range parsed.Proposals {
		out = append(out, proposal.AgentProposal{
			AgentID:    a.id,
			AgentName:  a.name,
			ContractID: in.ContractID,
			WinnerID:   strings.TrimSpace(p.WinnerID),
			Confidence: p.Confidence,
			Rationale:  p.Rationale,
			Evidence:   p.Evidence,
			Metadata: proposal.Metadata{
				TokenUsage:       tokens,
				CostEstimate:     cost,
				ProcessingTimeMs: a.now().Sub(start).Milliseconds(),
				Model:            a.model,
			},
			CreatedAt: a.now(),
		})
	}
	return out, nil
}

// ReviseStance shows the model its current stance and its peers' and asks
// it to restate or revise.
func (a *LLM) ReviseStance(ctx context.Context, turn discussion.Turn) (discussion.Stance, error) {
	var sb strings.Builder
	writeContract(&sb, turn.Contract)
	fmt.Fprintf(&sb, "\nDiscussion round %d.\nYour current stance: winner %s at confidence %.2f.\n%s\n",
		turn.Round, turn.Current.WinnerID, turn.Current.Confidence, turn.Current.Rationale)
	sb.WriteString("\nOther committee members currently hold:\n")
	for _, p := range turn.Peers {
		fmt.Fprintf(&sb, "- %s: winner %s at confidence %.2f. %s\n", p.AgentName, p.WinnerID, p.Confidence, p.Rationale)
	}
	sb.WriteString("\nRestate or revise your stance. Change only if the arguments persuade you.\n")
	sb.WriteString(`Respond as {"winnerId":"<party id>","confidence":0.0-1.0,"rationale":"...","evidence":["..."]}`)

	resp, err := a.complete(ctx, sb.String())
	if err != nil {
		return discussion.Stance{}, err
	}
	var s stanceJSON
	if err := decodeJSON(resp.Content, &s); err != nil {
		return discussion.Stance{}, err
	}
	return discussion.Stance{
		WinnerID:   strings.TrimSpace(s.WinnerID),
		Confidence: s.Confidence,
		Rationale:  s.Rationale,
		Evidence:   s.Evidence,
		TokenUsage: resp.PromptTokens + resp.CompletionTokens,
	}, nil
}

// Compare asks the model which of two proposals argues better.
func (a *LLM) Compare(ctx context.Context, in discussion.PairwiseInput) (discussion.Verdict, error) {
	var sb strings.Builder
	writeContract(&sb, in.Contract)
	sb.WriteString("\nCompare the reasoning quality of two proposals. Judge the argument, not the length.\n")
	writeCandidate(&sb, "LEFT", in.Left)
	writeCandidate(&sb, "RIGHT", in.Right)
	sb.WriteString(`Respond as {"preferred":"left"|"right"|"tie","reasoning":"..."}`)

	resp, err := a.complete(ctx, sb.String())
	if err != nil {
		return discussion.Verdict{}, err
	}
	var v verdictJSON
	if err := decodeJSON(resp.Content, &v); err != nil {
		return discussion.Verdict{}, err
	}
	return discussion.Verdict{
		Preferred:  discussion.Side(strings.ToLower(strings.TrimSpace(v.Preferred))),
		Reasoning:  v.Reasoning,
		TokenUsage: resp.PromptTokens + resp.CompletionTokens,
	}, nil
}

func (a *LLM) complete(ctx context.Context, user string) (Response, error) {
	resp, err := a.client.Complete(ctx, Request{
		Model:       a.model,
		System:      systemPrompt,
		User:        user,
		Temperature: a.temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s completion: %w", a.vendor, err)
	}
	a.logger.WithAgent(a.id).Debug("completion received",
		"model", a.model, "prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens)
	return resp, nil
}

func writeContract(sb *strings.Builder, in proposal.Input) {
	fmt.Fprintf(sb, "Contract %s: %s\n", in.ContractID, in.Describe())
	if in.PartyA.Description != "" {
		fmt.Fprintf(sb, "%s: %s\n", in.PartyA.ID, in.PartyA.Description)
	}
	if in.PartyB.Description != "" {
		fmt.Fprintf(sb, "%s: %s\n", in.PartyB.ID, in.PartyB.Description)
	}
	if in.Context != "" {
		fmt.Fprintf(sb, "Context:\n%s\n", in.Context)
	}
}

func writeCandidate(sb *strings.Builder, side string, c discussion.Candidate) {
	fmt.Fprintf(sb, "\n%s (%s): winner %s at confidence %.2f\n%s\n", side, c.Label, c.WinnerID, c.Confidence, c.Rationale)
	for _, e := range c.Evidence {
		fmt.Fprintf(sb, "  * %s\n", e)
	}
}

// decodeJSON unmarshals the first JSON object found in s.
func decodeJSON(s string, v any) error {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response: %q", util.Truncate(s, 120))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
