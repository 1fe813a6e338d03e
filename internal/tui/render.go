package tui

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/consensus"
	"github.com/Iron-Ham/arbiter/internal/discussion"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/orchestrator"
	"github.com/Iron-Ham/arbiter/internal/proposal"
	"github.com/Iron-Ham/arbiter/internal/util"
)

const rationaleChars = 120

// Content returns msg's payload as its typed value. Messages read back from
// a store carry json.RawMessage; those are decoded by message type.
func Content(msg event.Message) any {
	raw, ok := msg.Content.(json.RawMessage)
	if !ok {
		return msg.Content
	}

	var out any
	switch msg.MessageType {
	case event.TypeProposal:
		out = &proposal.AgentProposal{}
	case event.TypeEvaluation:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return raw
		}
		if _, ok := fields["proposal"]; ok {
			out = &discussion.StanceRevision{}
		} else {
			out = &discussion.Evaluation{}
		}
	case event.TypeComparison:
		out = &discussion.Comparison{}
	case event.TypeVote:
		out = &consensus.Tally{}
	case event.TypeSynthesis:
		out = &consensus.Result{}
	case event.TypeProgress:
		out = &event.Progress{}
	default:
		return raw
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return raw
	}
	switch v := out.(type) {
	case *proposal.AgentProposal:
		return *v
	case *discussion.StanceRevision:
		return *v
	case *discussion.Evaluation:
		return *v
	case *discussion.Comparison:
		return *v
	case *consensus.Tally:
		return *v
	case *consensus.Result:
		return *v
	case *event.Progress:
		return *v
	}
	return raw
}

// RenderMessage renders one message as a single line.
func RenderMessage(msg event.Message) string {
	ts := Muted.Render(msg.Metadata.Timestamp.Format("15:04:05"))
	badge := Badge.Render(string(msg.MessageType))
	return fmt.Sprintf("%s %s %s", ts, badge, describe(msg))
}

func who(msg event.Message) string {
	name := msg.AgentName
	if name == "" {
		name = msg.AgentID
	}
	return Agent.Render(name)
}

func describe(msg event.Message) string {
	switch c := Content(msg).(type) {
	case proposal.AgentProposal:
		return fmt.Sprintf("%s proposes %s (%.2f): %s", who(msg), c.WinnerID, c.Confidence,
			util.Truncate(c.Rationale, rationaleChars))
	case discussion.StanceRevision:
		if c.Error != "" {
			return fmt.Sprintf("%s round %d: %s", who(msg), c.Round, Warning.Render("kept stance: "+c.Error))
		}
		verb := "holds"
		if c.Changed {
			verb = "switches to"
		}
		return fmt.Sprintf("%s round %d %s %s (%.2f)", who(msg), c.Round, verb, c.Proposal.WinnerID, c.Proposal.Confidence)
	case discussion.Evaluation:
		return fmt.Sprintf("%s scored %.2f (confidence %.2f)", who(msg), c.OverallScore, c.Confidence)
	case discussion.Comparison:
		outcome := "tie"
		if c.WinnerAgentID != "" {
			outcome = c.WinnerAgentID + " preferred"
		}
		return fmt.Sprintf("%s judged %s vs %s: %s", Agent.Render(c.JudgeID), c.LeftAgentID, c.RightAgentID, outcome)
	case consensus.Tally:
		return fmt.Sprintf("round %d %s", c.Round, renderCounts(c))
	case consensus.Result:
		return fmt.Sprintf("%s winner %s (%s, confidence %.2f)",
			phaseStyle(string(msg.Phase)).Render("consensus"), c.FinalWinner, c.Methodology, c.ConfidenceLevel)
	case event.Progress:
		text := fmt.Sprintf("%s %s", phaseStyle(string(msg.Phase)).Render(c.Status), c.Message)
		if c.Success != nil && !*c.Success {
			return Failure.Render(c.Status) + " " + c.Message
		}
		return text
	}
	return Muted.Render(fmt.Sprintf("%v", msg.Content))
}

func renderCounts(t consensus.Tally) string {
	choices := make([]string, 0, len(t.Counts))
	for choice := range t.Counts {
		choices = append(choices, choice)
	}
	slices.Sort(choices)
	parts := make([]string, 0, len(choices))
	for _, choice := range choices {
		parts = append(parts, fmt.Sprintf("%s=%g", choice, t.Counts[choice]))
	}
	s := strings.Join(parts, " ")
	if t.Unanimous {
		s += " " + Success.Render("unanimous")
	}
	return s
}

// RenderResult renders the outcome of a deliberation for the terminal.
func RenderResult(res *orchestrator.Result) string {
	var b strings.Builder
	switch {
	case res.Success:
		b.WriteString(Success.Render("DECIDED"))
	case res.AlreadyDecided:
		b.WriteString(Warning.Render("ALREADY DECIDED"))
	default:
		b.WriteString(Failure.Render("FAILED"))
	}
	fmt.Fprintf(&b, " contract %s\n", res.ContractID)

	if res.Decision != nil {
		d := res.Decision
		fmt.Fprintf(&b, "winner:      %s\n", d.WinnerID)
		fmt.Fprintf(&b, "methodology: %s\n", d.Methodology)
		fmt.Fprintf(&b, "confidence:  %.2f (unanimity %.2f)\n", d.Confidence, d.Metrics.UnanimityLevel)
		fmt.Fprintf(&b, "transaction: %s\n", d.TransactionID)
		if flags := renderFlags(d.QualityFlags); flags != "" {
			fmt.Fprintf(&b, "flags:       %s\n", flags)
		}
		if d.Reasoning != "" {
			fmt.Fprintf(&b, "\n%s\n", d.Reasoning)
		}
	}
	if !res.Success && !res.AlreadyDecided {
		fmt.Fprintf(&b, "phase:  %s\nreason: %s\n", res.Phase, res.Reason)
	}
	return ResultBox.Render(strings.TrimRight(b.String(), "\n"))
}

func renderFlags(f consensus.QualityFlags) string {
	var flags []string
	if f.HasMinorityDissent {
		flags = append(flags, "minority dissent")
	}
	if f.HasInsufficientEvidence {
		flags = append(flags, "insufficient evidence")
	}
	if f.HasConflictingEvidence {
		flags = append(flags, "conflicting evidence")
	}
	if f.RequiresHumanReview {
		flags = append(flags, Warning.Render("human review"))
	}
	return strings.Join(flags, ", ")
}
