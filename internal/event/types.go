// Package event implements the deliberation event bus: a per-contract,
// append-only message log with live subscriber fan-out.
package event

import "time"

// Phase is the deliberation phase a message belongs to.
type Phase string

const (
	PhaseProposing  Phase = "proposing"
	PhaseDiscussion Phase = "discussion"
	PhaseConsensus  Phase = "consensus"
	PhaseCompleted  Phase = "completed"
)

// MessageType identifies the payload carried by a message.
type MessageType string

const (
	TypeProposal   MessageType = "proposal"
	TypeEvaluation MessageType = "evaluation"
	TypeComparison MessageType = "comparison"
	TypeVote       MessageType = "vote"
	TypeSynthesis  MessageType = "synthesis"
	TypeProgress   MessageType = "progress"
)

// TokenUsage counts tokens spent by one participant call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Metadata annotates a message.
type Metadata struct {
	Timestamp        time.Time   `json:"timestamp"`
	Round            int         `json:"round,omitempty"`
	ProcessingTimeMs int64       `json:"processingTimeMs,omitempty"`
	TokenUsage       *TokenUsage `json:"tokenUsage,omitempty"`
}

// Message is one atomic, timestamped step of a deliberation.
//
// Content is type specific: an AgentProposal for proposals, a
// StanceRevision (live discussion) or Evaluation (pairwise) for
// evaluations, a Comparison for comparisons, a Tally for votes, a consensus
// Result for synthesis and a Progress for progress messages.
// Messages read back from a store carry their content as json.RawMessage.
type Message struct {
	ID          string      `json:"id"`
	ContractID  string      `json:"contractId"`
	Seq         uint64      `json:"seq"`
	Phase       Phase       `json:"phase"`
	MessageType MessageType `json:"messageType"`
	AgentID     string      `json:"agentId,omitempty"`
	AgentName   string      `json:"agentName,omitempty"`
	Content     any         `json:"content"`
	Metadata    Metadata    `json:"metadata"`
}

// Progress is the content of a progress message.
type Progress struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Success *bool  `json:"success,omitempty"`
}

// NewProgress builds a progress message for contractID.
func NewProgress(contractID string, phase Phase, status, text string) Message {
	return Message{
		ContractID:  contractID,
		Phase:       phase,
		MessageType: TypeProgress,
		Content:     Progress{Status: status, Message: text},
	}
}

// Emitter accepts deliberation messages. *Bus is the production emitter;
// tests may substitute a fake.
type Emitter interface {
	Emit(msg Message) Message
}

// Emit sends msg to e when e is non-nil. It lets pipeline components treat
// the bus as optional.
func Emit(e Emitter, msg Message) {
	if e != nil {
		e.Emit(msg)
	}
}
