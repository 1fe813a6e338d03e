package store

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
)

// NewMemory returns process-local stores. Values are copied in and out.
func NewMemory() *Stores {
	return &Stores{
		Contracts: &MemoryContracts{byID: make(map[string]contract.Contract)},
		Decisions: &MemoryDecisions{byContract: make(map[string]Decision)},
		Messages:  &MemoryMessages{byContract: make(map[string][]event.Message)},
	}
}

// MemoryContracts is an in-memory ContractStore.
type MemoryContracts struct {
	mu   sync.RWMutex
	byID map[string]contract.Contract
}

func (m *MemoryContracts) FindByID(_ context.Context, id string) (*contract.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, notFoundContract(id)
	}
	return &c, nil
}

func (m *MemoryContracts) FindReadyForDecision(_ context.Context, now time.Time) ([]*contract.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*contract.Contract
	for _, c := range m.byID {
		if c.Status == contract.StatusBettingClosed && !c.BettingEndTime.After(now) {
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *contract.Contract) int {
		if d := a.BettingEndTime.Compare(b.BettingEndTime); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryContracts) Save(_ context.Context, c *contract.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return errors.NewValidationError("contract already exists").WithField("id").WithValue(c.ID)
	}
	m.byID[c.ID] = *c
	return nil
}

func (m *MemoryContracts) Update(_ context.Context, c *contract.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		return notFoundContract(c.ID)
	}
	m.byID[c.ID] = *c
	return nil
}

func (m *MemoryContracts) UpdateIfStatus(_ context.Context, c *contract.Contract, from contract.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[c.ID]
	if !ok {
		return notFoundContract(c.ID)
	}
	if stored.Status != from {
		return statusConflict(c.ID, from, stored.Status)
	}
	m.byID[c.ID] = *c
	return nil
}

// MemoryDecisions is an in-memory DecisionStore.
type MemoryDecisions struct {
	mu         sync.RWMutex
	byContract map[string]Decision
}

func (m *MemoryDecisions) FindByContractID(_ context.Context, contractID string) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byContract[contractID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryDecisions) Save(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byContract[d.ContractID]; ok {
		return duplicateDecision(d.ContractID)
	}
	m.byContract[d.ContractID] = *d
	return nil
}

// MemoryMessages is an in-memory MessageStore.
type MemoryMessages struct {
	mu         sync.RWMutex
	byContract map[string][]event.Message
}

// Append stores msg with its content serialized, matching what the SQL
// stores return.
func (m *MemoryMessages) Append(_ context.Context, msg event.Message) error {
	raw, err := json.Marshal(msg.Content)
	if err != nil {
		return persistErr("encode message content", err)
	}
	msg.Content = json.RawMessage(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byContract[msg.ContractID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.byContract[msg.ContractID] = append(m.byContract[msg.ContractID], msg)
	return nil
}

func (m *MemoryMessages) List(_ context.Context, contractID string) ([]event.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.byContract[contractID])
	// Seq restarts when the bus drops a stream, so order by time first
	// like the SQL stores do.
	slices.SortStableFunc(out, func(a, b event.Message) int {
		if d := a.Metadata.Timestamp.Compare(b.Metadata.Timestamp); d != 0 {
			return d
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}
