// Package store persists contracts, decisions and deliberation messages.
//
// Three backends share one set of interfaces: Memory for tests and dry
// runs, SQLite (modernc.org/sqlite, no cgo) for single-node deployments and
// PostgreSQL (lib/pq) for shared ones.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/arbiter/internal/consensus"
	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Decision is the persisted outcome of a deliberation.
type Decision struct {
	ID            string                 `json:"id"`
	ContractID    string                 `json:"contractId"`
	WinnerID      string                 `json:"winnerId"`
	Confidence    float64                `json:"confidence"`
	Reasoning     string                 `json:"reasoning"`
	Evidence      []consensus.Evidence   `json:"evidence"`
	Methodology   consensus.Methodology  `json:"methodology"`
	Metrics       consensus.Metrics      `json:"metrics"`
	QualityFlags  consensus.QualityFlags `json:"qualityFlags"`
	TransactionID string                 `json:"transactionId"`
	// HistoryRef points at the message log of the deliberation.
	HistoryRef   string    `json:"historyRef"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HistoryRef returns the message-log reference stored on a decision.
func HistoryRef(contractID string) string {
	return "messages:" + contractID
}

// ContractStore persists contracts.
type ContractStore interface {
	FindByID(ctx context.Context, id string) (*contract.Contract, error)
	// FindReadyForDecision returns closed contracts whose betting window
	// ended at or before now.
	FindReadyForDecision(ctx context.Context, now time.Time) ([]*contract.Contract, error)
	Save(ctx context.Context, c *contract.Contract) error
	Update(ctx context.Context, c *contract.Contract) error
	// UpdateIfStatus writes c only while the stored status is still from.
	// Otherwise it returns an error wrapping ErrConcurrencyConflict and
	// leaves the stored contract alone.
	UpdateIfStatus(ctx context.Context, c *contract.Contract, from contract.Status) error
}

// DecisionStore persists decisions, at most one per contract.
type DecisionStore interface {
	// FindByContractID returns (nil, nil) when the contract is undecided.
	FindByContractID(ctx context.Context, contractID string) (*Decision, error)
	Save(ctx context.Context, d *Decision) error
}

// MessageStore keeps the audit trail of every deliberation.
type MessageStore interface {
	Append(ctx context.Context, msg event.Message) error
	// List returns messages in emission order. Content is json.RawMessage.
	List(ctx context.Context, contractID string) ([]event.Message, error)
}

// Stores bundles the three stores of one backend.
type Stores struct {
	Contracts ContractStore
	Decisions DecisionStore
	Messages  MessageStore

	close func() error
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open returns the stores for driver.
func Open(ctx context.Context, driver, dsn string) (*Stores, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, errors.NewValidationError("unknown store driver").WithField("store.driver").WithValue(driver)
	}
}

func notFoundContract(id string) error {
	return errors.NewNotFoundError("contract", id).WithCause(errors.ErrContractNotFound)
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errors.ErrPersistenceFailure, err)
}

func statusConflict(id string, from, got contract.Status) error {
	return errors.Wrapf(errors.ErrConcurrencyConflict, "contract %s is %s, expected %s", id, got, from)
}

func duplicateDecision(contractID string) error {
	return errors.Wrapf(errors.ErrAlreadyDecided, "decision for contract %s", contractID)
}
