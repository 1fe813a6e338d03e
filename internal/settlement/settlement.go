// Package settlement commits decided winners to a ledger.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// Service submits a winner for a contract and returns a transaction
// reference. Rejections are reported as *errors.SettlementError.
type Service interface {
	DeclareWinner(ctx context.Context, contractID, winnerID string) (string, error)
}

// Entry is one tamper-evident ledger record.
type Entry struct {
	Seq           uint64    `json:"seq"`
	TransactionID string    `json:"transaction_id"`
	ContractID    string    `json:"contract_id"`
	WinnerID      string    `json:"winner_id"`
	Timestamp     time.Time `json:"timestamp"`
	PreviousHash  string    `json:"previous_hash"`
	// Hash is the SHA-256 digest of every other field.
	Hash string `json:"hash"`
}

// Ledger is an in-process append-only hash chain of winner declarations.
// A contract can be declared once.
type Ledger struct {
	mu         sync.RWMutex
	entries    []Entry
	byContract map[string]int
	now        func() time.Time
	logger     *logging.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) { l.logger = logging.OrNop(logger) }
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		byContract: make(map[string]int),
		now:        time.Now,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DeclareWinner appends a declaration. A second declaration for the same
// contract fails with reason stale_state.
func (l *Ledger) DeclareWinner(ctx context.Context, contractID, winnerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewSettlementError(errors.SettlementNetwork, err).WithContractID(contractID)
	}
	if contractID == "" || winnerID == "" {
		return "", errors.NewSettlementError(errors.SettlementRejected,
			errors.NewValidationError("contract and winner are required")).WithContractID(contractID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byContract[contractID]; ok {
		return "", errors.NewSettlementError(errors.SettlementStaleState,
			fmt.Errorf("already settled in %s", l.entries[i].TransactionID)).WithContractID(contractID)
	}

	entry := Entry{
		Seq:           uint64(len(l.entries)) + 1,
		TransactionID: "tx_" + uuid.NewString(),
		ContractID:    contractID,
		WinnerID:      winnerID,
		Timestamp:     l.now().UTC(),
	}
	if n := len(l.entries); n > 0 {
		entry.PreviousHash = l.entries[n-1].Hash
	}
	hash, err := computeEntryHash(&entry)
	if err != nil {
		return "", errors.NewSettlementError(errors.SettlementRejected, err).WithContractID(contractID)
	}
	entry.Hash = hash

	l.byContract[contractID] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.logger.WithContract(contractID).Info("winner declared", "winner_id", winnerID, "transaction_id", entry.TransactionID)
	return entry.TransactionID, nil
}

// Lookup returns the entry settling contractID.
func (l *Ledger) Lookup(contractID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byContract[contractID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy of the chain.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Verify checks every link and every entry hash.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

func verifyChain(entries []Entry) error {
	for i := range entries {
		e := entries[i]
		want := ""
		if i > 0 {
			want = entries[i-1].Hash
		}
		if e.PreviousHash != want {
			return fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
		}
		hash, err := computeEntryHash(&e)
		if err != nil {
			return fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if hash != e.Hash {
			return fmt.Errorf("integrity failure at index %d: computed %s, stored %s", i, hash, e.Hash)
		}
	}
	return nil
}

func computeEntryHash(e *Entry) (string, error) {
	data, err := json.Marshal(struct {
		Seq           uint64    `json:"seq"`
		TransactionID string    `json:"transaction_id"`
		ContractID    string    `json:"contract_id"`
		WinnerID      string    `json:"winner_id"`
		Timestamp     time.Time `json:"timestamp"`
		PreviousHash  string    `json:"previous_hash"`
	}{e.Seq, e.TransactionID, e.ContractID, e.WinnerID, e.Timestamp, e.PreviousHash})
	if err != nil {
		return "", err
	}
	// Hash the RFC 8785 canonical form so the chain verifies independently
	// of field order in the encoder.
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
