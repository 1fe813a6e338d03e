// Package contract defines the binary-outcome agreement the committee settles
// and the invariants around declaring its winner.
package contract

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusCreated       Status = "CREATED"
	StatusBettingOpen   Status = "BETTING_OPEN"
	StatusBettingClosed Status = "BETTING_CLOSED"
	StatusDecided       Status = "DECIDED"
	StatusDistributed   Status = "DISTRIBUTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusBettingOpen, StatusBettingClosed, StatusDecided, StatusDistributed:
		return true
	}
	return false
}

// Party is one side of a contract.
type Party struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Contract is a binary-outcome agreement between two parties.
type Contract struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	BettingEndTime time.Time `json:"bettingEndTime"`
	PartyA         Party     `json:"partyA"`
	PartyB         Party     `json:"partyB"`
	WinnerID       string    `json:"winnerId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasParty reports whether id names one of the two parties.
func (c *Contract) HasParty(id string) bool {
	return id != "" && (id == c.PartyA.ID || id == c.PartyB.ID)
}

// Party returns the party with the given id.
func (c *Contract) Party(id string) (Party, bool) {
	switch id {
	case c.PartyA.ID:
		return c.PartyA, true
	case c.PartyB.ID:
		return c.PartyB, true
	}
	return Party{}, false
}

// ReadyForDecision returns nil when the contract may be decided at now:
// betting is closed and the betting window has elapsed.
func (c *Contract) ReadyForDecision(now time.Time) error {
	if c.Status != StatusBettingClosed {
		return errors.NewDeliberationError(
			fmt.Sprintf("status is %s, want %s", c.Status, StatusBettingClosed), errors.ErrNotReady,
		).WithContractID(c.ID)
	}
	if now.Before(c.BettingEndTime) {
		return errors.NewDeliberationError(
			fmt.Sprintf("betting ends at %s", c.BettingEndTime.UTC().Format(time.RFC3339)), errors.ErrNotReady,
		).WithContractID(c.ID)
	}
	return nil
}

// DeclareWinner records winnerID and moves the contract to DECIDED.
// The contract is left untouched on error.
func (c *Contract) DeclareWinner(winnerID string, now time.Time) error {
	if err := c.ReadyForDecision(now); err != nil {
		return err
	}
	if !c.HasParty(winnerID) {
		return errors.NewValidationError("winner is not a party to the contract").
			WithField("winnerId").WithValue(winnerID)
	}
	c.WinnerID = winnerID
	c.Status = StatusDecided
	c.UpdatedAt = now
	return nil
}

// CloseBetting ends betting at now. An open contract moves to
// BETTING_CLOSED; a closed one has a later end time pulled in to now.
// changed is false when the contract already ended, so callers can skip
// writing it back.
func (c *Contract) CloseBetting(now time.Time) (changed bool, err error) {
	switch c.Status {
	case StatusCreated, StatusBettingOpen:
		c.Status = StatusBettingClosed
	case StatusBettingClosed:
		if !c.BettingEndTime.After(now) {
			return false, nil
		}
	default:
		return false, errors.NewValidationError("contract already decided").
			WithField("status").WithValue(c.Status)
	}
	if c.BettingEndTime.After(now) {
		c.BettingEndTime = now
	}
	c.UpdatedAt = now
	return true, nil
}

// Validate checks the structural invariants of the contract.
func (c *Contract) Validate() error {
	if c.ID == "" {
		return errors.NewValidationError("id is required").WithField("id")
	}
	if !c.Status.Valid() {
		return errors.NewValidationError("unknown status").WithField("status").WithValue(c.Status)
	}
	if c.PartyA.ID == "" || c.PartyB.ID == "" {
		return errors.NewValidationError("both parties need an id").WithField("parties")
	}
	if c.PartyA.ID == c.PartyB.ID {
		return errors.NewValidationError("parties must differ").WithField("parties").WithValue(c.PartyA.ID)
	}
	if c.WinnerID != "" {
		if !c.HasParty(c.WinnerID) {
			return errors.NewValidationError("winner is not a party to the contract").
				WithField("winnerId").WithValue(c.WinnerID)
		}
		if c.Status != StatusDecided && c.Status != StatusDistributed {
			return errors.NewValidationError("winner set before decision").
				WithField("status").WithValue(c.Status)
		}
	}
	return nil
}
