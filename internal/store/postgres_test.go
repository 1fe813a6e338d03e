package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
)

var contractCols = []string{
	"id", "status", "betting_end_time", "party_a_id", "party_a_name", "party_a_description",
	"party_b_id", "party_b_name", "party_b_description", "winner_id", "created_at", "updated_at",
}

func newMockPostgres(t *testing.T) (*Stores, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db), mock
}

func TestDialect_Bind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, sqliteDialect.bind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", postgresDialect.bind(q))
}

func TestPostgres_FindByID(t *testing.T) {
	s, mock := newMockPostgres(t)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT id, status, .+ FROM contracts WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(contractCols).
			AddRow("c-1", "BETTING_CLOSED", end, "party-a", "Alice", "", "party-b", "Bob", "", "", end, end))

	c, err := s.Contracts.FindByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, contract.StatusBettingClosed, c.Status)
	assert.Equal(t, "Alice", c.PartyA.Name)
	assert.True(t, c.BettingEndTime.Equal(end))

	mock.ExpectQuery(`(?s)SELECT .+ FROM contracts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(contractCols))

	_, err = s.Contracts.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrContractNotFound)
}

func TestPostgres_FindReadyForDecision(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM contracts WHERE status = \$1 AND betting_end_time <= \$2 ORDER BY betting_end_time, id`).
		WithArgs("BETTING_CLOSED", now).
		WillReturnRows(sqlmock.NewRows(contractCols).
			AddRow("c-1", "BETTING_CLOSED", now.Add(-time.Hour), "a", "A", "", "b", "B", "", "", now, now).
			AddRow("c-2", "BETTING_CLOSED", now, "a", "A", "", "b", "B", "", "", now, now))

	ready, err := s.Contracts.FindReadyForDecision(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "c-1", ready[0].ID)
}

func TestPostgres_UpdateMissing(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`(?s)UPDATE contracts SET status = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := &contract.Contract{ID: "ghost", Status: contract.StatusDecided}
	err := s.Contracts.Update(context.Background(), c)
	assert.ErrorIs(t, err, errors.ErrContractNotFound)
}

func TestPostgres_UpdateIfStatusConflict(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)UPDATE contracts SET status = \$1.+WHERE id = \$11 AND status = \$12`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`(?s)SELECT .+ FROM contracts WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(contractCols).
			AddRow("c-1", "DECIDED", now, "party-a", "Alice", "", "party-b", "Bob", "", "party-a", now, now))

	c := &contract.Contract{ID: "c-1", Status: contract.StatusBettingClosed}
	err := s.Contracts.UpdateIfStatus(context.Background(), c, contract.StatusBettingOpen)
	assert.ErrorIs(t, err, errors.ErrConcurrencyConflict)
}

func TestPostgres_SaveDecisionConflict(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO decisions`).
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key value violates unique constraint"})

	err := s.Decisions.Save(context.Background(), &Decision{ID: "d-2", ContractID: "c-1", WinnerID: "party-a"})
	assert.ErrorIs(t, err, errors.ErrAlreadyDecided)
}

func TestPostgres_SaveDecisionFailure(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO decisions`).
		WillReturnError(sqlmock.ErrCancelled)

	err := s.Decisions.Save(context.Background(), &Decision{ID: "d-1", ContractID: "c-1"})
	assert.ErrorIs(t, err, errors.ErrPersistenceFailure)
	assert.NotErrorIs(t, err, errors.ErrAlreadyDecided)
}

func TestPostgres_FindDecisionUndecided(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`(?s)FROM decisions WHERE contract_id = \$1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	d, err := s.Decisions.FindByContractID(context.Background(), "c-1")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestPostgres_Messages(t *testing.T) {
	s, mock := newMockPostgres(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT INTO messages .+ ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("m-1", "c-1", int64(1), "proposing", "progress", "", "", `{"status":"started","message":"go"}`, sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Messages.Append(context.Background(), event.Message{
		ID: "m-1", ContractID: "c-1", Seq: 1, Phase: event.PhaseProposing, MessageType: event.TypeProgress,
		Content: event.Progress{Status: "started", Message: "go"}, Metadata: event.Metadata{Timestamp: ts},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)FROM messages WHERE contract_id = \$1 ORDER BY created_at, seq`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "contract_id", "seq", "phase", "message_type", "agent_id", "agent_name", "content", "metadata"}).
			AddRow("m-1", "c-1", int64(1), "proposing", "progress", "", "", []byte(`{"status":"started"}`), []byte(`{"timestamp":"2026-03-01T12:00:00Z"}`)))

	msgs, err := s.Messages.List(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(1), msgs[0].Seq)
	assert.Equal(t, event.TypeProgress, msgs[0].MessageType)
	assert.True(t, msgs[0].Metadata.Timestamp.Equal(ts))
}
