package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/consensus"
	"github.com/Iron-Ham/arbiter/internal/contract"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	timeArg  func(time.Time) any
	isUnique func(error) bool
}

// bind rewrites ? placeholders for the dialect.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func newSQLStores(db *sql.DB, d dialect) *Stores {
	return &Stores{
		Contracts: &SQLContracts{db: db, d: d},
		Decisions: &SQLDecisions{db: db, d: d},
		Messages:  &SQLMessages{db: db, d: d},
		close:     db.Close,
	}
}

func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return persistErr("migrate "+d.name, err)
	}
	return nil
}

// parseTime accepts what either driver hands back for a timestamp column.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const contractColumns = `id, status, betting_end_time, party_a_id, party_a_name, party_a_description,
	party_b_id, party_b_name, party_b_description, winner_id, created_at, updated_at`

// SQLContracts is a ContractStore over database/sql.
type SQLContracts struct {
	db *sql.DB
	d  dialect
}

func (s *SQLContracts) FindByID(ctx context.Context, id string) (*contract.Contract, error) {
	row := s.db.QueryRowContext(ctx, s.d.bind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, notFoundContract(id)
	}
	if err != nil {
		return nil, persistErr("find contract", err)
	}
	return c, nil
}

func (s *SQLContracts) FindReadyForDecision(ctx context.Context, now time.Time) ([]*contract.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		s.d.bind(`SELECT `+contractColumns+` FROM contracts WHERE status = ? AND betting_end_time <= ? ORDER BY betting_end_time, id`),
		string(contract.StatusBettingClosed), s.d.timeArg(now))
	if err != nil {
		return nil, persistErr("find ready contracts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contract.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, persistErr("scan contract", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("find ready contracts", err)
	}
	return out, nil
}

func (s *SQLContracts) Save(ctx context.Context, c *contract.Contract) error {
	_, err := s.db.ExecContext(ctx, s.d.bind(`INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, string(c.Status), s.d.timeArg(c.BettingEndTime),
		c.PartyA.ID, c.PartyA.Name, c.PartyA.Description,
		c.PartyB.ID, c.PartyB.Name, c.PartyB.Description,
		c.WinnerID, s.d.timeArg(c.CreatedAt), s.d.timeArg(c.UpdatedAt))
	if err != nil {
		if s.d.isUnique(err) {
			return errors.NewValidationError("contract already exists").WithField("id").WithValue(c.ID).WithCause(err)
		}
		return persistErr("save contract", err)
	}
	return nil
}

func (s *SQLContracts) Update(ctx context.Context, c *contract.Contract) error {
	return s.update(ctx, c, "")
}

func (s *SQLContracts) UpdateIfStatus(ctx context.Context, c *contract.Contract, from contract.Status) error {
	return s.update(ctx, c, from)
}

// update writes c, guarded on the stored status when from is set.
func (s *SQLContracts) update(ctx context.Context, c *contract.Contract, from contract.Status) error {
	query := `UPDATE contracts SET status = ?, betting_end_time = ?,
		party_a_id = ?, party_a_name = ?, party_a_description = ?,
		party_b_id = ?, party_b_name = ?, party_b_description = ?,
		winner_id = ?, updated_at = ? WHERE id = ?`
	args := []any{
		string(c.Status), s.d.timeArg(c.BettingEndTime),
		c.PartyA.ID, c.PartyA.Name, c.PartyA.Description,
		c.PartyB.ID, c.PartyB.Name, c.PartyB.Description,
		c.WinnerID, s.d.timeArg(c.UpdatedAt), c.ID,
	}
	if from != "" {
		query += ` AND status = ?`
		args = append(args, string(from))
	}

	res, err := s.db.ExecContext(ctx, s.d.bind(query), args...)
	if err != nil {
		return persistErr("update contract", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update contract", err)
	}
	if n > 0 {
		return nil
	}
	if from == "" {
		return notFoundContract(c.ID)
	}
	stored, err := s.FindByID(ctx, c.ID)
	if err != nil {
		return err
	}
	return statusConflict(c.ID, from, stored.Status)
}

func scanContract(row rowScanner) (*contract.Contract, error) {
	var (
		c                     contract.Contract
		status                string
		end, created, updated any
	)
	err := row.Scan(&c.ID, &status, &end,
		&c.PartyA.ID, &c.PartyA.Name, &c.PartyA.Description,
		&c.PartyB.ID, &c.PartyB.Name, &c.PartyB.Description,
		&c.WinnerID, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = contract.Status(status)
	if c.BettingEndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

const decisionColumns = `id, contract_id, winner_id, confidence, reasoning, methodology, evidence,
	metrics, quality_flags, transaction_id, history_ref, message_count, created_at`

// SQLDecisions is a DecisionStore over database/sql. contract_id is unique.
type SQLDecisions struct {
	db *sql.DB
	d  dialect
}

func (s *SQLDecisions) FindByContractID(ctx context.Context, contractID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, s.d.bind(`SELECT `+decisionColumns+` FROM decisions WHERE contract_id = ?`), contractID)

	var (
		d                              Decision
		methodology                    string
		evidence, metrics, qualityFlag []byte
		created                        any
	)
	err := row.Scan(&d.ID, &d.ContractID, &d.WinnerID, &d.Confidence, &d.Reasoning, &methodology,
		&evidence, &metrics, &qualityFlag, &d.TransactionID, &d.HistoryRef, &d.MessageCount, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find decision", err)
	}
	d.Methodology = consensus.Methodology(methodology)
	if err := unmarshalAll(
		field{evidence, &d.Evidence},
		field{metrics, &d.Metrics},
		field{qualityFlag, &d.QualityFlags},
	); err != nil {
		return nil, persistErr("decode decision", err)
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, persistErr("decode decision", err)
	}
	return &d, nil
}

func (s *SQLDecisions) Save(ctx context.Context, d *Decision) error {
	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return persistErr("encode evidence", err)
	}
	metrics, err := json.Marshal(d.Metrics)
	if err != nil {
		return persistErr("encode metrics", err)
	}
	flags, err := json.Marshal(d.QualityFlags)
	if err != nil {
		return persistErr("encode quality flags", err)
	}

	_, err = s.db.ExecContext(ctx, s.d.bind(`INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.ContractID, d.WinnerID, d.Confidence, d.Reasoning, string(d.Methodology),
		string(evidence), string(metrics), string(flags),
		d.TransactionID, d.HistoryRef, d.MessageCount, s.d.timeArg(d.CreatedAt))
	if err != nil {
		if s.d.isUnique(err) {
			return duplicateDecision(d.ContractID)
		}
		return persistErr("save decision", err)
	}
	return nil
}

// SQLMessages is a MessageStore over database/sql.
type SQLMessages struct {
	db *sql.DB
	d  dialect
}

// Append is idempotent on the message id.
func (s *SQLMessages) Append(ctx context.Context, msg event.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return persistErr("encode message content", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return persistErr("encode message metadata", err)
	}
	_, err = s.db.ExecContext(ctx, s.d.bind(`INSERT INTO messages
		(id, contract_id, seq, phase, message_type, agent_id, agent_name, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		msg.ID, msg.ContractID, int64(msg.Seq), string(msg.Phase), string(msg.MessageType),
		msg.AgentID, msg.AgentName, string(content), string(metadata), s.d.timeArg(msg.Metadata.Timestamp))
	if err != nil {
		return persistErr("append message", err)
	}
	return nil
}

func (s *SQLMessages) List(ctx context.Context, contractID string) ([]event.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.d.bind(`SELECT id, contract_id, seq, phase, message_type, agent_id, agent_name, content, metadata
		FROM messages WHERE contract_id = ? ORDER BY created_at, seq`), contractID)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []event.Message
	for rows.Next() {
		var (
			m                 event.Message
			seq               int64
			phase, msgType    string
			content, metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.ContractID, &seq, &phase, &msgType, &m.AgentID, &m.AgentName, &content, &metadata); err != nil {
			return nil, persistErr("scan message", err)
		}
		m.Seq = uint64(seq)
		m.Phase = event.Phase(phase)
		m.MessageType = event.MessageType(msgType)
		m.Content = json.RawMessage(content)
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, persistErr("decode message metadata", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list messages", err)
	}
	return out, nil
}

type field struct {
	raw  []byte
	dest any
}

func unmarshalAll(fields ...field) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return err
		}
	}
	return nil
}
