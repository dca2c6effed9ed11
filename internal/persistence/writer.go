package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"

	"github.com/google/uuid"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Stream         string
	SourceSequence int64
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	OpTimestamp    int64 // operation timestamp, unix seconds
	Rejection      sql.NullString
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string // NUMERIC(78,0)
	JournalType   string
	EntityRef     string
	PoolID        int64
	Counterparty  sql.NullString
	Timestamp     int64
}

// Rows is everything one core output writes to the event log.
type Rows struct {
	Event    EventRow
	Journals []JournalRow
}

// FromCoreOutput flattens a core output into event log rows.
func FromCoreOutput(out core.CoreOutput) Rows {
	env := out.Envelope
	rows := Rows{Event: EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Stream:         env.Stream,
		SourceSequence: env.SourceSequence,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		OpTimestamp:    int64(env.Timestamp),
		Rejection:      sql.NullString{String: env.Rejection, Valid: env.Rejection != ""},
	}}
	if out.Batch == nil {
		return rows
	}
	for _, j := range out.Batch.Journals {
		jr := JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount.String(),
			JournalType:   j.JournalType.String(),
			EntityRef:     j.EntityRef.String(),
			PoolID:        int64(j.PoolID),
			Timestamp:     j.Timestamp,
		}
		if j.Counterparty != uuid.Nil {
			jr.Counterparty = sql.NullString{String: j.Counterparty.String(), Valid: true}
		}
		rows.Journals = append(rows.Journals, jr)
	}
	return rows
}

// Envelope rebuilds the logged envelope for replay.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	et, ok := event.ParseEventType(e.EventType)
	if !ok {
		return nil, fmt.Errorf("event %d: unknown type %q", e.Sequence, e.EventType)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: malformed hashes", e.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      et,
		Stream:         e.Stream,
		Timestamp:      uint64(e.OpTimestamp),
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
		Rejection:      e.Rejection.String,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, x execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, stream, source_sequence, payload, state_hash, prev_hash, op_timestamp, rejection)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Stream, e.SourceSequence,
			string(e.Payload), // JSONB binds from text, not bytea
			e.StateHash, e.PrevHash, e.OpTimestamp, e.Rejection,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := x.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, x execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 13
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount,
		 journal_type, entity_ref, pool_id, counterparty, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.EntityRef, j.PoolID, j.Counterparty, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := x.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}

// latestSequence returns the highest logged sequence, or -1 when empty.
func latestSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
