package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		note TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_pair ON transactions(sender_id, receiver_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS risk_events (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		final_score DOUBLE PRECISION NOT NULL,
		action TEXT NOT NULL,
		user_score INT NOT NULL,
		amount_score INT NOT NULL,
		receiver_score INT NOT NULL,
		flags TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_risk_events_sender ON risk_events(sender_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS pair_history (
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		payment_count INT NOT NULL DEFAULT 0,
		last_paid_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (sender_id, receiver_id)
	);`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, t *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, sender_id, receiver_id, amount, note, device_id, status,
			risk_score, risk_level, action, lat, lon, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.SenderID, t.ReceiverID, t.Amount.String(), t.Note, t.DeviceID, t.Status,
		t.RiskScore, t.RiskLevel, t.Action, t.Lat, t.Lon, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const txnColumns = `id, sender_id, receiver_id, amount, note, device_id, status,
	risk_score, risk_level, action, lat, lon, created_at`

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, since time.Time) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE sender_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`, senderID, since)
	if err != nil {
		return nil, fmt.Errorf("list by sender: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListByPair(ctx context.Context, senderID, receiverID string) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE sender_id = $1 AND receiver_id = $2
		ORDER BY created_at ASC`, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("list by pair: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) LastBySender(ctx context.Context, senderID string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE sender_id = $1
		ORDER BY created_at DESC LIMIT 1`, senderID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *RiskEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (id, sender_id, transaction_id, final_score, action,
			user_score, amount_score, receiver_score, flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.SenderID, ev.TransactionID, ev.FinalScore, ev.Action,
		ev.UserScore, ev.AmountScore, ev.ReceiverScore, pq.Array(ev.Flags), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record risk event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPair(ctx context.Context, senderID, receiverID string) (*PairRecord, error) {
	p := &PairRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT sender_id, receiver_id, payment_count, last_paid_at
		FROM pair_history WHERE sender_id = $1 AND receiver_id = $2`,
		senderID, receiverID).
		Scan(&p.SenderID, &p.ReceiverID, &p.PaymentCount, &p.LastPaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) BumpPair(ctx context.Context, senderID, receiverID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pair_history (sender_id, receiver_id, payment_count, last_paid_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (sender_id, receiver_id) DO UPDATE SET
			payment_count = pair_history.payment_count + 1,
			last_paid_at = GREATEST(pair_history.last_paid_at, EXCLUDED.last_paid_at)`,
		senderID, receiverID, at)
	if err != nil {
		return fmt.Errorf("bump pair: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var amount string
	err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &amount, &t.Note, &t.DeviceID, &t.Status,
		&t.RiskScore, &t.RiskLevel, &t.Action, &t.Lat, &t.Lon, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
