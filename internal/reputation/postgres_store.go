package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reputation tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS receiver_reputation (
		receiver_id TEXT PRIMARY KEY,
		total_reports INT NOT NULL DEFAULT 0,
		fraud_reports INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS receiver_flags (
		user_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, receiver_id)
	);`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate reputation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, receiverID string) (*Receiver, error) {
	r := &Receiver{}
	err := s.db.QueryRowContext(ctx, `
		SELECT receiver_id, total_reports, fraud_reports, updated_at
		FROM receiver_reputation WHERE receiver_id = $1`, receiverID).
		Scan(&r.ID, &r.TotalReports, &r.FraudReports, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receiver reputation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Report(ctx context.Context, receiverID string, fraud bool, at time.Time) (*Receiver, error) {
	fraudInc := 0
	if fraud {
		fraudInc = 1
	}
	r := &Receiver{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO receiver_reputation (receiver_id, total_reports, fraud_reports, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (receiver_id) DO UPDATE SET
			total_reports = receiver_reputation.total_reports + 1,
			fraud_reports = receiver_reputation.fraud_reports + $2,
			updated_at = $3
		RETURNING receiver_id, total_reports, fraud_reports, updated_at`,
		receiverID, fraudInc, at).
		Scan(&r.ID, &r.TotalReports, &r.FraudReports, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("report receiver: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) AddFlag(ctx context.Context, f *Flag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receiver_flags (user_id, receiver_id, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, receiver_id) DO NOTHING`,
		f.UserID, f.ReceiverID, f.Reason, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("add flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFlag(ctx context.Context, userID, receiverID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM receiver_flags WHERE user_id = $1 AND receiver_id = $2`,
		userID, receiverID)
	if err != nil {
		return fmt.Errorf("remove flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasFlag(ctx context.Context, userID, receiverID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM receiver_flags WHERE user_id = $1 AND receiver_id = $2
		)`, userID, receiverID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has flag: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListFlags(ctx context.Context, userID string) ([]*Flag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, receiver_id, reason, created_at
		FROM receiver_flags WHERE user_id = $1
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var out []*Flag
	for rows.Next() {
		f := &Flag{}
		if err := rows.Scan(&f.UserID, &f.ReceiverID, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
