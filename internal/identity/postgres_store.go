package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(64) PRIMARY KEY,
			full_name     TEXT NOT NULL DEFAULT '',
			trust_score   NUMERIC(4,3) NOT NULL DEFAULT 0.5 CHECK (trust_score >= 0 AND trust_score <= 1),
			known_devices JSONB NOT NULL DEFAULT '[]',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	var devicesJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, trust_score, known_devices, created_at
		FROM users WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.TrustScore, &devicesJSON, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	_ = json.Unmarshal(devicesJSON, &p.KnownDevices)
	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Profile) error {
	devicesJSON, err := json.Marshal(p.KnownDevices)
	if err != nil {
		return fmt.Errorf("failed to marshal devices: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, trust_score, known_devices)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.FullName, clampTrust(p.TrustScore), devicesJSON)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) AdjustTrust(ctx context.Context, id string, delta float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET trust_score = LEAST(1.0, GREATEST(0.0, trust_score + $2))
		WHERE id = $1
	`, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust trust: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddDevice(ctx context.Context, id, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET known_devices = CASE
			WHEN known_devices ? $2 THEN known_devices
			ELSE known_devices || to_jsonb($2::text)
		END
		WHERE id = $1
	`, id, deviceID)
	if err != nil {
		return fmt.Errorf("failed to add device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
