package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStore keeps everything in postgres, it is used when the process
// is given a DATABASE_URL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func wrapOpenPostgres(err error) error {
	return fmt.Errorf("open postgres store: %w", err)
}

func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, wrapOpenPostgres(err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapOpenPostgres(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapOpenPostgres(err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, wrapOpenPostgres(err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) LoadCredentials(ctx context.Context) (Credentials, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM credentials WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	var creds Credentials
	err = json.Unmarshal(data, &creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

func (s *PostgresStore) SaveCredentials(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO credentials (id, data, saved_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at
	`, data, creds.SavedAt)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (json.RawMessage, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snapshot json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, data, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, []byte(snapshot))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordDecision(ctx context.Context, d Decision) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_logs
		(withdrawal_id, action, reason, username, amount, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.WithdrawalID, string(d.Action), d.Reason, d.Username, d.Amount, d.Success, d.Error, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	query := `
		SELECT id, withdrawal_id, action, reason, username, amount, success, error, created_at
		FROM withdrawal_logs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	out := []Decision{}
	for rows.Next() {
		var d Decision
		var action string
		err := rows.Scan(
			&d.ID, &d.WithdrawalID, &action, &d.Reason, &d.Username, &d.Amount,
			&d.Success, &d.Error, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("list decisions: %w", err)
		}
		d.Action = DecisionAction(action)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
