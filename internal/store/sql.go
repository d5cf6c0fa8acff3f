package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// SQLStore keeps everything in a sqlite database, either a local file
// (modernc) or a remote libsql database.
type SQLStore struct {
	db *sql.DB
}

func wrapOpenSQL(err error) error {
	return fmt.Errorf("open sql store: %w", err)
}

// OpenSQLite opens (creating it if necessary) the sqlite database at path
// and applies the schema, path may be ":memory:".
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpenSQL(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenSQL(err)
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, wrapOpenSQL(err)
		}
	}

	err = migrate(ctx, db, goose.DialectSQLite3, "sqlite")
	if err != nil {
		db.Close()
		return nil, wrapOpenSQL(err)
	}
	return &SQLStore{db: db}, nil
}

// OpenLibsql opens a remote libsql database.
func OpenLibsql(ctx context.Context, dbUrl, authToken string) (*SQLStore, error) {
	values := url.Values{}
	if authToken != "" {
		values.Add("authToken", authToken)
	}
	dsn := dbUrl
	if len(values) > 0 {
		dsn += "?" + values.Encode()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, wrapOpenSQL(err)
	}
	err = migrate(ctx, db, goose.DialectTurso, "sqlite")
	if err != nil {
		db.Close()
		return nil, wrapOpenSQL(err)
	}
	return &SQLStore{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLStore) LoadCredentials(ctx context.Context) (Credentials, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM credentials WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	var creds Credentials
	err = json.Unmarshal([]byte(data), &creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

func (s *SQLStore) SaveCredentials(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO credentials (id, data, saved_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		string(data), formatTime(creds.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadSnapshot(ctx context.Context) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, snapshot json.RawMessage) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO snapshots (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(snapshot), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordDecision(ctx context.Context, d Decision) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO withdrawal_logs
		(withdrawal_id, action, reason, username, amount, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.WithdrawalID, string(d.Action), d.Reason, d.Username, d.Amount,
		d.Success, d.Error, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *SQLStore) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, withdrawal_id, action, reason, username, amount, success, error, created_at
		FROM withdrawal_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	out := []Decision{}
	for rows.Next() {
		var d Decision
		var action, createdAt string
		err := rows.Scan(
			&d.ID, &d.WithdrawalID, &action, &d.Reason, &d.Username, &d.Amount,
			&d.Success, &d.Error, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("list decisions: %w", err)
		}
		d.Action = DecisionAction(action)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
