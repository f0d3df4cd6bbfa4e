package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL,
	cost REAL NOT NULL,
	success INTEGER NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_user_ts ON usage_records(user_id, ts);
`

// SQLiteStore persists usage records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "estiguard.db"
	}
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (user_id, ts, endpoint, model, prompt_tokens, completion_tokens, tokens_used, cost, success, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Timestamp, r.Endpoint, r.Model,
		r.PromptTokens, r.CompletionTokens, r.TokensUsed, r.Cost,
		boolToInt(r.Success), r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Since(ctx context.Context, userID string, since time.Time) ([]Record, error) {
	query := `SELECT user_id, ts, endpoint, model, prompt_tokens, completion_tokens,
	                 tokens_used, cost, success, error_message
	          FROM usage_records WHERE ts >= ?`
	args := []any{since}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&r.UserID, &r.Timestamp, &r.Endpoint, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &r.TokensUsed, &r.Cost,
			&success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.Success = success != 0
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
