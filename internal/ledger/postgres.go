package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	tokens_used BIGINT NOT NULL,
	cost DOUBLE PRECISION NOT NULL,
	success BOOLEAN NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_user_ts ON usage_records(user_id, ts);
`

// PostgresStore persists usage records in Postgres, for deployments where
// multiple instances share one ledger.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (user_id, ts, endpoint, model, prompt_tokens, completion_tokens, tokens_used, cost, success, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.UserID, r.Timestamp, r.Endpoint, r.Model,
		r.PromptTokens, r.CompletionTokens, r.TokensUsed, r.Cost,
		r.Success, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Since(ctx context.Context, userID string, since time.Time) ([]Record, error) {
	query := `SELECT user_id, ts, endpoint, model, prompt_tokens, completion_tokens,
	                 tokens_used, cost, success::int, error_message
	          FROM usage_records WHERE ts >= $1`
	args := []any{since}
	if userID != "" {
		query += ` AND user_id = $2`
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
