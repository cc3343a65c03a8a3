package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversation_history (
	user_id    BIGINT PRIMARY KEY,
	turns      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to database: %w", ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %w", ErrStorage, err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ensure schema: %w", ErrStorage, err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, userID int64) (History, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT turns FROM conversation_history WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: select %d: %w", ErrStorage, userID, err)
	}
	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, false, fmt.Errorf("%w: decode %d: %w", ErrStorage, userID, err)
	}
	return h, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, userID int64, h History) error {
	if h == nil {
		h = History{}
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("%w: encode %d: %w", ErrStorage, userID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_history (user_id, turns, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET turns = EXCLUDED.turns, updated_at = now()`,
		userID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %d: %w", ErrStorage, userID, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
