package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/spyglass/api/schemas"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists the interaction log to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const insertInteractionSQL = `
        INSERT INTO interactions (id, session_key, kind, url, x, y, delta_y, text_len, duration_ms, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

// Record inserts a single interaction row. An empty ID is filled in here so
// callers only describe what happened.
func (s *Store) Record(ctx context.Context, in schemas.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, insertInteractionSQL,
		in.ID, in.SessionKey, string(in.Kind), in.URL,
		in.X, in.Y, in.DeltaY, in.TextLen,
		in.Duration, in.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction %s: %w", in.ID, err)
	}
	return nil
}

// Recent returns the newest interactions for a session, newest first.
func (s *Store) Recent(ctx context.Context, sessionKey string, limit int) ([]schemas.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
        SELECT id, session_key, kind, url, x, y, delta_y, text_len, duration_ms, occurred_at
        FROM interactions
        WHERE session_key = $1
        ORDER BY occurred_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var interactions []schemas.Interaction
	for rows.Next() {
		var in schemas.Interaction
		var kind string

		err := rows.Scan(
			&in.ID, &in.SessionKey, &kind, &in.URL,
			&in.X, &in.Y, &in.DeltaY, &in.TextLen,
			&in.Duration, &in.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}

		in.Kind = schemas.ActionKind(kind)
		interactions = append(interactions, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return interactions, nil
}
