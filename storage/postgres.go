package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the checkpoint table used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS ctxbudget_checkpoints (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	session_id          TEXT NOT NULL,
	task_id             TEXT NOT NULL DEFAULT '',
	phase               TEXT NOT NULL DEFAULT '',
	type                TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	total_tokens        INTEGER NOT NULL,
	system_tokens       INTEGER NOT NULL,
	conversation_tokens INTEGER NOT NULL,
	tool_tokens         INTEGER NOT NULL,
	optimized           BOOLEAN NOT NULL DEFAULT FALSE,
	strategy            TEXT NOT NULL DEFAULT '',
	original_tokens     INTEGER NOT NULL DEFAULT 0,
	active_files        TEXT[] NOT NULL DEFAULT '{}',
	tool_cache          JSONB,
	snapshot            BYTEA,
	parent_id           TEXT,
	delta               BYTEA,
	depth               INTEGER NOT NULL DEFAULT 0,
	metadata            JSONB
);
CREATE INDEX IF NOT EXISTS ctxbudget_checkpoints_session_idx
	ON ctxbudget_checkpoints (session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS ctxbudget_checkpoints_parent_idx
	ON ctxbudget_checkpoints (parent_id);
`

const checkpointColumns = `id, name, session_id, task_id, phase, type, created_at,
		       total_tokens, system_tokens, conversation_tokens, tool_tokens,
		       optimized, strategy, original_tokens, active_files, tool_cache,
		       snapshot, parent_id, delta, depth, metadata`

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// EnsureSchema creates the checkpoint table and indexes if they are missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.getQuerier(ctx).Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// SaveCheckpoint inserts a checkpoint record
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	toolCacheJSON, err := marshalNullableJSON(rec.ToolCache)
	if err != nil {
		return fmt.Errorf("failed to marshal tool cache: %w", err)
	}
	metadataJSON, err := marshalNullableJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	activeFiles := rec.ActiveFiles
	if activeFiles == nil {
		activeFiles = []string{}
	}

	query := `
		INSERT INTO ctxbudget_checkpoints (id, name, session_id, task_id, phase, type, created_at,
		                     total_tokens, system_tokens, conversation_tokens, tool_tokens,
		                     optimized, strategy, original_tokens, active_files, tool_cache,
		                     snapshot, parent_id, delta, depth, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = s.getQuerier(ctx).Exec(ctx, query,
		rec.ID,
		rec.Name,
		rec.SessionID,
		rec.TaskID,
		rec.Phase,
		string(rec.Type),
		rec.CreatedAt,
		rec.Tokens.Total,
		rec.Tokens.System,
		rec.Tokens.Conversation,
		rec.Tokens.Tools,
		rec.Optimization.Applied,
		rec.Optimization.Strategy,
		rec.Optimization.OriginalTokens,
		activeFiles,
		toolCacheJSON,
		rec.Snapshot,
		nullableText(rec.ParentID),
		rec.Delta,
		rec.Depth,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint record by ID
func (s *PostgresStore) GetCheckpoint(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + checkpointColumns + ` FROM ctxbudget_checkpoints WHERE id = $1`

	rows, err := s.getQuerier(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer rows.Close()

	records, err := s.scanCheckpoints(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// ListCheckpoints retrieves matching checkpoint records, newest first
func (s *PostgresStore) ListCheckpoints(ctx context.Context, params ListParams) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if params.SessionID != "" {
		add("session_id = $%d", params.SessionID)
	}
	if params.Phase != "" {
		add("phase = $%d", params.Phase)
	}
	if params.Type != "" {
		add("type = $%d", string(params.Type))
	}
	if !params.CreatedBefore.IsZero() {
		add("created_at < $%d", params.CreatedBefore)
	}
	if !params.CreatedAfter.IsZero() {
		add("created_at > $%d", params.CreatedAfter)
	}

	query := `SELECT ` + checkpointColumns + ` FROM ctxbudget_checkpoints`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, depth DESC, id DESC`
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.getQuerier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	return s.scanCheckpoints(rows)
}

// DeleteCheckpoints deletes checkpoint records by their IDs
func (s *PostgresStore) DeleteCheckpoints(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM ctxbudget_checkpoints WHERE id = ANY($1)`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanCheckpoints is a helper to scan checkpoint rows
func (s *PostgresStore) scanCheckpoints(rows pgx.Rows) ([]*Record, error) {
	var records []*Record

	for rows.Next() {
		var rec Record
		var typ string
		var parentID *string
		var toolCacheJSON []byte
		var metadataJSON []byte

		err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&rec.SessionID,
			&rec.TaskID,
			&rec.Phase,
			&typ,
			&rec.CreatedAt,
			&rec.Tokens.Total,
			&rec.Tokens.System,
			&rec.Tokens.Conversation,
			&rec.Tokens.Tools,
			&rec.Optimization.Applied,
			&rec.Optimization.Strategy,
			&rec.Optimization.OriginalTokens,
			&rec.ActiveFiles,
			&toolCacheJSON,
			&rec.Snapshot,
			&parentID,
			&rec.Delta,
			&rec.Depth,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		rec.Type = CheckpointType(typ)
		if parentID != nil {
			rec.ParentID = *parentID
		}
		if len(rec.ActiveFiles) == 0 {
			rec.ActiveFiles = nil
		}
		if len(toolCacheJSON) > 0 {
			if err := json.Unmarshal(toolCacheJSON, &rec.ToolCache); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool cache: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return records, nil
}

// marshalNullableJSON encodes v, mapping empty maps to SQL NULL.
func marshalNullableJSON[M ~map[K]V, K comparable, V any](v M) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
