package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteSchema creates the checkpoint table used by SQLiteStore.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	session_id          TEXT NOT NULL,
	task_id             TEXT NOT NULL DEFAULT '',
	phase               TEXT NOT NULL DEFAULT '',
	type                TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	total_tokens        INTEGER NOT NULL,
	system_tokens       INTEGER NOT NULL,
	conversation_tokens INTEGER NOT NULL,
	tool_tokens         INTEGER NOT NULL,
	optimized           INTEGER NOT NULL DEFAULT 0,
	strategy            TEXT NOT NULL DEFAULT '',
	original_tokens     INTEGER NOT NULL DEFAULT 0,
	active_files        TEXT,
	tool_cache          TEXT,
	snapshot            BLOB,
	parent_id           TEXT,
	delta               BLOB,
	depth               INTEGER NOT NULL DEFAULT 0,
	metadata            TEXT
);
CREATE INDEX IF NOT EXISTS checkpoints_session_idx ON checkpoints (session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS checkpoints_parent_idx ON checkpoints (parent_id);
`

const sqliteColumns = `id, name, session_id, task_id, phase, type, created_at,
	total_tokens, system_tokens, conversation_tokens, tool_tokens,
	optimized, strategy, original_tokens, active_files, tool_cache,
	snapshot, parent_id, delta, depth, metadata`

// SQLiteConfig holds the parameters for opening a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. It is created if missing.
	Path string

	// PoolSize is the number of pooled connections. Zero means 4.
	PoolSize int

	// Logger receives pool lifecycle messages. Nil discards them.
	Logger *slog.Logger
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens (creating if needed) a SQLite checkpoint database. The
// caller must Close it.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite checkpoint store opened", "path", cfg.Path, "pool_size", poolSize)
	return &SQLiteStore{pool: pool, logger: logger, path: cfg.Path}, nil
}

// prepareConnection applies pragmas and the schema once per connection.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, SQLiteSchema, nil); err != nil {
		return fmt.Errorf("sqlite store: schema: %w", err)
	}
	return nil
}

// Close closes every pooled connection.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite checkpoint store close error", "path", s.path, "error", err)
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite checkpoint store closed", "path", s.path)
	return nil
}

// SaveCheckpoint inserts a checkpoint record
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	activeFiles, err := marshalNullableText(rec.ActiveFiles)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal active files: %w", err)
	}
	toolCache, err := marshalNullableText(rec.ToolCache)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal tool cache: %w", err)
	}
	metadata, err := marshalNullableText(rec.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal metadata: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var parentID any
	if rec.ParentID != "" {
		parentID = rec.ParentID
	}
	var snapshot, delta any
	if rec.Snapshot != nil {
		snapshot = rec.Snapshot
	}
	if rec.Delta != nil {
		delta = rec.Delta
	}

	err = sqlitex.Execute(conn, `INSERT INTO checkpoints (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.ID,
				rec.Name,
				rec.SessionID,
				rec.TaskID,
				rec.Phase,
				string(rec.Type),
				rec.CreatedAt.UnixNano(),
				rec.Tokens.Total,
				rec.Tokens.System,
				rec.Tokens.Conversation,
				rec.Tokens.Tools,
				rec.Optimization.Applied,
				rec.Optimization.Strategy,
				rec.Optimization.OriginalTokens,
				activeFiles,
				toolCache,
				snapshot,
				parentID,
				delta,
				rec.Depth,
				metadata,
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: save checkpoint %s: %w", rec.ID, err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint record by ID
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*Record, error) {
	records, err := s.query(ctx, `SELECT `+sqliteColumns+` FROM checkpoints WHERE id = ?`, []any{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// ListCheckpoints retrieves matching checkpoint records, newest first
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, params ListParams) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if params.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, params.SessionID)
	}
	if params.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, params.Phase)
	}
	if params.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(params.Type))
	}
	if !params.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, params.CreatedBefore.UnixNano())
	}
	if !params.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, params.CreatedAfter.UnixNano())
	}

	query := `SELECT ` + sqliteColumns + ` FROM checkpoints`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, depth DESC, id DESC`
	if params.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, params.Limit)
	}
	return s.query(ctx, query, args)
}

// DeleteCheckpoints deletes checkpoint records by their IDs in one transaction
func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, ids []string) (deleted int, err error) {
	if len(ids) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, id := range ids {
		if err = sqlitex.Execute(conn, `DELETE FROM checkpoints WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
		}); err != nil {
			return 0, fmt.Errorf("sqlite store: delete checkpoint %s: %w", id, err)
		}
		deleted += conn.Changes()
	}
	return deleted, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args []any) ([]*Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var records []*Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec, err := scanSQLiteRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query checkpoints: %w", err)
	}
	return records, nil
}

func scanSQLiteRecord(stmt *sqlite.Stmt) (*Record, error) {
	rec := &Record{
		ID:        stmt.ColumnText(0),
		Name:      stmt.ColumnText(1),
		SessionID: stmt.ColumnText(2),
		TaskID:    stmt.ColumnText(3),
		Phase:     stmt.ColumnText(4),
		Type:      CheckpointType(stmt.ColumnText(5)),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(6)).UTC(),
		Tokens: TokenMetrics{
			Total:        stmt.ColumnInt(7),
			System:       stmt.ColumnInt(8),
			Conversation: stmt.ColumnInt(9),
			Tools:        stmt.ColumnInt(10),
		},
		Optimization: Optimization{
			Applied:        stmt.ColumnInt(11) != 0,
			Strategy:       stmt.ColumnText(12),
			OriginalTokens: stmt.ColumnInt(13),
		},
		ParentID: stmt.ColumnText(17),
		Depth:    stmt.ColumnInt(19),
	}

	if !stmt.ColumnIsNull(14) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(14)), &rec.ActiveFiles); err != nil {
			return nil, fmt.Errorf("unmarshal active files: %w", err)
		}
	}
	if !stmt.ColumnIsNull(15) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(15)), &rec.ToolCache); err != nil {
			return nil, fmt.Errorf("unmarshal tool cache: %w", err)
		}
	}
	if !stmt.ColumnIsNull(16) {
		rec.Snapshot = columnBlob(stmt, 16)
	}
	if !stmt.ColumnIsNull(18) {
		rec.Delta = columnBlob(stmt, 18)
	}
	if !stmt.ColumnIsNull(20) {
		if err := json.Unmarshal([]byte(stmt.ColumnText(20)), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

// columnBlob copies a BLOB column; the statement's buffer is reused.
func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	blob := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, blob)
	return blob
}

// marshalNullableText encodes v as JSON text, mapping empty values to NULL.
func marshalNullableText(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
