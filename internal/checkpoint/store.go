package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nugget/taskmate/internal/tasks"
)

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLSaver persists gzip-compressed JSON snapshots in the
// conversation_checkpoints table, one row per conversation.
type SQLSaver struct {
	db      *sql.DB
	dialect tasks.Dialect
	now     func() time.Time
}

// NewSQLSaver creates the table if needed and returns a saver over db.
func NewSQLSaver(db *sql.DB, dialect tasks.Dialect) (*SQLSaver, error) {
	s := &SQLSaver{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLSaver) migrate() error {
	blob := "BLOB"
	if s.dialect == tasks.DialectPostgres {
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_checkpoints (
			conversation_id TEXT PRIMARY KEY,
			actor_id BIGINT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			state_gz ` + blob + ` NOT NULL,
			byte_size BIGINT NOT NULL,
			message_count INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON conversation_checkpoints(updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the saved state for conversationID, or nil if none exists.
func (s *SQLSaver) Load(ctx context.Context, conversationID string) (*State, error) {
	var stateGz []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT state_gz FROM conversation_checkpoints WHERE conversation_id = ?`),
		conversationID).Scan(&stateGz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", conversationID, err)
	}
	st, err := decode(stateGz)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", conversationID, err)
	}
	return st, nil
}

// Save upserts st. CreatedAt is preserved across saves.
func (s *SQLSaver) Save(ctx context.Context, st *State) error {
	if st == nil || st.ConversationID == "" {
		return errors.New("checkpoint: state needs a conversation id")
	}
	now := s.now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	compressed, err := encode(st)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", st.ConversationID, err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO conversation_checkpoints
			(conversation_id, actor_id, created_at, updated_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			state_gz = excluded.state_gz,
			byte_size = excluded.byte_size,
			message_count = excluded.message_count`),
		st.ConversationID, st.ActorID,
		st.CreatedAt.UTC().Format(timeLayout), now.Format(timeLayout),
		compressed, len(compressed), len(st.Messages))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", st.ConversationID, err)
	}
	return nil
}

// List returns conversation summaries, most recently updated first.
// actorID zero lists every actor.
func (s *SQLSaver) List(ctx context.Context, actorID int64, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT conversation_id, actor_id, message_count, byte_size, created_at, updated_at
		FROM conversation_checkpoints`
	var args []any
	if actorID != 0 {
		query += ` WHERE actor_id = ?`
		args = append(args, actorID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var created, updated string
		if err := rows.Scan(&sum.ConversationID, &sum.ActorID, &sum.MessageCount, &sum.ByteSize, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		sum.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune deletes conversations not updated within olderThan and reports
// how many were removed.
func (s *SQLSaver) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`DELETE FROM conversation_checkpoints WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func encode(st *State) ([]byte, error) {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(stateGz []byte) (*State, error) {
	gr, err := gzip.NewReader(bytes.NewReader(stateGz))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var st State
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}
