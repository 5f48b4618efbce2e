package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Dialect selects SQL syntax differences between backends.
type Dialect int

const (
	// DialectSQLite covers both the mattn (sqlite3) and modernc (sqlite)
	// drivers.
	DialectSQLite Dialect = iota
	// DialectPostgres uses $N placeholders and BIGSERIAL keys.
	DialectPostgres
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) Dialect {
	if driver == "postgres" || driver == "pgx" {
		return DialectPostgres
	}
	return DialectSQLite
}

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// timeLayout is fixed width so that lexical order matches time order.
// Timestamps handed back by writes are truncated to its precision so
// they equal what later reads return.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store manages task, user and token persistence.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore opens a database with the named driver and migrates it.
func NewStore(driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if DialectFor(driver) == DialectSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	s, err := NewStoreWithDB(db, DialectFor(driver), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB creates a store using an existing database connection.
func NewStoreWithDB(db *sql.DB, dialect Dialect, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for stores that share it.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// stamp returns the current time at stored precision.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func schema(d Dialect) []string {
	pk, ref := "INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER"
	if d == DialectPostgres {
		pk, ref = "BIGSERIAL PRIMARY KEY", "BIGINT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + pk + `,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			date_joined TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id ` + ref + ` NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			created TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id ` + pk + `,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			due_date TEXT,
			assigned_to ` + ref + ` REFERENCES users(id) ON DELETE SET NULL,
			created_by ` + ref + ` REFERENCES users(id) ON DELETE SET NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_title ON tasks(title)`,
	}
}

func (s *Store) migrate() error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rebind(query string) string { return s.dialect.Rebind(query) }

// Rebind rewrites ? placeholders to $N for postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const taskColumns = `id, title, description, status, priority, due_date, assigned_to, created_by, created_at, updated_at`

const newestFirst = ` ORDER BY created_at DESC, id DESC`

// CreateTask inserts t and returns the stored task with its assigned ID
// and timestamps.
func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	now := s.stamp()
	created := *t
	created.CreatedAt = now
	created.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO tasks (title, description, status, priority, due_date, assigned_to, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), created.Title, created.Description, string(created.Status), string(created.Priority),
		nullDate(created.DueDate), nullID(created.AssignedTo), nullID(created.CreatedBy),
		formatTime(now), formatTime(now)).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &created, nil
}

// GetTask retrieves a task by ID regardless of owner.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	return s.scanTask(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id))
}

// GetTaskForActor retrieves a task by ID only if actorID created it.
func (s *Store) GetTaskForActor(ctx context.Context, id, actorID int64) (*Task, error) {
	return s.scanTask(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND created_by = ?`), id, actorID))
}

// FindTasksByTitle returns the actor's tasks whose title matches exactly.
func (s *Store) FindTasksByTitle(ctx context.Context, title string, actorID int64) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE title = ? AND created_by = ?`+newestFirst,
		title, actorID)
}

// ListTasksForActor returns up to limit of the actor's tasks, newest first.
func (s *Store) ListTasksForActor(ctx context.Context, actorID int64, limit int) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE created_by = ?`+newestFirst+` LIMIT ?`,
		actorID, limit)
}

// SearchTasksForActor returns up to limit of the actor's tasks whose
// title or description contains query, ignoring case. Matching happens
// in Go because SQLite's lower() folds ASCII only.
func (s *Store) SearchTasksForActor(ctx context.Context, actorID int64, query string, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE created_by = ?`+newestFirst), actorID)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	needle := foldCase(query)
	var out []*Task
	for len(out) < limit && rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		if strings.Contains(foldCase(t.Title), needle) || strings.Contains(foldCase(t.Description), needle) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// ListTasks returns tasks matching f.
func (s *Store) ListTasks(ctx context.Context, f ListFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if f.CreatedBy != 0 {
		where = append(where, "created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.AssignedTo != 0 {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(f.Priority))
	}

	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch f.Ordering {
	case "", "-created_at":
		q += newestFirst
	case "due_date":
		q += ` ORDER BY CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date,
			CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END, id`
	default:
		return nil, fmt.Errorf("unknown ordering %q", f.Ordering)
	}
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryTasks(ctx, q, args...)
}

// UpdateTask writes every mutable field of t and bumps updated_at.
func (s *Store) UpdateTask(ctx context.Context, t *Task) (*Task, error) {
	updated := *t
	updated.UpdatedAt = s.stamp()

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			due_date = ?, assigned_to = ?, updated_at = ?
		WHERE id = ?
	`), updated.Title, updated.Description, string(updated.Status), string(updated.Priority),
		nullDate(updated.DueDate), nullID(updated.AssignedTo), formatTime(updated.UpdatedAt), updated.ID)
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return &updated, nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if err := expectOneRow(result); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row scanner) (*Task, error) {
	var t Task
	var status, priority, createdStr, updatedStr string
	var due sql.NullString
	var assigned, createdBy sql.NullInt64

	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&due, &assigned, &createdBy, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	if due.Valid {
		d, err := time.Parse(DateLayout, due.String)
		if err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
		t.DueDate = &d
	}
	if assigned.Valid {
		id := assigned.Int64
		t.AssignedTo = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		t.CreatedBy = &id
	}
	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- SQL helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullDate(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Format(DateLayout), Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// foldCase maps s to a form where case-insensitive substring matching is
// plain substring matching.
func foldCase(s string) string {
	return strings.ToLower(strings.ToUpper(s))
}
