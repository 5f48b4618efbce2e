// Package usage records the token usage and cost of every model call
// the chat agent makes. Records are append-only and indexed by time,
// actor and conversation for aggregation.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/taskmate/internal/config"
	"github.com/nugget/taskmate/internal/tasks"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Record is one model call's token usage.
type Record struct {
	ID             string
	Timestamp      time.Time
	RequestID      string
	ConversationID string
	ActorID        int64
	Model          string
	Provider       string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
}

// Summary holds aggregated totals.
type Summary struct {
	Records      int     `json:"records"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Store keeps usage records in the task database.
type Store struct {
	db      *sql.DB
	dialect tasks.Dialect
	now     func() time.Time
}

// NewStore creates the usage table on db if needed.
func NewStore(db *sql.DB, dialect tasks.Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	floatType := "REAL"
	if s.dialect == tasks.DialectPostgres {
		floatType = "DOUBLE PRECISION"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id              TEXT PRIMARY KEY,
			timestamp       TEXT NOT NULL,
			request_id      TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			actor_id        BIGINT NOT NULL,
			model           TEXT NOT NULL,
			provider        TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL,
			output_tokens   INTEGER NOT NULL,
			cost_usd        ` + floatType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_actor ON usage_records(actor_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record persists rec. An empty ID gets a UUIDv7 and a zero Timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO usage_records
			(id, timestamp, request_id, conversation_id, actor_id, model, provider,
			 input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.RequestID,
		rec.ConversationID,
		rec.ActorID,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records in [start, end). actorID zero
// covers every actor.
func (s *Store) Summary(ctx context.Context, actorID int64, start, end time.Time) (*Summary, error) {
	query, args := s.window(`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_records`, actorID, start, end)

	var sum Summary
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).
		Scan(&sum.Records, &sum.InputTokens, &sum.OutputTokens, &sum.CostUSD)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model totals for records in [start, end).
func (s *Store) SummaryByModel(ctx context.Context, actorID int64, start, end time.Time) (map[string]*Summary, error) {
	query, args := s.window(`SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_records`, actorID, start, end)
	query += ` GROUP BY model ORDER BY SUM(cost_usd) DESC`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var model string
		var sum Summary
		if err := rows.Scan(&model, &sum.Records, &sum.InputTokens, &sum.OutputTokens, &sum.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		result[model] = &sum
	}
	return result, rows.Err()
}

func (s *Store) window(query string, actorID int64, start, end time.Time) (string, []any) {
	query += ` WHERE timestamp >= ? AND timestamp < ?`
	args := []any{start.UTC().Format(timeLayout), end.UTC().Format(timeLayout)}
	if actorID != 0 {
		query += ` AND actor_id = ?`
		args = append(args, actorID)
	}
	return query, args
}

// Recorder returns a callback for the agent runtime that prices each
// call with pricing and stores it under provider. Storage failures are
// logged; they never fail a chat turn.
func (s *Store) Recorder(provider string, pricing map[string]config.PricingEntry, logger *slog.Logger) func(context.Context, Record) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, rec Record) {
		rec.Provider = provider
		rec.CostUSD = ComputeCost(rec.Model, rec.InputTokens, rec.OutputTokens, pricing)
		if err := s.Record(ctx, rec); err != nil {
			logger.Warn("failed to record usage", "conversation", rec.ConversationID, "error", err)
		}
	}
}

// ComputeCost returns the USD cost of a call. Models missing from
// pricing, such as local Ollama models, cost nothing.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
