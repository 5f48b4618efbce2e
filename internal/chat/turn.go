package chat

import (
	"log/slog"
)

type turnStatus int

const (
	statusIdle turnStatus = iota
	statusProcessing
	statusCompleted
	statusFailed
)

func (s turnStatus) String() string {
	switch s {
	case statusIdle:
		return "idle"
	case statusProcessing:
		return "processing"
	case statusCompleted:
		return "completed"
	case statusFailed:
		return "failed"
	}
	return "unknown"
}

// turn tracks one ProcessChat call. Completed and Failed are terminal.
type turn struct {
	actorID        int64
	conversationID string
	status         turnStatus
	log            *slog.Logger
}

func newTurn(actorID int64, conversationID string, logger *slog.Logger) *turn {
	return &turn{
		actorID:        actorID,
		conversationID: conversationID,
		status:         statusIdle,
		log:            logger.With("actor_id", actorID, "conversation_id", conversationID),
	}
}

func (t *turn) terminal() bool {
	return t.status == statusCompleted || t.status == statusFailed
}

func (t *turn) advance(to turnStatus, attrs ...any) {
	if t.terminal() {
		return
	}
	t.status = to
	switch to {
	case statusProcessing:
		t.log.Info("processing chat", attrs...)
	case statusCompleted:
		t.log.Info("chat processed", attrs...)
	}
}

func (t *turn) fail(err error) {
	if t.terminal() {
		return
	}
	t.status = statusFailed
	t.log.Error("chat failed", "error", err)
}
