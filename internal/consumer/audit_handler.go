package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const auditSchema = `CREATE TABLE IF NOT EXISTS roster_event_log (
    event_id       TEXT PRIMARY KEY,
    event_type     TEXT NOT NULL,
    activity       TEXT NOT NULL,
    email          TEXT NOT NULL,
    roster_size    INTEGER NOT NULL,
    occurred_at    TIMESTAMPTZ NOT NULL,
    topic          TEXT NOT NULL,
    partition      INTEGER NOT NULL,
    record_offset  BIGINT NOT NULL,
    schema_id      INTEGER NOT NULL,
    received_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// rosterRecord is the payload shape shared by every roster event type.
type rosterRecord struct {
	EventID    string    `json:"event_id"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	RosterSize int       `json:"roster_size"`
	OccurredAt time.Time `json:"occurred_at"`
}

func decodeRosterRecord(msg Message) (rosterRecord, error) {
	var rec rosterRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return rosterRecord{}, fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	if strings.TrimSpace(rec.EventID) == "" {
		rec.EventID = msg.EventID
	}
	if strings.TrimSpace(rec.EventID) == "" {
		return rosterRecord{}, fmt.Errorf("%s payload missing event_id", msg.EventType)
	}
	return rec, nil
}

// AuditHandler writes consumed roster events into Postgres.
type AuditHandler struct {
	pool *pgxpool.Pool
}

// NewAuditHandler constructs a handler backed by the provided pool.
func NewAuditHandler(pool *pgxpool.Pool) *AuditHandler {
	return &AuditHandler{pool: pool}
}

// Migrate creates the roster_event_log table when it does not exist.
func (h *AuditHandler) Migrate(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("create roster_event_log: %w", err)
	}
	return nil
}

// Handle stores the event. Redelivered events are ignored by event_id.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	rec, err := decodeRosterRecord(msg)
	if err != nil {
		return err
	}

	tag, err := h.pool.Exec(ctx,
		`INSERT INTO roster_event_log (event_id, event_type, activity, email, roster_size, occurred_at, topic, partition, record_offset, schema_id)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID,
		msg.EventType,
		rec.Activity,
		rec.Email,
		rec.RosterSize,
		rec.OccurredAt,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.SchemaID,
	)
	if err != nil {
		return fmt.Errorf("insert roster event %s: %w", rec.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		duplicateCounter.Inc()
	}
	return nil
}

// LogHandler writes consumed roster events to the log. It is used when no
// Postgres URL is configured.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler constructs a LogHandler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Handle logs the event.
func (h *LogHandler) Handle(_ context.Context, msg Message) error {
	rec, err := decodeRosterRecord(msg)
	if err != nil {
		return err
	}
	h.logger.Info("roster event",
		zap.String("event_id", rec.EventID),
		zap.String("event_type", msg.EventType),
		zap.String("activity", rec.Activity),
		zap.String("email", rec.Email),
		zap.Int("roster_size", rec.RosterSize),
		zap.Time("occurred_at", rec.OccurredAt))
	return nil
}
