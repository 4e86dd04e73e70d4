//go:build integration

package consumer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestAuditHandlerStoresEventsOnce(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("roster"),
		postgrescontainer.WithUsername("roster"),
		postgrescontainer.WithPassword("roster"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	handler := NewAuditHandler(pool)
	require.NoError(t, handler.Migrate(ctx))
	require.NoError(t, handler.Migrate(ctx))

	eventID := uuid.NewString()
	msg := Message{
		Topic:     "roster_events",
		Partition: 1,
		Offset:    7,
		EventType: "participant.signed_up",
		SchemaID:  3,
		Payload:   []byte(`{"event_id":"` + eventID + `","activity":"Chess Club","email":"new@mergington.edu","roster_size":3,"occurred_at":"2026-03-02T15:30:00Z"}`),
	}

	beforeDuplicates := testutil.ToFloat64(duplicateCounter)
	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg))
	require.InDelta(t, beforeDuplicates+1, testutil.ToFloat64(duplicateCounter), 0.0001)

	var (
		count    int
		activity string
		size     int
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*), MAX(activity), MAX(roster_size) FROM roster_event_log WHERE event_id = $1`, eventID,
	).Scan(&count, &activity, &size))
	require.Equal(t, 1, count)
	require.Equal(t, "Chess Club", activity)
	require.Equal(t, 3, size)
}
