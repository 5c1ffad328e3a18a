package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/db"
	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/migrate"
)

func TestWriterRoundTrip(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	w := events.Writer{DB: conn, Now: func() time.Time { return ts }}
	require.NoError(t, w.Append(ctx, domain.Event{Type: events.TypeEnrollmentCreated, QuestID: "Q1", EnrollmentID: "e1", Adventurer: "Aria"}))
	require.NoError(t, w.Append(ctx, domain.Event{Type: events.TypeRewardClaimed, QuestID: "Q1", EnrollmentID: "e1", Adventurer: "Aria", Payload: events.Payload{"gold": 10}}))
	require.NoError(t, w.Append(ctx, domain.Event{Type: events.TypeLedgerReset}))

	latest, err := w.Latest(ctx, events.Filter{Adventurer: "Aria"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, events.TypeRewardClaimed, latest[0].Type)
	assert.True(t, latest[0].TS.Equal(ts))
	assert.EqualValues(t, 10, latest[0].Payload["gold"])

	reset, err := w.Latest(ctx, events.Filter{Type: events.TypeLedgerReset})
	require.NoError(t, err)
	require.Len(t, reset, 1)
	assert.Empty(t, reset[0].Adventurer)

	id, err := w.LatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	after, err := w.After(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, events.TypeRewardClaimed, after[0].Type)
}
