package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/domain"
)

func TestMemoryStoreIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := domain.Enrollment{ID: "e1", QuestID: "q1", AdventurerName: "Aria", Status: domain.StatusInProgress, EnrolledAt: time.Now()}
	require.NoError(t, s.Insert(ctx, e))

	err := s.Insert(ctx, domain.Enrollment{ID: "e2", QuestID: "q1", AdventurerName: "Aria", Status: domain.StatusInProgress})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	active, found, err := s.Active(ctx, "q1", "Aria")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "e1", active.ID)

	e.Status = domain.StatusAbandoned
	e.QuestID = "tampered"
	require.NoError(t, s.Update(ctx, e))
	_, found, _ = s.Active(ctx, "q1", "Aria")
	assert.False(t, found)

	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.QuestID, "quest id is immutable")

	require.NoError(t, s.Insert(ctx, domain.Enrollment{ID: "e2", QuestID: "q1", AdventurerName: "Aria", Status: domain.StatusInProgress}))
	list, err := s.ListByAdventurer(ctx, "Aria")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].ID)

	err = s.Update(ctx, domain.Enrollment{ID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, s.Reset(ctx))
	_, err = s.Get(ctx, "e1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
