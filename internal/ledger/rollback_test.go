package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/catalog"
	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/ledger"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails the next write of the armed kind.
type flakyStore struct {
	*ledger.MemoryStore
	failInsert bool
	failUpdate bool
}

func (s *flakyStore) Insert(ctx context.Context, e domain.Enrollment) error {
	if s.failInsert {
		return errDiskFull
	}
	return s.MemoryStore.Insert(ctx, e)
}

func (s *flakyStore) Update(ctx context.Context, e domain.Enrollment) error {
	if s.failUpdate {
		return errDiskFull
	}
	return s.MemoryStore.Update(ctx, e)
}

// racingCatalog reports quests as available but loses every CAS, like a
// catalog another process flipped between the read and the update.
type racingCatalog struct {
	*catalog.Memory
}

func (c racingCatalog) TrySetAvailability(ctx context.Context, id string, desired, expected bool) (bool, error) {
	if _, err := c.Memory.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type rollbackEnv struct {
	Ledger  *ledger.Ledger
	Catalog *catalog.Memory
	Store   *flakyStore
	Events  *events.Memory
	Ctx     context.Context
}

func newRollbackEnv(t *testing.T, policy ledger.Policy) rollbackEnv {
	t.Helper()
	cat, err := catalog.NewMemory([]domain.Quest{
		{ID: "Q1", Title: "Under Saarthal", RewardGold: 250, IsAvailable: true},
	})
	require.NoError(t, err)
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	log := events.NewMemory()
	l, err := ledger.New(ledger.Config{Catalog: cat, Store: store, Events: log, Policy: policy})
	require.NoError(t, err)
	return rollbackEnv{Ledger: l, Catalog: cat, Store: store, Events: log, Ctx: context.Background()}
}

func (env rollbackEnv) available(t *testing.T) bool {
	t.Helper()
	q, err := env.Catalog.Get(env.Ctx, "Q1")
	require.NoError(t, err)
	return q.IsAvailable
}

func (env rollbackEnv) eventCount(t *testing.T) int {
	t.Helper()
	items, err := env.Events.Latest(env.Ctx, events.Filter{Limit: 100})
	require.NoError(t, err)
	return len(items)
}

func TestEnrollInsertFailureReopensQuest(t *testing.T) {
	env := newRollbackEnv(t, ledger.DefaultPolicy())
	env.Store.failInsert = true

	_, err := env.Ledger.Enroll(env.Ctx, "Q1", "Aria")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.True(t, env.available(t), "availability is restored")

	list, err := env.Ledger.ListByAdventurer(env.Ctx, "Aria")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, env.eventCount(t))

	env.Store.failInsert = false
	_, err = env.Ledger.Enroll(env.Ctx, "Q1", "Aria")
	require.NoError(t, err, "a later attempt succeeds")
}

func TestCancelUpdateFailureKeepsQuestClosed(t *testing.T) {
	env := newRollbackEnv(t, ledger.DefaultPolicy())
	e, err := env.Ledger.Enroll(env.Ctx, "Q1", "Aria")
	require.NoError(t, err)
	env.Store.failUpdate = true

	_, err = env.Ledger.Cancel(env.Ctx, "Q1", "Aria")
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, env.available(t), "reopen is undone")

	got, err := env.Ledger.Get(env.Ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, 1, env.eventCount(t))
}

func TestCompleteUpdateFailureUndoesReopen(t *testing.T) {
	env := newRollbackEnv(t, ledger.Policy{RestoreOnCancel: true, ReopenOnComplete: true})
	e, err := env.Ledger.Enroll(env.Ctx, "Q1", "Aria")
	require.NoError(t, err)
	env.Store.failUpdate = true

	_, err = env.Ledger.Complete(env.Ctx, e.ID)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, env.available(t))

	got, err := env.Ledger.Get(env.Ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestClaimUpdateFailureLeavesRewardUnclaimed(t *testing.T) {
	env := newRollbackEnv(t, ledger.DefaultPolicy())
	e, err := env.Ledger.Enroll(env.Ctx, "Q1", "Aria")
	require.NoError(t, err)
	_, err = env.Ledger.Complete(env.Ctx, e.ID)
	require.NoError(t, err)
	env.Store.failUpdate = true

	_, err = env.Ledger.ClaimReward(env.Ctx, e.ID)
	assert.ErrorIs(t, err, errDiskFull)

	env.Store.failUpdate = false
	r, err := env.Ledger.ClaimReward(env.Ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, r.GoldReceived)
}

func TestEnrollLosingAvailabilityRaceIsConflict(t *testing.T) {
	cat, err := catalog.NewMemory([]domain.Quest{{ID: "Q1", Title: "Under Saarthal", IsAvailable: true}})
	require.NoError(t, err)
	l, err := ledger.New(ledger.Config{
		Catalog: racingCatalog{cat},
		Store:   ledger.NewMemoryStore(),
		Policy:  ledger.DefaultPolicy(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Enroll(ctx, "Q1", "Aria")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, err := l.ListByAdventurer(ctx, "Aria")
	require.NoError(t, err)
	assert.Empty(t, list, "no enrollment is left behind")
	q, err := cat.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.True(t, q.IsAvailable)
}
