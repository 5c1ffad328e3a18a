package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/app"
	"questboard/internal/config"
	"questboard/internal/domain"
	"questboard/internal/events"
)

func TestOpenMemoryDefaults(t *testing.T) {
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, config.BackendMemory, a.Backend)
	assert.Nil(t, a.Signer, "no secret configured")
	quests, err := a.Ledger.AvailableQuests(context.Background())
	require.NoError(t, err)
	assert.Len(t, quests, len(config.DefaultQuests()))
}

func TestOpenSQLitePersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("storage:\n  backend: sqlite\nquests:\n  seed_file: quests.yml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quests.yml"), []byte("- id: q1\n  title: One\n  rewardGold: 5\n"), 0o644))
	ctx := context.Background()

	a, err := app.Open(ctx, app.Options{Workspace: dir, ReceiptSecret: "s3cret"})
	require.NoError(t, err)
	require.NotNil(t, a.Signer)
	e, err := a.Ledger.Enroll(ctx, "q1", "Aria")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := app.Open(ctx, app.Options{Workspace: dir})
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Ledger.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	_, err = b.Ledger.Enroll(ctx, "q1", "Bram")
	assert.True(t, errors.Is(err, domain.ErrConflict), "quest stays taken after restart")

	evts, err := b.Events.Latest(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestOpenRejectsBadSeed(t *testing.T) {
	cfg := config.Default()
	cfg.Quests.SeedFile = "missing.yml"
	_, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: cfg})
	assert.Error(t, err)
}
