// Package app assembles a ledger from workspace configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"questboard/internal/catalog"
	"questboard/internal/config"
	"questboard/internal/db"
	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/ledger"
	"questboard/internal/migrate"
	"questboard/internal/receipt"
	"questboard/internal/repo"
)

// EventLog is the audit log as read by the API and CLI.
type EventLog interface {
	ledger.EventSink
	Latest(ctx context.Context, f events.Filter) ([]domain.Event, error)
	After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error)
	LatestID(ctx context.Context) (int64, error)
}

// QuestLister exposes the full board, including quests that are taken.
type QuestLister interface {
	List(ctx context.Context) ([]domain.Quest, error)
}

// App is one wired questboard instance.
type App struct {
	Config  *config.Config
	Ledger  *ledger.Ledger
	Events  EventLog
	Quests  QuestLister
	Signer  *receipt.Signer
	Backend string

	db *sql.DB
}

type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *zerolog.Logger
	// ReceiptSecret overrides receipts.signing_secret when set.
	ReceiptSecret string
}

// Open loads the quest seed and builds the configured storage backend.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	seed, err := config.LoadQuests(cfg.SeedPath(opts.Workspace))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Backend: cfg.Storage.Backend}
	var (
		cat   ledger.Catalog
		store ledger.Store
	)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if opts.Logger != nil {
			for _, m := range applied {
				opts.Logger.Info().Int("version", m.Version).Str("migration", m.Name).Msg("applied migration")
			}
		}
		r := repo.Repo{DB: conn}
		if err := r.Quests().Seed(ctx, seed); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed quests: %w", err)
		}
		a.db = conn
		cat, store = r.Quests(), r.Enrollments()
		a.Quests = r.Quests()
		a.Events = events.Writer{DB: conn}
	default:
		mem, err := catalog.NewMemory(seed)
		if err != nil {
			return nil, fmt.Errorf("load quests: %w", err)
		}
		cat, store = mem, ledger.NewMemoryStore()
		a.Quests = mem
		a.Events = events.NewMemory()
	}

	a.Ledger, err = ledger.New(ledger.Config{
		Catalog: cat,
		Store:   store,
		Events:  a.Events,
		Policy: ledger.Policy{
			RestoreOnCancel:  cfg.Policy.RestoreOnCancel,
			ReopenOnComplete: cfg.Policy.ReopenOnComplete,
		},
		Logger: opts.Logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	secret := cfg.Receipts.SigningSecret
	if opts.ReceiptSecret != "" {
		secret = opts.ReceiptSecret
	}
	a.Signer = receipt.NewSigner(secret, cfg.Receipts.TTL)
	return a, nil
}

// Close releases the database, if any.
func (a *App) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
