// Package ledger enforces the enrollment lifecycle:
//
//	enroll -> InProgress -> complete -> Completed -> claim (rewardClaimed)
//	              |
//	              +-> cancel -> Abandoned
//
// Every check-then-act sequence runs under one lock, and quest availability
// changes only through the catalog's compare-and-swap.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/observability"
)

var tracer = otel.Tracer("questboard/internal/ledger")

// Catalog is the read-mostly quest store the ledger consults.
type Catalog interface {
	ListAvailable(ctx context.Context) ([]domain.Quest, error)
	Get(ctx context.Context, id string) (domain.Quest, error)
	TrySetAvailability(ctx context.Context, id string, desired, expected bool) (bool, error)
	Reset(ctx context.Context) error
}

// Store persists enrollments. Implementations need not lock: the Ledger
// serializes every call that mutates.
type Store interface {
	Insert(ctx context.Context, e domain.Enrollment) error
	Get(ctx context.Context, id string) (domain.Enrollment, error)
	Update(ctx context.Context, e domain.Enrollment) error
	Active(ctx context.Context, questID, adventurer string) (domain.Enrollment, bool, error)
	ListByAdventurer(ctx context.Context, adventurer string) ([]domain.Enrollment, error)
	Reset(ctx context.Context) error
}

// EventSink receives audit events after each applied mutation.
type EventSink interface {
	Append(ctx context.Context, evt domain.Event) error
}

// Policy decides when a quest reopens for other adventurers.
type Policy struct {
	RestoreOnCancel  bool `yaml:"restore_on_cancel" json:"restore_on_cancel"`
	ReopenOnComplete bool `yaml:"reopen_on_complete" json:"reopen_on_complete"`
}

// DefaultPolicy reopens a quest when its enrollment is abandoned, never on completion.
func DefaultPolicy() Policy {
	return Policy{RestoreOnCancel: true}
}

type Config struct {
	Catalog Catalog
	Store   Store
	Events  EventSink
	Policy  Policy
	Logger  *zerolog.Logger
	Now     func() time.Time
	NewID   func() string
}

type Ledger struct {
	mu      sync.RWMutex
	catalog Catalog
	store   Store
	events  EventSink
	policy  Policy
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("ledger: catalog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	l := &Ledger{
		catalog: cfg.Catalog,
		store:   cfg.Store,
		events:  cfg.Events,
		policy:  cfg.Policy,
		log:     zerolog.Nop(),
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if cfg.Logger != nil {
		l.log = cfg.Logger.With().Str("component", "ledger").Logger()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newID == nil {
		l.newID = func() string { return "enrollment-" + uuid.NewString() }
	}
	return l, nil
}

func (l *Ledger) Policy() Policy { return l.policy }

// AvailableQuests lists the catalog's open quests in load order.
func (l *Ledger) AvailableQuests(ctx context.Context) ([]domain.Quest, error) {
	return l.catalog.ListAvailable(ctx)
}

func (l *Ledger) Quest(ctx context.Context, id string) (domain.Quest, error) {
	return l.catalog.Get(ctx, id)
}

// Enroll starts questID for adventurer and takes the quest off the board.
func (l *Ledger) Enroll(ctx context.Context, questID, adventurer string) (e domain.Enrollment, err error) {
	adventurer = strings.TrimSpace(adventurer)
	ctx, o := l.begin(ctx, "enroll", attribute.String("quest_id", questID), attribute.String("adventurer", adventurer))
	defer func() { o.end(err) }()

	if err := requireInput(questID, adventurer); err != nil {
		return domain.Enrollment{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.catalog.Get(ctx, questID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if _, found, err := l.store.Active(ctx, questID, adventurer); err != nil {
		return domain.Enrollment{}, fmt.Errorf("lookup active enrollment: %w", err)
	} else if found {
		return domain.Enrollment{}, domain.Conflictf("adventurer %s already has quest %s in progress", adventurer, questID)
	}
	if !q.IsAvailable {
		return domain.Enrollment{}, domain.Conflictf("quest %s is not available", questID)
	}
	won, err := l.catalog.TrySetAvailability(ctx, questID, false, true)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if !won {
		return domain.Enrollment{}, domain.Conflictf("quest %s is not available", questID)
	}

	e = domain.Enrollment{
		ID:             l.newID(),
		QuestID:        questID,
		AdventurerName: adventurer,
		EnrolledAt:     l.now().UTC(),
		Status:         domain.StatusInProgress,
	}
	if err := l.store.Insert(ctx, e); err != nil {
		l.revertAvailability(ctx, questID, true, false)
		return domain.Enrollment{}, fmt.Errorf("store enrollment %s: %w", e.ID, err)
	}
	o.log.Info().Str("enrollment_id", e.ID).Str("quest_title", q.Title).Msg("adventurer enrolled")
	l.record(ctx, domain.Event{
		Type:         events.TypeEnrollmentCreated,
		QuestID:      questID,
		EnrollmentID: e.ID,
		Adventurer:   adventurer,
	})
	return e, nil
}

// Cancel abandons the adventurer's in-progress enrollment on questID.
func (l *Ledger) Cancel(ctx context.Context, questID, adventurer string) (e domain.Enrollment, err error) {
	adventurer = strings.TrimSpace(adventurer)
	ctx, o := l.begin(ctx, "cancel", attribute.String("quest_id", questID), attribute.String("adventurer", adventurer))
	defer func() { o.end(err) }()

	if err := requireInput(questID, adventurer); err != nil {
		return domain.Enrollment{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, found, err := l.store.Active(ctx, questID, adventurer)
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("lookup active enrollment: %w", err)
	}
	if !found {
		return domain.Enrollment{}, domain.NotFoundf("no in-progress enrollment for adventurer %s on quest %s", adventurer, questID)
	}

	restored := false
	if l.policy.RestoreOnCancel {
		restored, err = l.catalog.TrySetAvailability(ctx, questID, true, false)
		if err != nil {
			return domain.Enrollment{}, err
		}
	}
	e.Status = domain.StatusAbandoned
	if err := l.store.Update(ctx, e); err != nil {
		if restored {
			l.revertAvailability(ctx, questID, false, true)
		}
		return domain.Enrollment{}, fmt.Errorf("update enrollment %s: %w", e.ID, err)
	}
	o.log.Info().Str("enrollment_id", e.ID).Bool("quest_reopened", restored).Msg("enrollment abandoned")
	l.record(ctx, domain.Event{
		Type:         events.TypeEnrollmentAbandoned,
		QuestID:      questID,
		EnrollmentID: e.ID,
		Adventurer:   adventurer,
		Payload:      events.Payload{"quest_reopened": restored},
	})
	return e, nil
}

// Complete marks an in-progress enrollment as done.
func (l *Ledger) Complete(ctx context.Context, enrollmentID string) (e domain.Enrollment, err error) {
	ctx, o := l.begin(ctx, "complete", attribute.String("enrollment_id", enrollmentID))
	defer func() { o.end(err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, err = l.store.Get(ctx, enrollmentID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if err := canComplete(e); err != nil {
		return domain.Enrollment{}, err
	}

	reopened := false
	if l.policy.ReopenOnComplete {
		reopened, err = l.catalog.TrySetAvailability(ctx, e.QuestID, true, false)
		if err != nil {
			return domain.Enrollment{}, err
		}
	}
	done := l.now().UTC()
	if done.Before(e.EnrolledAt) {
		done = e.EnrolledAt
	}
	e.Status = domain.StatusCompleted
	e.CompletedAt = &done
	if err := l.store.Update(ctx, e); err != nil {
		if reopened {
			l.revertAvailability(ctx, e.QuestID, false, true)
		}
		return domain.Enrollment{}, fmt.Errorf("update enrollment %s: %w", e.ID, err)
	}
	o.log.Info().Str("quest_id", e.QuestID).Str("adventurer", e.AdventurerName).Msg("quest completed")
	l.record(ctx, domain.Event{
		Type:         events.TypeEnrollmentCompleted,
		QuestID:      e.QuestID,
		EnrollmentID: e.ID,
		Adventurer:   e.AdventurerName,
		Payload:      events.Payload{"quest_reopened": reopened},
	})
	return e, nil
}

// ClaimReward pays out a completed enrollment exactly once. The amounts come
// from the quest at claim time.
func (l *Ledger) ClaimReward(ctx context.Context, enrollmentID string) (r domain.ClaimReceipt, err error) {
	ctx, o := l.begin(ctx, "claim_reward", attribute.String("enrollment_id", enrollmentID))
	defer func() { o.end(err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.store.Get(ctx, enrollmentID)
	if err != nil {
		return domain.ClaimReceipt{}, err
	}
	q, err := l.catalog.Get(ctx, e.QuestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ClaimReceipt{}, domain.NotFoundf("quest %s for enrollment %s not found", e.QuestID, e.ID)
		}
		return domain.ClaimReceipt{}, err
	}
	if err := canClaim(e); err != nil {
		return domain.ClaimReceipt{}, err
	}
	e.RewardClaimed = true
	if err := l.store.Update(ctx, e); err != nil {
		return domain.ClaimReceipt{}, fmt.Errorf("update enrollment %s: %w", e.ID, err)
	}
	r = domain.ClaimReceipt{
		EnrollmentID:   e.ID,
		QuestID:        e.QuestID,
		AdventurerName: e.AdventurerName,
		Success:        true,
		Message:        "Reward claimed successfully!",
		GoldReceived:   q.RewardGold,
		ItemReceived:   q.RewardItem,
	}
	o.log.Info().Int("gold", r.GoldReceived).Str("item", r.ItemReceived).Msg("reward claimed")
	l.record(ctx, domain.Event{
		Type:         events.TypeRewardClaimed,
		QuestID:      e.QuestID,
		EnrollmentID: e.ID,
		Adventurer:   e.AdventurerName,
		Payload:      events.Payload{"gold": r.GoldReceived, "item": r.ItemReceived},
	})
	return r, nil
}

// ListByAdventurer returns every enrollment of adventurer in creation order.
func (l *Ledger) ListByAdventurer(ctx context.Context, adventurer string) ([]domain.Enrollment, error) {
	adventurer = strings.TrimSpace(adventurer)
	if adventurer == "" {
		return nil, domain.InvalidInputf("adventurerName is required")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.ListByAdventurer(ctx, adventurer)
}

func (l *Ledger) Get(ctx context.Context, enrollmentID string) (domain.Enrollment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Get(ctx, enrollmentID)
}

// Reset drops every enrollment and reloads the catalog seed. The audit log is kept.
func (l *Ledger) Reset(ctx context.Context) (err error) {
	ctx, o := l.begin(ctx, "reset")
	defer func() { o.end(err) }()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset enrollments: %w", err)
	}
	if err := l.catalog.Reset(ctx); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	o.log.Info().Msg("ledger reset")
	l.record(ctx, domain.Event{Type: events.TypeLedgerReset})
	return nil
}

func requireInput(questID, adventurer string) error {
	if strings.TrimSpace(questID) == "" {
		return domain.InvalidInputf("questId is required")
	}
	if adventurer == "" {
		return domain.InvalidInputf("adventurerName is required")
	}
	return nil
}

func canComplete(e domain.Enrollment) error {
	switch e.Status {
	case domain.StatusInProgress:
		return nil
	case domain.StatusCompleted:
		return domain.Conflictf("enrollment %s is already completed", e.ID)
	case domain.StatusFailed, domain.StatusAbandoned:
		return domain.Conflictf("enrollment %s is %s and cannot be completed", e.ID, e.Status)
	}
	return fmt.Errorf("enrollment %s has unknown status %s", e.ID, e.Status)
}

func canClaim(e domain.Enrollment) error {
	switch e.Status {
	case domain.StatusCompleted:
		if e.RewardClaimed {
			return domain.Conflictf("reward for enrollment %s already claimed", e.ID)
		}
		return nil
	case domain.StatusInProgress:
		return domain.Conflictf("enrollment %s is not completed", e.ID)
	case domain.StatusFailed, domain.StatusAbandoned:
		return domain.Conflictf("enrollment %s is %s; only completed quests pay out", e.ID, e.Status)
	}
	return fmt.Errorf("enrollment %s has unknown status %s", e.ID, e.Status)
}

func (l *Ledger) revertAvailability(ctx context.Context, questID string, desired, expected bool) {
	if _, err := l.catalog.TrySetAvailability(ctx, questID, desired, expected); err != nil {
		l.log.Error().Err(err).Str("quest_id", questID).Msg("revert quest availability")
	}
}

func (l *Ledger) record(ctx context.Context, evt domain.Event) {
	if l.events == nil {
		return
	}
	if err := l.events.Append(ctx, evt); err != nil {
		l.log.Error().Err(err).Str("event", evt.Type).Msg("append audit event")
	}
}

type operation struct {
	name string
	span trace.Span
	log  zerolog.Logger
}

func (l *Ledger) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attrs...))
	lc := l.log.With().Str("op", name)
	for _, a := range attrs {
		lc = lc.Str(string(a.Key), a.Value.Emit())
	}
	return ctx, &operation{name: name, span: span, log: lc.Logger()}
}

func (o *operation) end(err error) {
	defer o.span.End()
	outcome := "ok"
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			outcome = de.Kind.String()
			o.log.Warn().Str("outcome", outcome).Msg(err.Error())
		} else {
			outcome = "error"
			o.log.Error().Err(err).Msg("ledger operation failed")
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordLedgerOp(o.name, outcome)
}
