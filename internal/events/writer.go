package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"questboard/internal/domain"
)

const (
	TypeEnrollmentCreated   = "enrollment.created"
	TypeEnrollmentAbandoned = "enrollment.abandoned"
	TypeEnrollmentCompleted = "enrollment.completed"
	TypeRewardClaimed       = "reward.claimed"
	TypeLedgerReset         = "ledger.reset"
)

const defaultLimit = 20

type Payload map[string]any

// Filter narrows Latest; empty fields match everything.
type Filter struct {
	Type         string
	QuestID      string
	EnrollmentID string
	Adventurer   string
	Limit        int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultLimit
	}
	return f.Limit
}

func (f Filter) matches(e domain.Event) bool {
	return (f.Type == "" || f.Type == e.Type) &&
		(f.QuestID == "" || f.QuestID == e.QuestID) &&
		(f.EnrollmentID == "" || f.EnrollmentID == e.EnrollmentID) &&
		(f.Adventurer == "" || f.Adventurer == e.Adventurer)
}

// Writer appends audit events to the events table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, evt domain.Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if evt.TS.IsZero() {
		evt.TS = w.Now()
	}
	payload := evt.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,quest_id,enrollment_id,adventurer_name,payload_json) VALUES (?,?,?,?,?,?)`,
		evt.TS.UTC().Format(time.RFC3339Nano), evt.Type, nullable(evt.QuestID), nullable(evt.EnrollmentID), nullable(evt.Adventurer), string(data))
	return err
}

// Latest returns matching events, newest first.
func (w Writer) Latest(ctx context.Context, f Filter) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	for col, v := range map[string]string{
		"type":            f.Type,
		"quest_id":        f.QuestID,
		"enrollment_id":   f.EnrollmentID,
		"adventurer_name": f.Adventurer,
	} {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	query := `SELECT id,ts,type,COALESCE(quest_id,''),COALESCE(enrollment_id,''),COALESCE(adventurer_name,''),payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.limit())
	return w.query(ctx, query, args...)
}

// After returns up to limit events with ID greater than cursor, oldest first.
func (w Writer) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	return w.query(ctx, `SELECT id,ts,type,COALESCE(quest_id,''),COALESCE(enrollment_id,''),COALESCE(adventurer_name,''),payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
}

func (w Writer) LatestID(ctx context.Context) (int64, error) {
	var id int64
	err := w.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (w Writer) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			ts      string
			payload string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.QuestID, &e.EnrollmentID, &e.Adventurer, &payload); err != nil {
			return nil, err
		}
		if e.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("event %d: parse ts: %w", e.ID, err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("event %d: payload: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
