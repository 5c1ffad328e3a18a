package repo

import (
	"context"
	"database/sql"
	"fmt"

	"questboard/internal/domain"
)

// Enrollments stores enrollments in insertion order. The partial unique
// index on (quest_id, adventurer_name) WHERE status='InProgress' backs the
// one-active-enrollment rule.
type Enrollments struct {
	DB *sql.DB
}

const enrollmentColumns = `id,quest_id,adventurer_name,enrolled_at,status,COALESCE(completed_at,''),reward_claimed`

func scanEnrollment(sc interface{ Scan(...any) error }) (domain.Enrollment, error) {
	var (
		e                       domain.Enrollment
		enrolled, status, doneS string
		claimed                 int
	)
	if err := sc.Scan(&e.ID, &e.QuestID, &e.AdventurerName, &enrolled, &status, &doneS, &claimed); err != nil {
		return domain.Enrollment{}, err
	}
	var err error
	if e.EnrolledAt, err = parseTime(enrolled); err != nil {
		return domain.Enrollment{}, fmt.Errorf("enrollment %s: enrolled_at: %w", e.ID, err)
	}
	if e.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Enrollment{}, fmt.Errorf("enrollment %s: %w", e.ID, err)
	}
	if doneS != "" {
		done, err := parseTime(doneS)
		if err != nil {
			return domain.Enrollment{}, fmt.Errorf("enrollment %s: completed_at: %w", e.ID, err)
		}
		e.CompletedAt = &done
	}
	e.RewardClaimed = claimed != 0
	return e, nil
}

func completedAt(e domain.Enrollment) any {
	if e.CompletedAt == nil {
		return nil
	}
	return formatTime(*e.CompletedAt)
}

func (s Enrollments) Insert(ctx context.Context, e domain.Enrollment) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO enrollments(id,quest_id,adventurer_name,enrolled_at,status,completed_at,reward_claimed) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.QuestID, e.AdventurerName, formatTime(e.EnrolledAt), e.Status.String(), completedAt(e), boolInt(e.RewardClaimed))
	if isUniqueViolation(err) {
		return domain.Conflictf("enrollment %s conflicts with an existing enrollment: %v", e.ID, err)
	}
	return err
}

func (s Enrollments) Get(ctx context.Context, id string) (domain.Enrollment, error) {
	e, err := scanEnrollment(s.DB.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return domain.Enrollment{}, domain.NotFoundf("enrollment %s not found", id)
	}
	return e, err
}

// Update writes the mutable fields. Quest and adventurer never change.
func (s Enrollments) Update(ctx context.Context, e domain.Enrollment) error {
	ok, err := affectedOne(s.DB.ExecContext(ctx, `UPDATE enrollments SET status=?, completed_at=?, reward_claimed=? WHERE id=?`,
		e.Status.String(), completedAt(e), boolInt(e.RewardClaimed), e.ID))
	if isUniqueViolation(err) {
		return domain.Conflictf("enrollment %s conflicts with an existing enrollment", e.ID)
	}
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundf("enrollment %s not found", e.ID)
	}
	return nil
}

func (s Enrollments) Active(ctx context.Context, questID, adventurer string) (domain.Enrollment, bool, error) {
	e, err := scanEnrollment(s.DB.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE quest_id=? AND adventurer_name=? AND status='InProgress'`,
		questID, adventurer))
	if err == sql.ErrNoRows {
		return domain.Enrollment{}, false, nil
	}
	if err != nil {
		return domain.Enrollment{}, false, err
	}
	return e, true, nil
}

func (s Enrollments) ListByAdventurer(ctx context.Context, adventurer string) ([]domain.Enrollment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE adventurer_name=? ORDER BY seq`, adventurer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s Enrollments) Reset(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM enrollments`)
	return err
}
