package repo

import (
	"context"
	"database/sql"
	"fmt"

	"questboard/internal/catalog"
	"questboard/internal/domain"
)

// Quests keeps the catalog in the quests table. quest_seed holds the
// pristine board that Reset copies back.
type Quests struct {
	DB *sql.DB
}

const questColumns = `id,title,description,difficulty,reward_gold,reward_item,is_available,location,quest_giver`

func scanQuest(sc interface{ Scan(...any) error }) (domain.Quest, error) {
	var (
		q         domain.Quest
		available int
	)
	if err := sc.Scan(&q.ID, &q.Title, &q.Description, &q.Difficulty, &q.RewardGold, &q.RewardItem, &available, &q.Location, &q.QuestGiver); err != nil {
		return domain.Quest{}, err
	}
	q.IsAvailable = available != 0
	return q, nil
}

// Seed replaces the stored seed and adds any quest the live board lacks.
// Availability of quests already on the board is left alone so state
// survives restarts. Quests no longer in the seed are retired, not deleted:
// they leave the board but Get still resolves them for existing enrollments.
func (s Quests) Seed(ctx context.Context, seed []domain.Quest) error {
	if err := catalog.Validate(seed); err != nil {
		return err
	}
	return withTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quest_seed`); err != nil {
			return fmt.Errorf("clear seed: %w", err)
		}
		for i, q := range seed {
			if _, err := tx.ExecContext(ctx, `INSERT INTO quest_seed(id,seq,title,description,difficulty,reward_gold,reward_item,is_available,location,quest_giver) VALUES (?,?,?,?,?,?,?,?,?,?)`,
				q.ID, i, q.Title, q.Description, q.Difficulty, q.RewardGold, q.RewardItem, boolInt(q.IsAvailable), q.Location, q.QuestGiver); err != nil {
				return fmt.Errorf("seed quest %s: %w", q.ID, err)
			}
		}
		return syncFromSeed(ctx, tx, false)
	})
}

// syncFromSeed copies quest_seed into quests. With replace, the board is
// rebuilt; otherwise descriptive fields are refreshed, new quests added and
// missing ones retired behind the seeded quests.
func syncFromSeed(ctx context.Context, tx *sql.Tx, replace bool) error {
	// Without replace, live seq values move below zero so the upsert can reuse 0..n-1.
	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quests`); err != nil {
			return fmt.Errorf("clear quests: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, `UPDATE quests SET seq = -seq - 1`); err != nil {
		return fmt.Errorf("renumber quests: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO quests(id,seq,title,description,difficulty,reward_gold,reward_item,is_available,location,quest_giver,retired)
SELECT id,seq,title,description,difficulty,reward_gold,reward_item,is_available,location,quest_giver,0 FROM quest_seed WHERE true
ON CONFLICT(id) DO UPDATE SET
  seq=excluded.seq, title=excluded.title, description=excluded.description, difficulty=excluded.difficulty,
  reward_gold=excluded.reward_gold, reward_item=excluded.reward_item, location=excluded.location, quest_giver=excluded.quest_giver,
  retired=0`)
	if err != nil {
		return fmt.Errorf("load quests: %w", err)
	}
	if replace {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
UPDATE quests SET retired=1, is_available=0, seq=(SELECT COUNT(1) FROM quest_seed) + (-seq - 1)
WHERE id NOT IN (SELECT id FROM quest_seed)`)
	if err != nil {
		return fmt.Errorf("retire quests: %w", err)
	}
	return nil
}

func (s Quests) list(ctx context.Context, onlyAvailable bool) ([]domain.Quest, error) {
	query := `SELECT ` + questColumns + ` FROM quests`
	if onlyAvailable {
		query += ` WHERE is_available=1`
	}
	query += ` ORDER BY seq`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Quest{}
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (s Quests) List(ctx context.Context) ([]domain.Quest, error) {
	return s.list(ctx, false)
}

func (s Quests) ListAvailable(ctx context.Context) ([]domain.Quest, error) {
	return s.list(ctx, true)
}

func (s Quests) Get(ctx context.Context, id string) (domain.Quest, error) {
	q, err := scanQuest(s.DB.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return domain.Quest{}, domain.NotFoundf("quest %s not found", id)
	}
	return q, err
}

// TrySetAvailability is a conditional UPDATE: it reports false when the quest
// is not currently in the expected state. Retired quests never reopen.
func (s Quests) TrySetAvailability(ctx context.Context, id string, desired, expected bool) (bool, error) {
	ok, err := affectedOne(s.DB.ExecContext(ctx, `UPDATE quests SET is_available=? WHERE id=? AND is_available=? AND (retired=0 OR ?=0)`,
		boolInt(desired), id, boolInt(expected), boolInt(desired)))
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s Quests) Reset(ctx context.Context) error {
	return withTx(ctx, s.DB, func(tx *sql.Tx) error {
		return syncFromSeed(ctx, tx, true)
	})
}
