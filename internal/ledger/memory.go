package ledger

import (
	"context"

	"questboard/internal/domain"
)

type pairKey struct {
	questID    string
	adventurer string
}

// MemoryStore keeps enrollments in process, keyed by id with secondary
// indexes by adventurer and by active (quest, adventurer) pair. It does not
// lock; the Ledger guards it.
type MemoryStore struct {
	byID         map[string]domain.Enrollment
	byAdventurer map[string][]string
	active       map[pairKey]string
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.clear()
	return s
}

func (s *MemoryStore) clear() {
	s.byID = map[string]domain.Enrollment{}
	s.byAdventurer = map[string][]string{}
	s.active = map[pairKey]string{}
}

func (s *MemoryStore) Insert(ctx context.Context, e domain.Enrollment) error {
	if _, dup := s.byID[e.ID]; dup {
		return domain.Conflictf("enrollment %s already exists", e.ID)
	}
	key := pairKey{e.QuestID, e.AdventurerName}
	if e.Active() {
		if id, taken := s.active[key]; taken {
			return domain.Conflictf("adventurer %s already has quest %s in progress (%s)", e.AdventurerName, e.QuestID, id)
		}
		s.active[key] = e.ID
	}
	s.byID[e.ID] = e
	s.byAdventurer[e.AdventurerName] = append(s.byAdventurer[e.AdventurerName], e.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Enrollment, error) {
	e, ok := s.byID[id]
	if !ok {
		return domain.Enrollment{}, domain.NotFoundf("enrollment %s not found", id)
	}
	return e, nil
}

// Update replaces the stored record. QuestID and AdventurerName are immutable.
func (s *MemoryStore) Update(ctx context.Context, e domain.Enrollment) error {
	prev, ok := s.byID[e.ID]
	if !ok {
		return domain.NotFoundf("enrollment %s not found", e.ID)
	}
	e.QuestID, e.AdventurerName = prev.QuestID, prev.AdventurerName
	key := pairKey{e.QuestID, e.AdventurerName}
	if prev.Active() && !e.Active() {
		delete(s.active, key)
	}
	s.byID[e.ID] = e
	return nil
}

func (s *MemoryStore) Active(ctx context.Context, questID, adventurer string) (domain.Enrollment, bool, error) {
	id, ok := s.active[pairKey{questID, adventurer}]
	if !ok {
		return domain.Enrollment{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *MemoryStore) ListByAdventurer(ctx context.Context, adventurer string) ([]domain.Enrollment, error) {
	ids := s.byAdventurer[adventurer]
	out := make([]domain.Enrollment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.clear()
	return nil
}
