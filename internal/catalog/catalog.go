// Package catalog holds quest definitions. Availability is the only mutable
// field and changes only through TrySetAvailability.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"questboard/internal/domain"
)

// Memory is an arena of quests addressed by id, kept in load order.
type Memory struct {
	mu     sync.RWMutex
	seed   []domain.Quest
	quests []domain.Quest
	index  map[string]int
}

// NewMemory validates the seed and loads it.
func NewMemory(seed []domain.Quest) (*Memory, error) {
	if err := Validate(seed); err != nil {
		return nil, err
	}
	c := &Memory{seed: append([]domain.Quest(nil), seed...)}
	c.load()
	return c, nil
}

// Validate checks the structural rules every quest seed must satisfy.
func Validate(seed []domain.Quest) error {
	seen := make(map[string]struct{}, len(seed))
	for i, q := range seed {
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("quest #%d: id is required", i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("quest %s: duplicate id", q.ID)
		}
		if q.RewardGold < 0 {
			return fmt.Errorf("quest %s: rewardGold must be non-negative", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

func (c *Memory) load() {
	c.quests = append([]domain.Quest(nil), c.seed...)
	c.index = make(map[string]int, len(c.quests))
	for i, q := range c.quests {
		c.index[q.ID] = i
	}
}

// List returns every quest in load order.
func (c *Memory) List(ctx context.Context) ([]domain.Quest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Quest(nil), c.quests...), nil
}

// ListAvailable returns the quests currently open for enrollment, in load order.
func (c *Memory) ListAvailable(ctx context.Context) ([]domain.Quest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Quest, 0, len(c.quests))
	for _, q := range c.quests {
		if q.IsAvailable {
			out = append(out, q)
		}
	}
	return out, nil
}

func (c *Memory) Get(ctx context.Context, id string) (domain.Quest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return domain.Quest{}, domain.NotFoundf("quest %s not found", id)
	}
	return c.quests[i], nil
}

// TrySetAvailability sets IsAvailable to desired only when it currently equals expected.
func (c *Memory) TrySetAvailability(ctx context.Context, id string, desired, expected bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false, domain.NotFoundf("quest %s not found", id)
	}
	if c.quests[i].IsAvailable != expected {
		return false, nil
	}
	c.quests[i].IsAvailable = desired
	return true, nil
}

// Reset reloads the catalog from its seed.
func (c *Memory) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	return nil
}
