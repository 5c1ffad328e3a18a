package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"questboard/internal/domain"
)

// questSeed mirrors domain.Quest but keeps isAvailable optional so seeds can
// leave it out.
type questSeed struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Difficulty  string `yaml:"difficulty" json:"difficulty"`
	RewardGold  int    `yaml:"rewardGold" json:"rewardGold"`
	RewardItem  string `yaml:"rewardItem" json:"rewardItem"`
	IsAvailable *bool  `yaml:"isAvailable" json:"isAvailable"`
	Location    string `yaml:"location" json:"location"`
	QuestGiver  string `yaml:"questGiver" json:"questGiver"`
}

func (s questSeed) quest() domain.Quest {
	available := true
	if s.IsAvailable != nil {
		available = *s.IsAvailable
	}
	return domain.Quest{
		ID:          strings.TrimSpace(s.ID),
		Title:       s.Title,
		Description: s.Description,
		Difficulty:  s.Difficulty,
		RewardGold:  s.RewardGold,
		RewardItem:  s.RewardItem,
		IsAvailable: available,
		Location:    s.Location,
		QuestGiver:  s.QuestGiver,
	}
}

// ParseQuests decodes an ordered quest list. JSON is tried when the payload
// starts with '[', YAML otherwise.
func ParseQuests(data []byte) ([]domain.Quest, error) {
	var seeds []questSeed
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &seeds); err != nil {
			return nil, fmt.Errorf("invalid quest seed json: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("invalid quest seed yaml: %w", err)
	}
	quests := make([]domain.Quest, 0, len(seeds))
	for _, s := range seeds {
		quests = append(quests, s.quest())
	}
	return quests, nil
}

// LoadQuests reads the seed at path, or the built-in board when path is empty.
func LoadQuests(path string) ([]domain.Quest, error) {
	if path == "" {
		return DefaultQuests(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quest seed %s: %w", filepath.Base(path), err)
	}
	return ParseQuests(data)
}

// DefaultQuests returns the built-in Mage Guild board.
func DefaultQuests() []domain.Quest {
	quests, err := ParseQuests([]byte(defaultQuests))
	if err != nil {
		panic(err)
	}
	return quests
}

const defaultQuests = `- id: mg-01
  title: First Lessons
  description: Attend Tolfdir's lesson in the Hall of the Elements and learn to ward against hostile spells.
  difficulty: Novice
  rewardGold: 50
  rewardItem: Spell Tome - Lesser Ward
  location: College of Winterhold
  questGiver: Tolfdir
- id: mg-02
  title: Under Saarthal
  description: Accompany Tolfdir to the excavation at Saarthal and recover whatever the Nords sealed away.
  difficulty: Apprentice
  rewardGold: 150
  rewardItem: Saarthal Amulet
  location: Saarthal
  questGiver: Tolfdir
- id: mg-03
  title: Hitting the Books
  description: Retrieve the stolen texts on the Eye of Magnus from Fellglow Keep for Urag gro-Shub.
  difficulty: Apprentice
  rewardGold: 200
  rewardItem: Spell Tome - Fire Rune
  location: Fellglow Keep
  questGiver: Urag gro-Shub
- id: mg-04
  title: Good Intentions
  description: Meet the Augur of Dunlain beneath the Midden and learn what the Psijic Order wants.
  difficulty: Adept
  rewardGold: 250
  rewardItem: Augur's Focus
  location: The Midden
  questGiver: Savos Aren
- id: mg-05
  title: Revealing the Unseen
  description: Search Mzulft for the Oculory and map the true power of the Eye of Magnus.
  difficulty: Adept
  rewardGold: 400
  rewardItem: Staff of Magnus
  location: Mzulft
  questGiver: Savos Aren
- id: mg-06
  title: Containment
  description: Hold back the magical anomalies loose in Winterhold while the Arch-Mage studies the Eye.
  difficulty: Expert
  rewardGold: 500
  rewardItem: Ring of Dispelling
  location: Winterhold
  questGiver: Tolfdir
- id: mg-07
  title: The Staff of Magnus
  description: Venture into Labyrinthian to recover the Staff of Magnus from Morokei.
  difficulty: Expert
  rewardGold: 750
  rewardItem: Morokei Mask
  location: Labyrinthian
  questGiver: Mirabelle Ervine
- id: mg-08
  title: The Eye of Magnus
  description: Confront Ancano in the Hall of the Elements before the Eye tears the College apart.
  difficulty: Master
  rewardGold: 1500
  rewardItem: Archmage's Robes
  location: College of Winterhold
  questGiver: Tolfdir
`
