package domain

import (
	"fmt"
	"time"
)

// Quest is a catalog entry. IsAvailable is the only field that changes after load.
type Quest struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Difficulty  string `json:"difficulty" yaml:"difficulty"`
	RewardGold  int    `json:"rewardGold" yaml:"rewardGold"`
	RewardItem  string `json:"rewardItem" yaml:"rewardItem"`
	IsAvailable bool   `json:"isAvailable" yaml:"isAvailable"`
	Location    string `json:"location" yaml:"location"`
	QuestGiver  string `json:"questGiver" yaml:"questGiver"`
}

// Status is the lifecycle state of an enrollment.
type Status uint8

const (
	StatusInProgress Status = iota + 1
	StatusCompleted
	StatusFailed
	StatusAbandoned
)

// Statuses lists every status in declaration order.
var Statuses = []Status{StatusInProgress, StatusCompleted, StatusFailed, StatusAbandoned}

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "InProgress"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusAbandoned:
		return "Abandoned"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusInProgress:
		return false
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	}
	panic(fmt.Sprintf("domain: unhandled status %d", uint8(s)))
}

// ParseStatus maps the wire name back to a Status.
func ParseStatus(v string) (Status, error) {
	for _, s := range Statuses {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown enrollment status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Enrollment is one adventurer's attempt at one quest.
type Enrollment struct {
	ID             string     `json:"id"`
	QuestID        string     `json:"questId"`
	AdventurerName string     `json:"adventurerName"`
	EnrolledAt     time.Time  `json:"enrolledDate"`
	Status         Status     `json:"status"`
	CompletedAt    *time.Time `json:"completedDate,omitempty"`
	RewardClaimed  bool       `json:"rewardClaimed"`
}

// Active reports whether the enrollment still blocks a re-enroll for its pair.
func (e Enrollment) Active() bool {
	return e.Status == StatusInProgress
}

// ClaimReceipt is the payout record for a claimed reward.
type ClaimReceipt struct {
	EnrollmentID   string `json:"enrollmentId"`
	QuestID        string `json:"questId"`
	AdventurerName string `json:"adventurerName"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	GoldReceived int    `json:"goldReceived"`
	ItemReceived string `json:"itemReceived"`
}

// Event is one row of the audit log.
type Event struct {
	ID           int64          `json:"id"`
	TS           time.Time      `json:"ts"`
	Type         string         `json:"type"`
	QuestID      string         `json:"questId,omitempty"`
	EnrollmentID string         `json:"enrollmentId,omitempty"`
	Adventurer   string         `json:"adventurerName,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}
