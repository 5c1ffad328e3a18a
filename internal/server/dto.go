package server

import (
	"time"

	"questboard/internal/domain"
	"questboard/internal/receipt"
)

// Request payloads

type EnrollRequest struct {
	QuestID        string `json:"questId" minLength:"1" example:"mg-02"`
	AdventurerName string `json:"adventurerName" example:"Aria"`
}

type CompleteRequest struct {
	EnrollmentID string `json:"enrollmentId" minLength:"1"`
}

type VerifyReceiptRequest struct {
	ReceiptToken string `json:"receiptToken"`
}

// Response payloads

type QuestResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty" example:"Apprentice"`
	RewardGold  int    `json:"rewardGold"`
	RewardItem  string `json:"rewardItem"`
	IsAvailable bool   `json:"isAvailable"`
	Location    string `json:"location"`
	QuestGiver  string `json:"questGiver"`
}

type EnrollmentResponse struct {
	ID             string  `json:"id" example:"enrollment-3b8f1c2e-7d1a-4f4e-9a55-0f6c1d2e3a4b"`
	QuestID        string  `json:"questId"`
	AdventurerName string  `json:"adventurerName"`
	EnrolledDate   string  `json:"enrolledDate" format:"date-time"`
	Status         string  `json:"status" enum:"InProgress,Completed,Failed,Abandoned"`
	CompletedDate  *string `json:"completedDate,omitempty" format:"date-time"`
	RewardClaimed  bool    `json:"rewardClaimed"`
}

type CompleteResponse struct {
	Message      string `json:"message" example:"Quest completed successfully!"`
	EnrollmentID string `json:"enrollmentId"`
}

type ClaimResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message" example:"Reward claimed successfully!"`
	GoldReceived int    `json:"goldReceived"`
	ItemReceived string `json:"itemReceived"`
	ReceiptToken string `json:"receiptToken,omitempty"`
}

type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type EventResponse struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts" format:"date-time"`
	Type           string         `json:"type"`
	QuestID        string         `json:"questId,omitempty"`
	EnrollmentID   string         `json:"enrollmentId,omitempty"`
	AdventurerName string         `json:"adventurerName,omitempty"`
	Payload        map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type ReceiptClaimsResponse struct {
	Valid          bool   `json:"valid"`
	EnrollmentID   string `json:"enrollmentId"`
	QuestID        string `json:"questId"`
	AdventurerName string `json:"adventurerName"`
	GoldReceived   int    `json:"goldReceived"`
	ItemReceived   string `json:"itemReceived,omitempty"`
	IssuedAt       string `json:"issuedAt,omitempty" format:"date-time"`
	ExpiresAt      string `json:"expiresAt,omitempty" format:"date-time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func questResponse(q domain.Quest) QuestResponse {
	return QuestResponse{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		Difficulty:  q.Difficulty,
		RewardGold:  q.RewardGold,
		RewardItem:  q.RewardItem,
		IsAvailable: q.IsAvailable,
		Location:    q.Location,
		QuestGiver:  q.QuestGiver,
	}
}

func questResponses(items []domain.Quest) []QuestResponse {
	out := make([]QuestResponse, 0, len(items))
	for _, q := range items {
		out = append(out, questResponse(q))
	}
	return out
}

func enrollmentResponse(e domain.Enrollment) EnrollmentResponse {
	resp := EnrollmentResponse{
		ID:             e.ID,
		QuestID:        e.QuestID,
		AdventurerName: e.AdventurerName,
		EnrolledDate:   formatTime(e.EnrolledAt),
		Status:         e.Status.String(),
		RewardClaimed:  e.RewardClaimed,
	}
	if e.CompletedAt != nil {
		done := formatTime(*e.CompletedAt)
		resp.CompletedDate = &done
	}
	return resp
}

func enrollmentResponses(items []domain.Enrollment) []EnrollmentResponse {
	out := make([]EnrollmentResponse, 0, len(items))
	for _, e := range items {
		out = append(out, enrollmentResponse(e))
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:             evt.ID,
		TS:             formatTime(evt.TS),
		Type:           evt.Type,
		QuestID:        evt.QuestID,
		EnrollmentID:   evt.EnrollmentID,
		AdventurerName: evt.Adventurer,
		Payload:        evt.Payload,
	}
}

func receiptClaimsResponse(c receipt.Claims) ReceiptClaimsResponse {
	resp := ReceiptClaimsResponse{
		Valid:          true,
		EnrollmentID:   c.EnrollmentID(),
		QuestID:        c.QuestID,
		AdventurerName: c.AdventurerName,
		GoldReceived:   c.GoldReceived,
		ItemReceived:   c.ItemReceived,
	}
	if c.IssuedAt != nil {
		resp.IssuedAt = formatTime(c.IssuedAt.Time)
	}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = formatTime(c.ExpiresAt.Time)
	}
	return resp
}
