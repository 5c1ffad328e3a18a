package questboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Questboard HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Quest is a quest board entry.
type Quest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	RewardGold  int    `json:"rewardGold"`
	RewardItem  string `json:"rewardItem"`
	IsAvailable bool   `json:"isAvailable"`
	Location    string `json:"location"`
	QuestGiver  string `json:"questGiver"`
}

// Enrollment is an adventurer's attempt at a quest.
type Enrollment struct {
	ID             string  `json:"id"`
	QuestID        string  `json:"questId"`
	AdventurerName string  `json:"adventurerName"`
	EnrolledDate   string  `json:"enrolledDate"`
	Status         string  `json:"status"`
	CompletedDate  *string `json:"completedDate,omitempty"`
	RewardClaimed  bool    `json:"rewardClaimed"`
}

// Claim is the payout of a claimed reward.
type Claim struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	GoldReceived int    `json:"goldReceived"`
	ItemReceived string `json:"itemReceived"`
	ReceiptToken string `json:"receiptToken,omitempty"`
}

// ReceiptClaims is the verified content of a receipt token.
type ReceiptClaims struct {
	Valid          bool   `json:"valid"`
	EnrollmentID   string `json:"enrollmentId"`
	QuestID        string `json:"questId"`
	AdventurerName string `json:"adventurerName"`
	GoldReceived   int    `json:"goldReceived"`
	ItemReceived   string `json:"itemReceived,omitempty"`
	IssuedAt       string `json:"issuedAt,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts"`
	Type           string         `json:"type"`
	QuestID        string         `json:"questId"`
	EnrollmentID   string         `json:"enrollmentId"`
	AdventurerName string         `json:"adventurerName"`
	Payload        map[string]any `json:"payload"`
}

// EventFilter narrows an event listing. Zero fields are ignored.
type EventFilter struct {
	Type         string
	QuestID      string
	EnrollmentID string
	Adventurer   string
	Limit        int
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Quests returns the quests currently on the board.
func (c *Client) Quests(ctx context.Context) ([]Quest, error) {
	var resp []Quest
	err := c.do(ctx, http.MethodGet, "quests", nil, &resp)
	return resp, err
}

// AllQuests returns every quest including taken ones.
func (c *Client) AllQuests(ctx context.Context) ([]Quest, error) {
	var resp []Quest
	err := c.do(ctx, http.MethodGet, "quests?all=true", nil, &resp)
	return resp, err
}

// Quest fetches one quest.
func (c *Client) Quest(ctx context.Context, id string) (Quest, error) {
	var resp Quest
	err := c.do(ctx, http.MethodGet, "quests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Enroll takes a quest for an adventurer.
func (c *Client) Enroll(ctx context.Context, questID, adventurer string) (Enrollment, error) {
	body := map[string]any{
		"questId":        questID,
		"adventurerName": adventurer,
	}
	var resp Enrollment
	err := c.do(ctx, http.MethodPost, "quests/enroll", body, &resp)
	return resp, err
}

// Cancel abandons the adventurer's in-progress enrollment for a quest.
func (c *Client) Cancel(ctx context.Context, questID, adventurer string) (Enrollment, error) {
	body := map[string]any{
		"questId":        questID,
		"adventurerName": adventurer,
	}
	var resp Enrollment
	err := c.do(ctx, http.MethodPost, "quests/cancel", body, &resp)
	return resp, err
}

// Complete marks an enrollment completed.
func (c *Client) Complete(ctx context.Context, enrollmentID string) error {
	body := map[string]any{"enrollmentId": enrollmentID}
	return c.do(ctx, http.MethodPost, "quests/complete", body, nil)
}

// ClaimReward pays out a completed enrollment.
func (c *Client) ClaimReward(ctx context.Context, enrollmentID string) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodPost, "quests/claim-reward/"+url.PathEscape(enrollmentID), nil, &resp)
	return resp, err
}

// Enrollments lists an adventurer's enrollments in creation order.
func (c *Client) Enrollments(ctx context.Context, adventurer string) ([]Enrollment, error) {
	var resp []Enrollment
	err := c.do(ctx, http.MethodGet, "quests/enrollments/"+url.PathEscape(adventurer), nil, &resp)
	return resp, err
}

// Enrollment fetches one enrollment.
func (c *Client) Enrollment(ctx context.Context, id string) (Enrollment, error) {
	var resp Enrollment
	err := c.do(ctx, http.MethodGet, "enrollments/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Reset clears every enrollment and reloads the quest board.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "quests/reset", nil, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, f EventFilter) ([]Event, error) {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.QuestID != "" {
		q.Set("questId", f.QuestID)
	}
	if f.EnrollmentID != "" {
		q.Set("enrollmentId", f.EnrollmentID)
	}
	if f.Adventurer != "" {
		q.Set("adventurer", f.Adventurer)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// VerifyReceipt checks a receipt token issued by ClaimReward.
func (c *Client) VerifyReceipt(ctx context.Context, token string) (ReceiptClaims, error) {
	body := map[string]any{"receiptToken": token}
	var resp ReceiptClaims
	err := c.do(ctx, http.MethodPost, "receipts/verify", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
