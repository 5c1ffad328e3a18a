package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/catalog"
	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/ledger"
	"questboard/internal/receipt"
)

type testServer struct {
	URL    string
	Ledger *ledger.Ledger
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func testQuests() []domain.Quest {
	return []domain.Quest{
		{ID: "mg-01", Title: "First Lessons", Difficulty: "Novice", RewardGold: 50, RewardItem: "Spell Tome", IsAvailable: true, Location: "College of Winterhold", QuestGiver: "Tolfdir"},
		{ID: "mg-02", Title: "Under Saarthal", Difficulty: "Apprentice", RewardGold: 150, RewardItem: "Saarthal Amulet", IsAvailable: true, Location: "Saarthal", QuestGiver: "Tolfdir"},
	}
}

func newTestServer(t *testing.T, signer ReceiptSigner) (*testServer, func()) {
	t.Helper()
	cat, err := catalog.NewMemory(testQuests())
	require.NoError(t, err)
	log := events.NewMemory()
	l, err := ledger.New(ledger.Config{
		Catalog: cat,
		Store:   ledger.NewMemoryStore(),
		Events:  log,
		Policy:  ledger.DefaultPolicy(),
	})
	require.NoError(t, err)
	handler, err := New(Config{Ledger: l, Quests: cat, Events: log, Signer: signer, BasePath: "/api"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Ledger: l,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func requireError(t *testing.T, res *http.Response, data []byte, status int, code string) apiErrorBody {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	assert.Equal(t, code, env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
	return env.Error
}

func TestQuestLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/quests", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	quests := decode[[]QuestResponse](t, data)
	require.Len(t, quests, 2)
	assert.Equal(t, "mg-01", quests[0].ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/enroll", EnrollRequest{QuestID: "mg-02", AdventurerName: "Aria"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	enrolled := decode[EnrollmentResponse](t, data)
	assert.Equal(t, "InProgress", enrolled.Status)
	assert.Nil(t, enrolled.CompletedDate)
	assert.Regexp(t, `^enrollment-[0-9a-f-]{36}$`, enrolled.ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/enroll", EnrollRequest{QuestID: "mg-02", AdventurerName: "Bram"})
	body := requireError(t, res, data, http.StatusConflict, "conflict")
	assert.Contains(t, body.Message, "mg-02")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]QuestResponse](t, data), 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests?all=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]QuestResponse](t, data), 2)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/claim-reward/"+enrolled.ID, nil)
	requireError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/complete", CompleteRequest{EnrollmentID: enrolled.ID})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	completed := decode[CompleteResponse](t, data)
	assert.Equal(t, "Quest completed successfully!", completed.Message)
	assert.Equal(t, enrolled.ID, completed.EnrollmentID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/claim-reward/"+enrolled.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	claim := decode[ClaimResponse](t, data)
	assert.True(t, claim.Success)
	assert.Equal(t, "Reward claimed successfully!", claim.Message)
	assert.Equal(t, 150, claim.GoldReceived)
	assert.Equal(t, "Saarthal Amulet", claim.ItemReceived)
	assert.Empty(t, claim.ReceiptToken)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/claim-reward/"+enrolled.ID, nil)
	requireError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/enrollments/"+enrolled.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	got := decode[EnrollmentResponse](t, data)
	assert.Equal(t, "Completed", got.Status)
	assert.True(t, got.RewardClaimed)
	require.NotNil(t, got.CompletedDate)
	enrolledAt, err := time.Parse(time.RFC3339Nano, got.EnrolledDate)
	require.NoError(t, err)
	completedAt, err := time.Parse(time.RFC3339Nano, *got.CompletedDate)
	require.NoError(t, err)
	assert.False(t, completedAt.Before(enrolledAt))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests/enrollments/Aria", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list := decode[[]EnrollmentResponse](t, data)
	require.Len(t, list, 1)
	assert.Equal(t, enrolled.ID, list[0].ID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests/enrollments/Nobody", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, string(data))
}

func TestCancelReopensQuest(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/enroll", EnrollRequest{QuestID: "mg-01", AdventurerName: "Aria"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	enrolled := decode[EnrollmentResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/cancel", EnrollRequest{QuestID: "mg-01", AdventurerName: "Aria"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Abandoned", decode[EnrollmentResponse](t, data).Status)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests/mg-01", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decode[QuestResponse](t, data).IsAvailable)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/complete", CompleteRequest{EnrollmentID: enrolled.ID})
	requireError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/cancel", EnrollRequest{QuestID: "mg-01", AdventurerName: "Aria"})
	requireError(t, res, data, http.StatusNotFound, "not_found")
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown quest", http.MethodGet, "/api/quests/nope", nil, http.StatusNotFound, "not_found"},
		{"enroll unknown quest", http.MethodPost, "/api/quests/enroll", EnrollRequest{QuestID: "nope", AdventurerName: "Aria"}, http.StatusNotFound, "not_found"},
		{"blank adventurer", http.MethodPost, "/api/quests/enroll", EnrollRequest{QuestID: "mg-01", AdventurerName: "   "}, http.StatusBadRequest, "bad_request"},
		{"missing fields", http.MethodPost, "/api/quests/enroll", map[string]any{}, http.StatusBadRequest, "bad_request"},
		{"unknown enrollment", http.MethodGet, "/api/enrollments/enrollment-x", nil, http.StatusNotFound, "not_found"},
		{"complete unknown", http.MethodPost, "/api/quests/complete", CompleteRequest{EnrollmentID: "enrollment-x"}, http.StatusNotFound, "not_found"},
		{"claim unknown", http.MethodPost, "/api/quests/claim-reward/enrollment-x", nil, http.StatusNotFound, "not_found"},
		{"receipts disabled", http.MethodPost, "/api/receipts/verify", VerifyReceiptRequest{ReceiptToken: "abc"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body)
			requireError(t, res, data, tc.status, tc.code)
		})
	}
}

func TestSignedReceipts(t *testing.T) {
	signer := receipt.NewSigner("s3cret", time.Hour)
	srv, cleanup := newTestServer(t, signer)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	e, err := srv.Ledger.Enroll(ctx, "mg-01", "Aria")
	require.NoError(t, err)
	_, err = srv.Ledger.Complete(ctx, e.ID)
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/claim-reward/"+e.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	claim := decode[ClaimResponse](t, data)
	require.NotEmpty(t, claim.ReceiptToken)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/receipts/verify", VerifyReceiptRequest{ReceiptToken: claim.ReceiptToken})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	verified := decode[ReceiptClaimsResponse](t, data)
	assert.True(t, verified.Valid)
	assert.Equal(t, e.ID, verified.EnrollmentID)
	assert.Equal(t, "Aria", verified.AdventurerName)
	assert.Equal(t, 50, verified.GoldReceived)
	assert.NotEmpty(t, verified.ExpiresAt)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/receipts/verify", VerifyReceiptRequest{ReceiptToken: claim.ReceiptToken + "x"})
	requireError(t, res, data, http.StatusBadRequest, "bad_request")
}

type brokenSigner struct{}

func (brokenSigner) Sign(domain.ClaimReceipt) (string, error) {
	return "", errors.New("hsm offline")
}

func (brokenSigner) Verify(string) (receipt.Claims, error) {
	return receipt.Claims{}, domain.InvalidInputf("hsm offline")
}

func TestClaimSurvivesSigningFailure(t *testing.T) {
	srv, cleanup := newTestServer(t, brokenSigner{})
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	e, err := srv.Ledger.Enroll(ctx, "mg-02", "Aria")
	require.NoError(t, err)
	_, err = srv.Ledger.Complete(ctx, e.ID)
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/claim-reward/"+e.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	claim := decode[ClaimResponse](t, data)
	assert.True(t, claim.Success)
	assert.Equal(t, 150, claim.GoldReceived)
	assert.Empty(t, claim.ReceiptToken)

	got, err := srv.Ledger.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.RewardClaimed)
}

func TestVerifyWithoutSigner(t *testing.T) {
	var disabled *receipt.Signer
	srv, cleanup := newTestServer(t, disabled)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/receipts/verify", VerifyReceiptRequest{ReceiptToken: "abc"})
	requireError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/api/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for _, b := range bodies {
		require.NotEmpty(t, b)
		assert.Equal(t, bodies[0], b)
	}
}

func TestEventsAndReset(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	_, err := srv.Ledger.Enroll(ctx, "mg-01", "Aria")
	require.NoError(t, err)
	_, err = srv.Ledger.Enroll(ctx, "mg-02", "Bram")
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/events?adventurer=Aria", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	evts := decode[[]EventResponse](t, data)
	require.Len(t, evts, 1)
	assert.Equal(t, "enrollment.created", evts[0].Type)
	assert.Equal(t, "mg-01", evts[0].QuestID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/quests/reset", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, decode[ResetResponse](t, data).Success)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/quests", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]QuestResponse](t, data), 2)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/events?limit=1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	evts = decode[[]EventResponse](t, data)
	require.Len(t, evts, 1)
	assert.Equal(t, "ledger.reset", evts[0].Type)
}

func TestHealthDocsAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/openapi.json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	oas := decode[map[string]any](t, data)
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/quests/enroll")
	assert.Contains(t, paths, "/api/quests/claim-reward/{enrollmentId}")

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "questboard_http_requests_total")
}
