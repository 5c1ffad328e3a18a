package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/ledger"
)

const (
	completedMessage = "Quest completed successfully!"
	resetMessage     = "All data has been reset. Enrollments were cleared and quests reloaded."
	maxEventLimit    = 200
)

type handlers struct {
	ledger *ledger.Ledger
	quests QuestLister
	events EventReader
	signer ReceiptSigner
	log    zerolog.Logger
}

type enrollmentPath struct {
	EnrollmentID string `path:"enrollmentId"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerQuests(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-quests",
		Method:      http.MethodGet,
		Path:        "/quests",
		Summary:     "List available quests",
		Description: "Quests open for enrollment, in board order. Pass all=true to include quests that are taken.",
	}, func(ctx context.Context, input *struct {
		All bool `query:"all"`
	}) (*struct {
		Body []QuestResponse `json:"body"`
	}, error) {
		list := h.ledger.AvailableQuests
		if input.All && h.quests != nil {
			list = h.quests.List
		}
		items, err := list(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QuestResponse `json:"body"`
		}{Body: questResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quest",
		Method:      http.MethodGet,
		Path:        "/quests/{questId}",
		Summary:     "Get quest",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		QuestID string `path:"questId"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		q, err := h.ledger.Quest(ctx, input.QuestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/quests/reset",
		Summary:     "Reset the board",
		Description: "Clears every enrollment and reloads quests from the seed. The audit log is kept.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ResetResponse `json:"body"`
	}, error) {
		if err := h.ledger.Reset(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResetResponse `json:"body"`
		}{Body: ResetResponse{Success: true, Message: resetMessage}}, nil
	})
}

func registerEnrollments(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "enroll",
		Method:        http.MethodPost,
		Path:          "/quests/enroll",
		Summary:       "Enroll in a quest",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body EnrollRequest `json:"body"`
	}) (*struct {
		Body EnrollmentResponse `json:"body"`
	}, error) {
		e, err := h.ledger.Enroll(ctx, input.Body.QuestID, input.Body.AdventurerName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EnrollmentResponse `json:"body"`
		}{Body: enrollmentResponse(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel",
		Method:      http.MethodPost,
		Path:        "/quests/cancel",
		Summary:     "Abandon an in-progress quest",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body EnrollRequest `json:"body"`
	}) (*struct {
		Body EnrollmentResponse `json:"body"`
	}, error) {
		e, err := h.ledger.Cancel(ctx, input.Body.QuestID, input.Body.AdventurerName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EnrollmentResponse `json:"body"`
		}{Body: enrollmentResponse(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-adventurer-enrollments",
		Method:      http.MethodGet,
		Path:        "/quests/enrollments/{adventurerName}",
		Summary:     "List an adventurer's enrollments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AdventurerName string `path:"adventurerName"`
	}) (*struct {
		Body []EnrollmentResponse `json:"body"`
	}, error) {
		items, err := h.ledger.ListByAdventurer(ctx, input.AdventurerName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EnrollmentResponse `json:"body"`
		}{Body: enrollmentResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-enrollment",
		Method:      http.MethodGet,
		Path:        "/enrollments/{enrollmentId}",
		Summary:     "Get enrollment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *enrollmentPath) (*struct {
		Body EnrollmentResponse `json:"body"`
	}, error) {
		e, err := h.ledger.Get(ctx, input.EnrollmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EnrollmentResponse `json:"body"`
		}{Body: enrollmentResponse(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete",
		Method:      http.MethodPost,
		Path:        "/quests/complete",
		Summary:     "Complete an in-progress quest",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CompleteRequest `json:"body"`
	}) (*struct {
		Body CompleteResponse `json:"body"`
	}, error) {
		e, err := h.ledger.Complete(ctx, input.Body.EnrollmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompleteResponse `json:"body"`
		}{Body: CompleteResponse{Message: completedMessage, EnrollmentID: e.ID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-reward",
		Method:      http.MethodPost,
		Path:        "/quests/claim-reward/{enrollmentId}",
		Summary:     "Claim the reward of a completed quest",
		Description: "Pays out once. When receipt signing is configured the response carries a signed receiptToken; a token that fails to sign is omitted, the payout stands.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *enrollmentPath) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		r, err := h.ledger.ClaimReward(ctx, input.EnrollmentID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ClaimResponse{
			Success:      r.Success,
			Message:      r.Message,
			GoldReceived: r.GoldReceived,
			ItemReceived: r.ItemReceived,
		}
		if h.signer != nil {
			// The claim is committed; a signing failure only drops the token.
			token, err := h.signer.Sign(r)
			if err != nil {
				h.log.Error().Err(err).Str("enrollment_id", r.EnrollmentID).Msg("sign receipt")
			}
			resp.ReceiptToken = token
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Description: "Newest first.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Adventurer   string `query:"adventurer"`
		Type         string `query:"type" doc:"enrollment.created, enrollment.abandoned, enrollment.completed, reward.claimed or ledger.reset"`
		QuestID      string `query:"questId"`
		EnrollmentID string `query:"enrollmentId"`
		Limit        int    `query:"limit" default:"20" minimum:"1"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		resp := []EventResponse{}
		if h.events == nil {
			return &struct {
				Body []EventResponse `json:"body"`
			}{Body: resp}, nil
		}
		limit := input.Limit
		if limit > maxEventLimit {
			limit = maxEventLimit
		}
		items, err := h.events.Latest(ctx, events.Filter{
			Type:         input.Type,
			QuestID:      input.QuestID,
			EnrollmentID: input.EnrollmentID,
			Adventurer:   input.Adventurer,
			Limit:        limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		for _, evt := range items {
			resp = append(resp, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReceipts(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-receipt",
		Method:      http.MethodPost,
		Path:        "/receipts/verify",
		Summary:     "Verify a reward receipt token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body VerifyReceiptRequest `json:"body"`
	}) (*struct {
		Body ReceiptClaimsResponse `json:"body"`
	}, error) {
		if h.signer == nil {
			return nil, handleError(domain.InvalidInputf("receipt verification is not configured"))
		}
		claims, err := h.signer.Verify(input.Body.ReceiptToken)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReceiptClaimsResponse `json:"body"`
		}{Body: receiptClaimsResponse(claims)}, nil
	})
}
