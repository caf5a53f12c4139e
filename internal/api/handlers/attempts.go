package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	"github.com/acme/campaign-dialer/pkg/pagetoken"
)

type attemptResponse struct {
	ID              uuid.UUID           `json:"id"`
	CampaignID      uuid.UUID           `json:"campaign_id"`
	LeadID          uuid.UUID           `json:"lead_id"`
	AgentID         *uuid.UUID          `json:"agent_id,omitempty"`
	ExternalCallID  string              `json:"external_call_id,omitempty"`
	State           domain.AttemptState `json:"state"`
	StartedAt       time.Time           `json:"started_at"`
	AnsweredAt      *time.Time          `json:"answered_at,omitempty"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
	OutcomeCode     domain.OutcomeCode  `json:"outcome_code,omitempty"`
	DurationSeconds int                 `json:"duration_seconds"`
}

type attemptEventResponse struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	LeadID         uuid.UUID           `json:"lead_id"`
	ExternalCallID string              `json:"external_call_id,omitempty"`
	State          domain.AttemptState `json:"state"`
	OutcomeCode    domain.OutcomeCode  `json:"outcome_code,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

type attemptHistoryResponse struct {
	Events   []attemptEventResponse `json:"events"`
	NextPage string                 `json:"next_page_token,omitempty"`
}

type manualDialRequest struct {
	AgentID string `json:"agent_id" validate:"required,uuid"`
}

func (h *HandlerSet) getAttempt(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "attempt")
	if err != nil {
		return err
	}
	attempt, err := h.campaigns.Attempt(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *HandlerSet) listAttemptHistory(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	state, err := pagetoken.Decode(ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	events, next, err := h.campaigns.History(ctx.UserContext(), id, ctx.QueryInt("limit", 100), state)
	if err != nil {
		return translateError(err)
	}

	resp := attemptHistoryResponse{Events: make([]attemptEventResponse, 0, len(events)), NextPage: pagetoken.Encode(next)}
	for _, ev := range events {
		resp.Events = append(resp.Events, attemptEventResponse{
			AttemptID:      ev.AttemptID,
			LeadID:         ev.LeadID,
			ExternalCallID: ev.ExternalCallID,
			State:          ev.State,
			OutcomeCode:    ev.OutcomeCode,
			OccurredAt:     ev.OccurredAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) manualDial(ctx *fiber.Ctx) error {
	campaignID, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	leadID, err := parseUUIDParam(ctx, "leadId", "lead")
	if err != nil {
		return err
	}

	var req manualDialRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "agent_id must be a uuid")
	}

	attempt, err := h.dialing.ManualDial(ctx.UserContext(), orchestrator.ManualDialInput{
		CampaignID: campaignID,
		LeadID:     leadID,
		AgentID:    uuid.MustParse(req.AgentID),
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusAccepted).JSON(toAttemptResponse(attempt))
}

func toAttemptResponse(a *domain.CallAttempt) attemptResponse {
	return attemptResponse{
		ID:              a.ID,
		CampaignID:      a.CampaignID,
		LeadID:          a.LeadID,
		AgentID:         a.AgentID,
		ExternalCallID:  a.ExternalCallID,
		State:           a.State,
		StartedAt:       a.StartedAt,
		AnsweredAt:      a.AnsweredAt,
		EndedAt:         a.EndedAt,
		OutcomeCode:     a.OutcomeCode,
		DurationSeconds: a.DurationSeconds,
	}
}
