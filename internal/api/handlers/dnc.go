package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/pkg/phone"
)

type dncEntryResponse struct {
	Scope     domain.DncScope `json:"scope"`
	ScopeID   *uuid.UUID      `json:"scope_id,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type dncCheckResponse struct {
	PhoneNumber string             `json:"phone_number"`
	Listed      bool               `json:"listed"`
	Entries     []dncEntryResponse `json:"entries"`
}

// checkDnc reports whether a number may be dialed right now. Without campaign_id or
// list_id only global entries apply.
func (h *HandlerSet) checkDnc(ctx *fiber.Ctx) error {
	raw := ctx.Query("phone")
	if raw == "" {
		return fiber.NewError(http.StatusBadRequest, "phone is required")
	}
	number, err := phone.NormalizeE164(raw, h.region)
	if err != nil {
		return translateError(err)
	}

	var campaignID, listID uuid.UUID
	if v := ctx.Query("campaign_id"); v != "" {
		if campaignID, err = uuid.Parse(v); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
		}
	}
	if v := ctx.Query("list_id"); v != "" {
		if listID, err = uuid.Parse(v); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid list id")
		}
	}

	entries, err := h.dnc.Lookup(ctx.UserContext(), []string{number})
	if err != nil {
		return translateError(err)
	}

	now := h.clock()
	resp := dncCheckResponse{PhoneNumber: number, Entries: []dncEntryResponse{}}
	for _, e := range entries {
		if !e.Active(now) || !e.Covers(campaignID, listID) {
			continue
		}
		resp.Listed = true
		resp.Entries = append(resp.Entries, dncEntryResponse{Scope: e.Scope, ScopeID: e.ScopeID, ExpiresAt: e.ExpiresAt})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}
