package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
)

type campaignResponse struct {
	ID                 uuid.UUID              `json:"id"`
	Name               string                 `json:"name"`
	Strategy           domain.DialingStrategy `json:"strategy"`
	DialingRatio       float64                `json:"dialing_ratio"`
	IsActive           bool                   `json:"is_active"`
	CallWindow         callWindowResponse     `json:"call_window"`
	MinCallInterval    string                 `json:"min_call_interval"`
	MaxAttemptsPerLead int                    `json:"max_attempts_per_lead"`
	AutoRecycle        autoRecycleResponse    `json:"auto_recycle"`
	ListIDs            []uuid.UUID            `json:"list_ids"`
	CallerID           string                 `json:"caller_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

type callWindowResponse struct {
	Start          string                `json:"start"`
	End            string                `json:"end"`
	Weekdays       []int                 `json:"weekdays"`
	TimeZone       string                `json:"time_zone"`
	TimeZonePolicy domain.TimeZonePolicy `json:"time_zone_policy"`
}

type autoRecycleResponse struct {
	Enabled         bool `json:"enabled"`
	MaxRecycleCount int  `json:"max_recycle_count"`
	CooldownHours   int  `json:"cooldown_hours"`
}

type campaignStatsResponse struct {
	AttemptsCreated int64 `json:"attempts_created"`
	Connected       int64 `json:"connected"`
	Contacted       int64 `json:"contacted"`
	NoAnswer        int64 `json:"no_answer"`
	Failed          int64 `json:"failed"`
	Excluded        int64 `json:"excluded"`
	Recycled        int64 `json:"recycled"`
}

type stopResponse struct {
	Campaign       campaignResponse `json:"campaign"`
	AttemptsFailed int              `json:"attempts_failed"`
	LeadsReleased  int              `json:"leads_released"`
}

type cycleSummaryResponse struct {
	CampaignID      uuid.UUID              `json:"campaign_id"`
	Strategy        domain.DialingStrategy `json:"strategy,omitempty"`
	Skipped         string                 `json:"skipped,omitempty"`
	AgentsAvailable int                    `json:"agents_available"`
	CallsNeeded     int                    `json:"calls_needed"`
	LeadsConsidered int                    `json:"leads_considered"`
	AttemptsCreated int                    `json:"attempts_created"`
	LeadsQueued     int                    `json:"leads_queued"`
	LeadsExcluded   int                    `json:"leads_excluded"`
	Errors          int                    `json:"errors"`
}

type triggerResponse struct {
	CampaignsProcessed int `json:"campaigns_processed"`
	CampaignsSkipped   int `json:"campaigns_skipped"`
	CampaignsFailed    int `json:"campaigns_failed"`
	AttemptsCreated    int `json:"attempts_created"`
	LeadsQueued        int `json:"leads_queued"`
	LeadsExcluded      int `json:"leads_excluded"`
	Errors             int `json:"errors"`
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Start(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Pause(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) stopCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	res, err := h.campaigns.Stop(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(stopResponse{
		Campaign:       toCampaignResponse(campaign),
		AttemptsFailed: res.AttemptsFailed,
		LeadsReleased:  res.LeadsReleased,
	})
}

func (h *HandlerSet) processCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	sum, err := h.campaigns.ProcessNow(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCycleSummaryResponse(sum))
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUIDParam(ctx, "id", "campaign")
	if err != nil {
		return err
	}
	stats, err := h.campaigns.Stats(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse(*stats))
}

func (h *HandlerSet) triggerCycles(ctx *fiber.Ctx) error {
	sum := h.dialing.Trigger(ctx.UserContext())
	return ctx.Status(http.StatusOK).JSON(triggerResponse(sum))
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	weekdays := make([]int, 0, len(c.CallWindow.Weekdays))
	for _, d := range c.CallWindow.Weekdays {
		weekdays = append(weekdays, int(d))
	}
	listIDs := c.ListIDs
	if listIDs == nil {
		listIDs = []uuid.UUID{}
	}
	return campaignResponse{
		ID:           c.ID,
		Name:         c.Name,
		Strategy:     c.Strategy,
		DialingRatio: c.DialingRatio,
		IsActive:     c.IsActive,
		CallWindow: callWindowResponse{
			Start:          c.CallWindow.Start.String(),
			End:            c.CallWindow.End.String(),
			Weekdays:       weekdays,
			TimeZone:       c.CallWindow.TimeZone,
			TimeZonePolicy: c.CallWindow.TimeZonePolicy,
		},
		MinCallInterval:    c.MinCallInterval.String(),
		MaxAttemptsPerLead: c.MaxAttemptsPerLead,
		AutoRecycle:        autoRecycleResponse(c.AutoRecycle),
		ListIDs:            listIDs,
		CallerID:           c.CallerID,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func toCycleSummaryResponse(sum orchestrator.Summary) cycleSummaryResponse {
	return cycleSummaryResponse{
		CampaignID:      sum.CampaignID,
		Strategy:        sum.Strategy,
		Skipped:         string(sum.Skipped),
		AgentsAvailable: sum.AgentsAvailable,
		CallsNeeded:     sum.CallsNeeded,
		LeadsConsidered: sum.LeadsConsidered,
		AttemptsCreated: sum.AttemptsCreated,
		LeadsQueued:     sum.LeadsQueued,
		LeadsExcluded:   sum.LeadsExcluded,
		Errors:          sum.Errors,
	}
}
