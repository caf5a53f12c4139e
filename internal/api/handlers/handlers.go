package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/queue"
	campaignsvc "github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// CampaignService is the campaign control surface.
type CampaignService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Stop(ctx context.Context, id uuid.UUID) (campaignsvc.StopResult, error)
	ProcessNow(ctx context.Context, id uuid.UUID) (orchestrator.Summary, error)
	Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error)
	Attempt(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error)
	History(ctx context.Context, id uuid.UUID, limit int, pageState []byte) ([]domain.AttemptEvent, []byte, error)
}

// Dialing exposes the orchestrator operations reachable over HTTP.
type Dialing interface {
	ManualDial(ctx context.Context, in orchestrator.ManualDialInput) (*domain.CallAttempt, error)
	Trigger(ctx context.Context) orchestrator.TriggerSummary
}

// DncLookup finds do-not-call entries for numbers.
type DncLookup interface {
	Lookup(ctx context.Context, numbers []string) ([]domain.DncEntry, error)
}

// EventPublisher forwards inbound telephony callbacks to the events topic.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg queue.LifecycleMessage) error
}

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// Dependencies wires a HandlerSet.
type Dependencies struct {
	Campaigns     CampaignService
	Dialing       Dialing
	Dnc           DncLookup
	Events        EventPublisher
	Health        map[string]HealthCheck
	Logger        *logger.Logger
	Clock         func() time.Time
	DefaultRegion string
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	campaigns CampaignService
	dialing   Dialing
	dnc       DncLookup
	events    EventPublisher
	health    map[string]HealthCheck
	logger    *logger.Logger
	clock     func() time.Time
	region    string
	validate  *validator.Validate
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	lg := deps.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &HandlerSet{
		campaigns: deps.Campaigns,
		dialing:   deps.Dialing,
		dnc:       deps.Dnc,
		events:    deps.Events,
		health:    deps.Health,
		logger:    lg.Named("http"),
		clock:     clock,
		region:    deps.DefaultRegion,
		validate:  validator.New(),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := app.Group("/api").Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/stop", h.stopCampaign)
	campaigns.Post("/:id/process", h.processCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Get("/:id/attempts", h.listAttemptHistory)
	campaigns.Post("/:id/leads/:leadId/dial", h.manualDial)

	v1.Get("/attempts/:id", h.getAttempt)
	v1.Post("/cycles/trigger", h.triggerCycles)
	v1.Get("/dnc/check", h.checkDnc)

	app.Post("/webhooks/telephony/events", h.telephonyEvent)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", ctx.Path()))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}
	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

func parseUUIDParam(ctx *fiber.Ctx, name, label string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+label+" id")
	}
	return id, nil
}
