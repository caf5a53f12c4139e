package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/campaign-dialer/internal/queue"
)

// telephonyEvent accepts a platform callback and forwards it to the events topic. It is
// applied asynchronously by the status worker, keyed by call id so ordering per call holds.
func (h *HandlerSet) telephonyEvent(ctx *fiber.Ctx) error {
	var msg queue.LifecycleMessage
	if err := ctx.BodyParser(&msg); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(msg); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if _, err := msg.Event(); err != nil {
		return translateError(err)
	}

	if err := h.events.PublishMessage(ctx.UserContext(), msg); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusAccepted)
}
