package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/domain"
	"github.com/busfleet/backend/internal/service"
	"github.com/busfleet/backend/internal/sse"
)

// Handler contains all HTTP handlers
type Handler struct {
	deviceSvc  *service.DeviceService
	messageSvc *service.MessageService
	repo       service.Repository
	hub        *sse.Hub
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(deviceSvc *service.DeviceService, messageSvc *service.MessageService, repo service.Repository, hub *sse.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		deviceSvc:  deviceSvc,
		messageSvc: messageSvc,
		repo:       repo,
		hub:        hub,
		validate:   validator.New(),
		log:        log.With().Str("component", "http").Logger(),
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	status := "ok"
	if err := h.repo.Health(c.Context()); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":      status,
		"service":     "busfleet-backend",
		"subscribers": h.hub.Len(),
	})
}

// PostHeartbeat ingests one device heartbeat. The heartbeat is
// acknowledged once device state is stored; the arrival update behind
// it is best effort and never fails the acknowledgement.
func (h *Handler) PostHeartbeat(c *fiber.Ctx) error {
	var hb domain.Heartbeat
	if err := c.BodyParser(&hb); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(hb); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "deviceId is required")
	}

	if err := h.deviceSvc.RecordHeartbeat(c.Context(), hb); err != nil {
		h.log.Error().Err(err).Str("device", hb.DeviceID).Msg("heartbeat rejected")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to record heartbeat")
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetArrivals returns the current arrival record for one stop.
func (h *Handler) GetArrivals(c *fiber.Ctx) error {
	routeID := c.Query("routeId")
	stopID := c.Query("stopId")
	if routeID == "" || stopID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "routeId and stopId are required")
	}

	rec, err := h.repo.GetArrivals(c.Context(), routeID, stopID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch arrivals")
	}
	if rec == nil {
		return fiber.NewError(fiber.StatusNotFound, "No arrivals for this stop")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    rec,
	})
}

// GetRouteArrivals returns arrival records for every stop on a route.
func (h *Handler) GetRouteArrivals(c *fiber.Ctx) error {
	routeID := c.Params("routeId")

	records, err := h.repo.ListArrivalsByRoute(c.Context(), routeID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch route arrivals")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
		"count":   len(records),
	})
}

// GetDevice returns the last-known state for one device.
func (h *Handler) GetDevice(c *fiber.Ctx) error {
	st, err := h.deviceSvc.GetDeviceState(c.Context(), c.Params("deviceId"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch device state")
	}
	if st == nil {
		return fiber.NewError(fiber.StatusNotFound, "Unknown device")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    st,
	})
}

type postMessageRequest struct {
	DeviceID string `json:"deviceId"`
	Sender   string `json:"sender"`
	Body     string `json:"body" validate:"required"`
}

// PostMessage logs an operator message and pushes it to live viewers.
func (h *Handler) PostMessage(c *fiber.Ctx) error {
	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "body is required")
	}

	saved, err := h.messageSvc.Send(c.Context(), domain.Message{
		DeviceID: req.DeviceID,
		Sender:   req.Sender,
		Body:     req.Body,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to send message")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    saved,
	})
}

// GetMessages returns recent messages for a device (plus fleet-wide ones).
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	messages, err := h.messageSvc.List(c.Context(), c.Query("deviceId"), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch messages")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    messages,
		"count":   len(messages),
	})
}
