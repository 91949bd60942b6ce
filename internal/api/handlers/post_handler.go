package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.ScheduleService
}

func NewPostHandler(service service.ScheduleService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	result, err := h.s.SchedulePost(c.Context(), userID, &req)
	if err != nil {
		return c.Status(scheduleErrorStatus(err)).JSON(fiber.Map{
			"accepted": false,
			"error":    err.Error(),
		})
	}

	resp := transfer.ScheduleResponse{
		Accepted: result.Accepted,
		Mode:     result.Mode,
		ID:       result.ID,
		Ref:      result.Ref.String(),
		Key:      result.Key,
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	key := c.Query("key")

	cancelled, err := h.s.CancelPost(c.Context(), userID, key)
	if err != nil {
		return c.Status(scheduleErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !cancelled {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No pending post with this key",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func scheduleErrorStatus(err error) int {
	var parseErr *service.ScheduleParseError
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &parseErr), errors.As(err, &validationErr):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
