package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tuscoin/internal/ledger"
	"tuscoin/internal/remote"
	"tuscoin/internal/session"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func badRequest(msg string) error {
	return &fiber.Error{Code: fiber.StatusBadRequest, Message: msg}
}

// classify maps an error to its status and code.
func classify(err error) (int, string) {
	var fe *fiber.Error
	var apiErr *remote.APIError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrSameAsset):
		return fiber.StatusBadRequest, "same_asset"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledger.ErrDustResult):
		return fiber.StatusUnprocessableEntity, "dust_result"
	case errors.Is(err, ledger.ErrPersistence):
		return fiber.StatusServiceUnavailable, "persistence"
	case errors.Is(err, session.ErrRemoteDisabled):
		return fiber.StatusServiceUnavailable, "remote_disabled"
	case errors.Is(err, remote.ErrUnauthorized):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status, "remote_rejected"
		}
		return fiber.StatusBadGateway, "remote_unavailable"
	case errors.As(err, &fe):
		if fe.Code == fiber.StatusNotFound {
			return fe.Code, "not_found"
		}
		return fe.Code, "bad_request"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	event := s.logger.Warn()
	if status >= fiber.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("method", c.Method()).Str("path", c.Path()).Int("status", status).Msg("request failed")
	return c.Status(status).JSON(errorBody{Error: code, Message: err.Error()})
}
