package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/application/dto"
	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// statusFor traduce la categoría del error de dominio a código HTTP.
func statusFor(err error) (int, string) {
	if errors.Is(err, domain.ErrShuttingDown) {
		return fiber.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	kind := domain.Kind(err)
	switch kind {
	case "VALIDATION_ERROR":
		return fiber.StatusBadRequest, kind
	case "CRYPTO_ERROR":
		return fiber.StatusUnprocessableEntity, kind
	case "PROTOCOL_FAULT", "REMOTE_SERVICE_ERROR":
		return fiber.StatusBadGateway, kind
	case "TIMEOUT":
		return fiber.StatusGatewayTimeout, kind
	case "NOT_FOUND":
		return fiber.StatusNotFound, kind
	case "UNAUTHORIZED":
		return fiber.StatusUnauthorized, kind
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}

// writeError responde con dto.ErrorResponse. Los errores internos no exponen el detalle.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	status, code := statusFor(err)
	msg := domain.PublicMessage(err)
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("error interno en handler")
		msg = "error interno"
	} else {
		log.Warn().Err(err).Str("path", c.Path()).Int("status", status).Msg("petición rechazada")
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION_ERROR", Message: msg})
}
