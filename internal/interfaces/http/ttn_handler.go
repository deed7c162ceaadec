package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/application/dto"
	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// DocumentConsulter consultas al WS El Fatoura.
type DocumentConsulter interface {
	ConsultDocuments(ctx context.Context, creds entity.TTNCredentials, criteria any) (*entity.ConsultResult, error)
	FetchDocumentContent(ctx context.Context, creds entity.TTNCredentials, registrationID string) (string, error)
}

// HTMLRenderer representación HTML del XML sellado por TTN.
type HTMLRenderer interface {
	RenderToHTML(ctx context.Context, base64XML string, creds entity.TTNCredentials, name string) (string, error)
}

// TTNHandler consultas directas a TTN fuera de un lote.
type TTNHandler struct {
	consulter DocumentConsulter
	renderer  HTMLRenderer
	log       zerolog.Logger
}

// NewTTNHandler construye el handler.
func NewTTNHandler(consulter DocumentConsulter, renderer HTMLRenderer, log zerolog.Logger) *TTNHandler {
	return &TTNHandler{consulter: consulter, renderer: renderer, log: log}
}

// Consult ejecuta consultEfact con los criterios recibidos.
// POST /api/ttn/consult
func (h *TTNHandler) Consult(c *fiber.Ctx) error {
	var in dto.ConsultRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	if err := in.Validate(); err != nil {
		return writeError(c, h.log, err)
	}
	criteria, err := decodeCriteria(in.Criteria)
	if err != nil {
		return writeError(c, h.log, err)
	}
	result, err := h.consulter.ConsultDocuments(c.UserContext(), in.Credentials(), criteria)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(result)
}

// ConsultHTML obtiene el XML sellado de un registro y lo devuelve renderizado en HTML.
// POST /api/ttn/consult-html
func (h *TTNHandler) ConsultHTML(c *fiber.Ctx) error {
	var in dto.ConsultHTMLRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	if err := in.Validate(); err != nil {
		return writeError(c, h.log, err)
	}
	invoiceID := strings.TrimSpace(in.InvoiceID)
	if invoiceID == "" {
		return badRequest(c, "invoiceId requerido")
	}
	creds := in.Credentials()
	content, err := h.consulter.FetchDocumentContent(c.UserContext(), creds, invoiceID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	html, err := h.renderer.RenderToHTML(c.UserContext(), content, creds, "facture_"+invoiceID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(html)
}

// decodeCriteria acepta un objeto JSON (criterios consultEfact) o un string (idSaveEfact).
func decodeCriteria(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, fmt.Errorf("%w: criteria: %v", domain.ErrValidation, err)
		}
		return id, nil
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("%w: criteria: %v", domain.ErrValidation, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: criteria debe ser un objeto o un string", domain.ErrValidation)
	}
}
