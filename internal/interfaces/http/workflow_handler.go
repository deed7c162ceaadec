package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/application/dto"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// WorkflowService lotes de facturas en segundo plano.
type WorkflowService interface {
	StartBatch(ctx context.Context, files []entity.InvoiceFile, creds *entity.Credentials) (string, error)
	Cancel(sessionID string) error
	Result(sessionID string) (*entity.WorkflowResult, error)
}

// ArchiveResolver ubica en disco un ZIP generado a partir de su nombre público.
type ArchiveResolver interface {
	Resolve(name string) (string, error)
}

// OperationLogReader lectura del log de operaciones persistido.
type OperationLogReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]*entity.OperationLog, error)
}

// WorkflowHandler maneja el procesamiento por lotes (firma → TTN → validación → HTML → ZIP).
type WorkflowHandler struct {
	workflow  WorkflowService
	archives  ArchiveResolver
	parseCert CertificateParser
	oplog     OperationLogReader // nil si el log no se persiste
	log       zerolog.Logger
}

// NewWorkflowHandler construye el handler.
func NewWorkflowHandler(workflow WorkflowService, archives ArchiveResolver, parseCert CertificateParser, oplog OperationLogReader, log zerolog.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow, archives: archives, parseCert: parseCert, oplog: oplog, log: log}
}

// ProcessInvoices recibe el lote y responde 202 con el sessionId sin esperar al procesamiento.
// POST /api/workflow/process-invoices
func (h *WorkflowHandler) ProcessInvoices(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "se esperaba multipart/form-data")
	}
	files, err := readInvoiceFiles(form)
	if err != nil {
		return writeError(c, h.log, err)
	}
	creds, err := readCredentials(form, auditName(c), h.parseCert)
	if err != nil {
		return writeError(c, h.log, err)
	}

	// El lote sobrevive a la petición: el contexto del request se recicla al responder.
	sessionID, err := h.workflow.StartBatch(context.Background(), files, creds)
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.log.Info().Str("session_id", sessionID).Int("files", len(files)).Str("username", creds.Username).Msg("lote aceptado")

	return c.Status(fiber.StatusAccepted).JSON(dto.ProcessInvoicesResponse{
		SessionID:   sessionID,
		TotalFiles:  len(files),
		Message:     "Traitement démarré",
		ProgressURL: "/api/progress/" + sessionID,
		StreamURL:   "/api/progress/" + sessionID + "/stream",
	})
}

// Result devuelve el resultado final de un lote terminado.
// GET /api/workflow/:sessionId/result
func (h *WorkflowHandler) Result(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	if sessionID == "" {
		return badRequest(c, "sessionId requerido")
	}
	res, err := h.workflow.Result(sessionID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(res)
}

// Operations devuelve la auditoría de un lote (requiere DB_ENABLED).
// GET /api/workflow/:sessionId/operations
func (h *WorkflowHandler) Operations(c *fiber.Ctx) error {
	if h.oplog == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Code: "NOT_IMPLEMENTED", Message: "el log de operaciones no se persiste en este entorno"})
	}
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	entries, err := h.oplog.ListBySession(c.UserContext(), sessionID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]dto.OperationLogResponse, len(entries))
	for i, e := range entries {
		out[i] = dto.NewOperationLogResponse(e)
	}
	return c.JSON(out)
}

// Cancel cancela un lote en curso.
// DELETE /api/workflow/:sessionId
func (h *WorkflowHandler) Cancel(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	if sessionID == "" {
		return badRequest(c, "sessionId requerido")
	}
	if err := h.workflow.Cancel(sessionID); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.CancelResponse{SessionID: sessionID, Message: "cancelación solicitada"})
}

// Download entrega el ZIP de un lote.
// GET /api/workflow/download/:filename
func (h *WorkflowHandler) Download(c *fiber.Ctx) error {
	name := c.Params("filename")
	path, err := h.archives.Resolve(name)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Download(path, name)
}
