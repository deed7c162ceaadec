package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Workflow      WorkflowService
	Archives      ArchiveResolver
	Progress      ProgressSource
	Consulter     DocumentConsulter
	Renderer      HTMLRenderer
	Signer        DocumentSigner
	Operations    OperationLogReader
	ParseCert     CertificateParser
	SessionMaxAge time.Duration
	JWTSecret     string
	Log           zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Todas las rutas requieren Bearer Token
	protected := api.Group("/", RequireOperator(deps.JWTSecret, deps.Log.With().Str("middleware", "auth").Logger()))

	// Workflow por lotes
	workflow := protected.Group("/workflow")
	workflowHandler := NewWorkflowHandler(deps.Workflow, deps.Archives, deps.ParseCert, deps.Operations, deps.Log.With().Str("handler", "workflow").Logger())
	workflow.Post("/process-invoices", workflowHandler.ProcessInvoices)
	workflow.Get("/download/:filename", workflowHandler.Download)
	workflow.Get("/:sessionId/result", workflowHandler.Result)
	workflow.Get("/:sessionId/operations", workflowHandler.Operations)
	workflow.Delete("/:sessionId", workflowHandler.Cancel)

	// Progreso (las rutas fijas antes de /:sessionId)
	prog := protected.Group("/progress")
	progressHandler := NewProgressHandler(deps.Progress, deps.SessionMaxAge, deps.Log.With().Str("handler", "progress").Logger())
	prog.Get("/sessions", progressHandler.List)
	prog.Post("/cleanup", progressHandler.Cleanup)
	prog.Get("/:sessionId/stream", progressHandler.Stream)
	prog.Get("/:sessionId", progressHandler.Get)

	// Consultas TTN
	ttn := protected.Group("/ttn")
	ttnHandler := NewTTNHandler(deps.Consulter, deps.Renderer, deps.Log.With().Str("handler", "ttn").Logger())
	ttn.Post("/consult", ttnHandler.Consult)
	ttn.Post("/consult-html", ttnHandler.ConsultHTML)

	// Firma suelta
	signature := protected.Group("/signature")
	signatureHandler := NewSignatureHandler(deps.Signer, deps.ParseCert, deps.Log.With().Str("handler", "signature").Logger())
	signature.Post("/sign", signatureHandler.Sign)
}
