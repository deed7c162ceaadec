package workflow

import (
	"context"
	"encoding/json"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// DocumentSigner firma una factura XAdES-EPES.
type DocumentSigner interface {
	SignDocument(ctx context.Context, file entity.InvoiceFile, creds *entity.Credentials) ([]byte, error)
}

// Registrar registra documentos en TTN y recupera el XML sellado.
type Registrar interface {
	SaveDocument(ctx context.Context, creds entity.TTNCredentials, base64Doc string) (string, error)
	FetchDocumentContent(ctx context.Context, creds entity.TTNCredentials, registrationID string) (string, error)
}

// SignatureValidator devuelve el informe del servicio de validación ANCE.
type SignatureValidator interface {
	ValidateSignature(ctx context.Context, signedXML []byte, registrationID string) (json.RawMessage, error)
}

// Renderer transforma el XML sellado en HTML.
type Renderer interface {
	RenderToHTML(ctx context.Context, base64XML string, creds entity.TTNCredentials, name string) (string, error)
}

// Packager empaqueta los artefactos del lote y devuelve la URL de descarga.
type Packager interface {
	Package(ctx context.Context, sessionID, username string, results []entity.FileProcessingResult) (string, error)
}

// ProgressTracker subconjunto del tracker de progreso que usa el workflow.
type ProgressTracker interface {
	CreateSession(sessionID string, files []entity.FileInfo) (*entity.ProcessingSession, error)
	UpdateSession(sessionID string, status entity.SessionStatus, stage entity.Stage, percent int, message string) error
	UpdateFile(sessionID, filename string, status entity.FileStatus, stage entity.Stage, percent int, message string) error
	SetRegistrationID(sessionID, filename, registrationID string) error
	SetFileError(sessionID, filename, message string) error
	SetPackageURL(sessionID, url string) error
	CompleteSession(sessionID string, success bool, message string) error
}

// OperationLogger registra operaciones para auditoría. No debe fallar ni bloquear el pipeline.
type OperationLogger interface {
	Record(ctx context.Context, entry *entity.OperationLog)
}
