package dto

import (
	"time"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// ProcessInvoicesResponse respuesta 202 de POST /api/workflow/process-invoices.
type ProcessInvoicesResponse struct {
	SessionID   string `json:"sessionId"`
	TotalFiles  int    `json:"totalFiles"`
	Message     string `json:"message"`
	ProgressURL string `json:"progressUrl"`
	StreamURL   string `json:"streamUrl"`
}

// CancelResponse respuesta de DELETE /api/workflow/:sessionId.
type CancelResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SessionListResponse listado de sesiones activas en el tracker.
type SessionListResponse struct {
	Count    int                         `json:"count"`
	Sessions []*entity.ProcessingSession `json:"sessions"`
}

// CleanupResponse resultado de POST /api/progress/cleanup.
type CleanupResponse struct {
	Removed       int `json:"removed"`
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

// OperationLogResponse entrada del log de auditoría.
type OperationLogResponse struct {
	ID                int64     `json:"id"`
	OperationType     string    `json:"operationType"`
	Status            string    `json:"status"`
	Filename          string    `json:"filename,omitempty"`
	FileSize          int64     `json:"fileSize,omitempty"`
	Details           string    `json:"details,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	ProcessingSeconds string    `json:"processingSeconds"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NewOperationLogResponse mapea la entidad a la respuesta.
func NewOperationLogResponse(e *entity.OperationLog) OperationLogResponse {
	return OperationLogResponse{
		ID:                e.ID,
		OperationType:     e.OperationType,
		Status:            e.Status,
		Filename:          e.Filename,
		FileSize:          e.FileSize,
		Details:           e.Details,
		ErrorMessage:      e.ErrorMessage,
		ProcessingSeconds: e.ProcessingSeconds.StringFixed(3),
		CreatedAt:         e.CreatedAt,
	}
}
