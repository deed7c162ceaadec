package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de operación registrados en el log de auditoría.
const (
	OperationSign     = "SIGN"
	OperationSave     = "SAVE_TTN"
	OperationValidate = "VALIDATE"
	OperationRender   = "RENDER_HTML"
	OperationWorkflow = "WORKFLOW"
)

// Estados de operación.
const (
	OperationSuccess = "SUCCESS"
	OperationFailure = "FAILURE"
)

// OperationLog entrada de auditoría de una operación sobre un archivo o una sesión.
type OperationLog struct {
	ID                int64
	SessionID         string
	Username          string
	OperationType     string
	Status            string
	Filename          string
	FileSize          int64
	Details           string
	ErrorMessage      string
	ProcessingSeconds decimal.Decimal // NUMERIC(10,3)
	CreatedAt         time.Time
}
