package entity

import (
	"encoding/json"
	"time"
)

// StageFlags marca las etapas completadas de un archivo.
type StageFlags struct {
	Signed    bool `json:"signed"`
	Saved     bool `json:"saved"`
	Validated bool `json:"validated"`
	Rendered  bool `json:"rendered"`
}

// FileProcessingResult resultado de un archivo. Se produce una sola vez y no se modifica después.
//
// Success es true cuando la firma y el registro en TTN terminaron bien; los errores de
// validación o de renderizado quedan en StageErrors/ErrorMessage sin anular el éxito.
type FileProcessingResult struct {
	Filename         string           `json:"filename"`
	FileSize         int64            `json:"fileSize"`
	Success          bool             `json:"success"`
	Stage            Stage            `json:"stage"`
	TTNInvoiceID     string           `json:"ttnInvoiceId,omitempty"`
	TTNReference     string           `json:"ttnReference,omitempty"`
	Stages           StageFlags       `json:"stages"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	StageErrors      map[Stage]string `json:"stageErrors,omitempty"`
	Duration         time.Duration    `json:"-"`
	SignedXML        []byte           `json:"-"`
	TTNXML           []byte           `json:"-"` // XML devuelto por TTN (xmlContent), si se obtuvo
	ValidationReport json.RawMessage  `json:"-"`
	HTML             string           `json:"-"`
}

// FailedResult construye un resultado fallido para una etapa.
func FailedResult(file InvoiceFile, stage Stage, msg string) FileProcessingResult {
	return FileProcessingResult{
		Filename:     file.Filename,
		FileSize:     file.Size(),
		Stage:        stage,
		ErrorMessage: msg,
		StageErrors:  map[Stage]string{stage: msg},
	}
}

// WorkflowResult agregado final de un lote.
type WorkflowResult struct {
	SessionID       string                 `json:"sessionId"`
	Success         bool                   `json:"success"`
	Message         string                 `json:"message"`
	TotalFiles      int                    `json:"totalFiles"`
	SuccessfulFiles int                    `json:"successfulFiles"`
	FailedFiles     int                    `json:"failedFiles"`
	ZipDownloadURL  string                 `json:"zipDownloadUrl,omitempty"`
	Results         []FileProcessingResult `json:"results"`
	StartedAt       time.Time              `json:"startedAt"`
	FinishedAt      time.Time              `json:"finishedAt"`
}
