package entity

import "time"

// SessionStatus estado global de una sesión de procesamiento.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "INITIALIZING"
	SessionProcessing   SessionStatus = "PROCESSING"
	SessionCompleted    SessionStatus = "COMPLETED"
	SessionFailed       SessionStatus = "FAILED"
)

// Terminal indica si la sesión ya no admite cambios.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// FileStatus estado de un archivo dentro de la sesión.
type FileStatus string

const (
	FilePending    FileStatus = "PENDING"
	FileProcessing FileStatus = "PROCESSING"
	FileCompleted  FileStatus = "COMPLETED"
	FileFailed     FileStatus = "FAILED"
)

// Terminal indica si el archivo terminó (con o sin éxito).
func (s FileStatus) Terminal() bool {
	return s == FileCompleted || s == FileFailed
}

// Stage etapa del pipeline por archivo.
type Stage string

const (
	StageSign     Stage = "SIGN"
	StageSave     Stage = "SAVE"
	StageValidate Stage = "VALIDATE"
	StageRender   Stage = "RENDER"
	StagePackage  Stage = "PACKAGE"
)

// FileInfo datos mínimos para registrar un archivo al crear la sesión.
type FileInfo struct {
	Filename string
	Size     int64
}

// FileProgress sub-estado de un archivo. Progress es monótono mientras no sea terminal.
type FileProgress struct {
	Filename     string     `json:"filename"`
	FileSize     int64      `json:"fileSize"`
	Status       FileStatus `json:"status"`
	Stage        Stage      `json:"stage"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message,omitempty"`
	TTNInvoiceID string     `json:"ttnInvoiceId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ProcessingSession estado observable de un lote. Se vuelve inmutable al ser terminal.
type ProcessingSession struct {
	SessionID       string         `json:"sessionId"`
	Status          SessionStatus  `json:"status"`
	CurrentStage    Stage          `json:"currentStage"`
	OverallProgress int            `json:"overallProgress"`
	Files           []FileProgress `json:"files"`
	Message         string         `json:"message,omitempty"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	ZipDownloadURL  string         `json:"zipDownloadUrl,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastUpdated     time.Time      `json:"lastUpdated"`
}

// Clone devuelve una copia profunda, segura para entregar fuera del tracker.
func (s *ProcessingSession) Clone() *ProcessingSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Files = make([]FileProgress, len(s.Files))
	copy(out.Files, s.Files)
	return &out
}
