package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/pkg/elfatoura"
)

// Escala de progreso de un archivo (0-100) por etapa.
const (
	progressSignStart     = 5
	progressSignDone      = 25
	progressSaveStart     = 30
	progressSaveDone      = 50
	progressValidateStart = 55
	progressValidateDone  = 70
	progressRenderStart   = 75
	progressRenderDone    = 95
)

// FileProcessor ejecuta el pipeline de un archivo:
//
//	Firma XAdES → Registro TTN (saveEfact) → Validación ANCE → xmlContent + HTML
//
// Firma y registro son obligatorios: si fallan el archivo termina en FAILED.
// Validación y HTML son consultivos: sus errores quedan en el resultado pero el
// archivo se da por registrado.
type FileProcessor struct {
	signer    DocumentSigner
	registrar Registrar
	validator SignatureValidator
	renderer  Renderer
	tracker   ProgressTracker
	oplog     OperationLogger
	log       zerolog.Logger
	now       func() time.Time
}

// NewFileProcessor construye el procesador con todas sus dependencias.
func NewFileProcessor(
	signer DocumentSigner,
	registrar Registrar,
	validator SignatureValidator,
	renderer Renderer,
	tracker ProgressTracker,
	oplog OperationLogger,
	log zerolog.Logger,
) *FileProcessor {
	return &FileProcessor{
		signer:    signer,
		registrar: registrar,
		validator: validator,
		renderer:  renderer,
		tracker:   tracker,
		oplog:     oplog,
		log:       log,
		now:       time.Now,
	}
}

// Process procesa un archivo y devuelve siempre un resultado. Nunca entra en pánico.
func (p *FileProcessor) Process(ctx context.Context, sessionID string, file entity.InvoiceFile, creds *entity.Credentials) (res entity.FileProcessingResult) {
	started := p.now()
	stage := entity.StageSign
	log := p.log.With().Str("session_id", sessionID).Str("filename", file.Filename).Logger()

	defer func() {
		if r := recover(); r != nil {
			msg := tagged(stage, fmt.Sprintf("error interno: %v", r))
			log.Error().Interface("panic", r).Str("stage", string(stage)).Msg("panic procesando archivo")
			res = entity.FailedResult(file, stage, msg)
			p.updateFile(sessionID, file.Filename, entity.FileFailed, stage, 100, msg)
		}
		res.Duration = p.now().Sub(started)
	}()

	if creds == nil {
		msg := tagged(stage, "credenciales requeridas")
		p.updateFile(sessionID, file.Filename, entity.FileFailed, stage, 100, msg)
		return entity.FailedResult(file, stage, msg)
	}

	res = entity.FileProcessingResult{
		Filename:    file.Filename,
		FileSize:    file.Size(),
		Stage:       entity.StageSign,
		StageErrors: map[entity.Stage]string{},
	}

	// fail cierra el archivo en FAILED con el mensaje etiquetado por etapa.
	// Conserva lo ya producido (firma) para el paquete.
	fail := func(stage entity.Stage, err error) entity.FileProcessingResult {
		msg := tagged(stage, err.Error())
		log.Warn().Err(err).Str("stage", string(stage)).Msg("archivo fallido")
		p.updateFile(sessionID, file.Filename, entity.FileFailed, stage, 100, msg)
		failed := entity.FailedResult(file, stage, msg)
		failed.Stages = res.Stages
		failed.SignedXML = res.SignedXML
		return failed
	}

	// advisory anota un error de una etapa consultiva sin cambiar el éxito del archivo.
	advisory := func(stage entity.Stage, err error) {
		msg := tagged(stage, err.Error())
		log.Warn().Err(err).Str("stage", string(stage)).Msg("etapa consultiva con error")
		res.StageErrors[stage] = msg
		if res.ErrorMessage == "" {
			res.ErrorMessage = msg
		} else {
			res.ErrorMessage += "; " + msg
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Firma XAdES-EPES
	// ═══════════════════════════════════════════════════════════════════════════
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressSignStart, tagged(stage, "firmando documento"))
	t0 := p.now()
	signed, err := p.signer.SignDocument(ctx, file, creds)
	p.record(ctx, sessionID, creds, file, entity.OperationSign, t0, "", err)
	if err != nil {
		return fail(stage, err)
	}
	res.SignedXML = signed
	res.Stages.Signed = true
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressSignDone, tagged(stage, "documento firmado"))

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Registro en TTN (saveEfact)
	// ═══════════════════════════════════════════════════════════════════════════
	stage = entity.StageSave
	res.Stage = stage
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressSaveStart, tagged(stage, "enviando a TTN"))
	t0 = p.now()
	reference, err := p.registrar.SaveDocument(ctx, creds.TTN, base64.StdEncoding.EncodeToString(signed))
	if err == nil && elfatoura.IsFaultReference(reference) {
		err = &domain.FaultError{Message: reference}
	}
	p.record(ctx, sessionID, creds, file, entity.OperationSave, t0, reference, err)
	if err != nil {
		return fail(stage, err)
	}
	res.TTNReference = reference
	res.TTNInvoiceID = elfatoura.ExtractInvoiceID(reference)
	res.Stages.Saved = true
	res.Success = true
	if res.TTNInvoiceID != "" {
		p.setRegistrationID(sessionID, file.Filename, res.TTNInvoiceID)
	}
	log = log.With().Str("ttn_id", res.TTNInvoiceID).Logger()
	log.Info().Msg("factura registrada en TTN")
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressSaveDone, tagged(stage, "registrada en TTN "+res.TTNInvoiceID))

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Validación de la firma (ANCE), consultiva
	// ═══════════════════════════════════════════════════════════════════════════
	stage = entity.StageValidate
	res.Stage = stage
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressValidateStart, tagged(stage, "validando firma"))
	t0 = p.now()
	report, err := p.validator.ValidateSignature(ctx, signed, res.TTNInvoiceID)
	p.record(ctx, sessionID, creds, file, entity.OperationValidate, t0, "", err)
	if err != nil {
		advisory(stage, err)
		if report == nil {
			report = failedValidationReport(err)
		}
	} else {
		res.Stages.Validated = true
	}
	res.ValidationReport = report
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressValidateDone, tagged(stage, "validación terminada"))

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. xmlContent sellado por TTN + HTML, consultivo
	// ═══════════════════════════════════════════════════════════════════════════
	stage = entity.StageRender
	res.Stage = stage
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressRenderStart, tagged(stage, "generando HTML"))
	t0 = p.now()
	html, ttnXML, err := p.render(ctx, creds, file.Filename, res.TTNInvoiceID)
	p.record(ctx, sessionID, creds, file, entity.OperationRender, t0, "", err)
	if ttnXML != nil {
		res.TTNXML = ttnXML
	}
	if err != nil {
		advisory(stage, err)
	} else {
		res.HTML = html
		res.Stages.Rendered = true
	}
	p.updateFile(sessionID, file.Filename, entity.FileProcessing, stage, progressRenderDone, tagged(stage, "HTML terminado"))

	if res.ErrorMessage != "" {
		p.setFileError(sessionID, file.Filename, res.ErrorMessage)
	}
	p.updateFile(sessionID, file.Filename, entity.FileCompleted, stage, 100, "Traitement terminé")
	return res
}

// render obtiene el XML sellado por TTN y lo transforma en HTML. Devuelve el XML
// decodificado aunque falle el HTML.
func (p *FileProcessor) render(ctx context.Context, creds *entity.Credentials, filename, registrationID string) (string, []byte, error) {
	if registrationID == "" {
		return "", nil, fmt.Errorf("%w: TTN no devolvió identificador de factura", domain.ErrRemoteService)
	}
	content, err := p.registrar.FetchDocumentContent(ctx, creds.TTN, registrationID)
	if err != nil {
		return "", nil, err
	}
	ttnXML, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return "", nil, fmt.Errorf("%w: xmlContent no es base64 válido", domain.ErrRemoteService)
	}
	html, err := p.renderer.RenderToHTML(ctx, content, creds.TTN, filename)
	if err != nil {
		return "", ttnXML, err
	}
	return html, ttnXML, nil
}

func (p *FileProcessor) record(ctx context.Context, sessionID string, creds *entity.Credentials, file entity.InvoiceFile, op string, started time.Time, details string, err error) {
	if p.oplog == nil {
		return
	}
	entry := &entity.OperationLog{
		SessionID:         sessionID,
		Username:          creds.Username,
		OperationType:     op,
		Status:            entity.OperationSuccess,
		Filename:          file.Filename,
		FileSize:          file.Size(),
		Details:           details,
		ProcessingSeconds: decimal.NewFromFloat(p.now().Sub(started).Seconds()).Round(3),
		CreatedAt:         p.now(),
	}
	if err != nil {
		entry.Status = entity.OperationFailure
		entry.ErrorMessage = err.Error()
	}
	p.oplog.Record(ctx, entry)
}

func (p *FileProcessor) updateFile(sessionID, filename string, status entity.FileStatus, stage entity.Stage, percent int, msg string) {
	if err := p.tracker.UpdateFile(sessionID, filename, status, stage, percent, msg); err != nil {
		p.log.Debug().Err(err).Str("session_id", sessionID).Str("filename", filename).Msg("progreso no actualizado")
	}
}

func (p *FileProcessor) setRegistrationID(sessionID, filename, id string) {
	if err := p.tracker.SetRegistrationID(sessionID, filename, id); err != nil {
		p.log.Debug().Err(err).Str("session_id", sessionID).Msg("id TTN no registrado en el progreso")
	}
}

func (p *FileProcessor) setFileError(sessionID, filename, msg string) {
	if err := p.tracker.SetFileError(sessionID, filename, msg); err != nil {
		p.log.Debug().Err(err).Str("session_id", sessionID).Msg("error consultivo no registrado en el progreso")
	}
}

// failedValidationReport informe sintético cuando el validador no devolvió informe.
func failedValidationReport(err error) json.RawMessage {
	body, mErr := json.MarshalIndent(map[string]string{
		"status": "VALIDATION_FAILED",
		"error":  err.Error(),
	}, "", "  ")
	if mErr != nil {
		return json.RawMessage(`{"status":"VALIDATION_FAILED"}`)
	}
	return body
}

var stageLabels = map[entity.Stage]string{
	entity.StageSign:     "Sign",
	entity.StageSave:     "Save",
	entity.StageValidate: "Validate",
	entity.StageRender:   "Render",
	entity.StagePackage:  "Package",
}

// tagged antepone la etapa al mensaje: "[Save] ...".
func tagged(stage entity.Stage, msg string) string {
	label, ok := stageLabels[stage]
	if !ok {
		label = string(stage)
	}
	return "[" + label + "] " + msg
}
