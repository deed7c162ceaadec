package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// FileRunner procesa un archivo completo. Lo implementa FileProcessor.
type FileRunner interface {
	Process(ctx context.Context, sessionID string, file entity.InvoiceFile, creds *entity.Credentials) entity.FileProcessingResult
}

// Config parámetros del orquestador.
type Config struct {
	Workers         int
	FileTimeout     time.Duration // tope por archivo (firma + TTN + validación + HTML)
	PackageTimeout  time.Duration
	ResultRetention time.Duration // tiempo que se conservan los resultados terminados
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = 3 * time.Minute
	}
	if c.PackageTimeout <= 0 {
		c.PackageTimeout = 2 * time.Minute
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = 30 * time.Minute
	}
	return c
}

// Orchestrator orquesta lotes de facturas:
//
//	Validación del lote → Sesión de progreso → Pool de workers (FileProcessor por archivo)
//	→ Fan-in → Paquete ZIP → Cierre de sesión
//
// Cada lote corre en su propia goroutine con un contexto independiente de la
// petición HTTP. Los archivos de un lote son independientes entre sí: el fallo
// de uno no detiene a los demás.
type Orchestrator struct {
	processor FileRunner
	tracker   ProgressTracker
	packager  Packager // opcional
	oplog     OperationLogger
	pool      *Pool
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	closing bool
	running map[string]*batch
	results map[string]*entity.WorkflowResult
}

type batch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator construye el orquestador. packager puede ser nil: el lote
// termina sin paquete de descarga.
func NewOrchestrator(processor FileRunner, tracker ProgressTracker, packager Packager, oplog OperationLogger, cfg Config, log zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		processor:  processor,
		tracker:    tracker,
		packager:   packager,
		oplog:      oplog,
		pool:       NewPool(cfg.Workers, log),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
		baseCtx:    ctx,
		baseCancel: cancel,
		running:    make(map[string]*batch),
		results:    make(map[string]*entity.WorkflowResult),
	}
}

// Start arranca el pool de workers.
func (o *Orchestrator) Start() {
	o.pool.Start()
}

// StartBatch valida el lote, crea la sesión y lanza el procesamiento en segundo
// plano. Devuelve el sessionID sin esperar.
func (o *Orchestrator) StartBatch(ctx context.Context, files []entity.InvoiceFile, creds *entity.Credentials) (string, error) {
	sessionID, _, err := o.startBatch(files, creds)
	return sessionID, err
}

// ProcessBatch procesa el lote y espera al resultado final. Si ctx termina antes,
// cancela el lote y devuelve el resultado parcial junto con ctx.Err().
func (o *Orchestrator) ProcessBatch(ctx context.Context, files []entity.InvoiceFile, creds *entity.Credentials) (*entity.WorkflowResult, error) {
	sessionID, b, err := o.startBatch(files, creds)
	if err != nil {
		return nil, err
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.cancel()
		<-b.done
		res, _ := o.Result(sessionID)
		return res, ctx.Err()
	}
	return o.Result(sessionID)
}

// Cancel cancela un lote en curso. Los archivos pendientes terminan en FAILED.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	b, ok := o.running[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no hay un lote en curso con id %s", domain.ErrNotFound, sessionID)
	}
	b.cancel()
	o.log.Info().Str("session_id", sessionID).Msg("lote cancelado")
	return nil
}

// Result devuelve el resultado de un lote terminado.
func (o *Orchestrator) Result(sessionID string) (*entity.WorkflowResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.results[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no hay resultado para la sesión %s", domain.ErrNotFound, sessionID)
	}
	cp := *res
	cp.Results = append([]entity.FileProcessingResult(nil), res.Results...)
	return &cp, nil
}

// Shutdown deja de aceptar lotes y espera a los que están en curso. Si ctx vence
// antes, cancela los lotes restantes y espera a que cierren.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn().Msg("tiempo de apagado agotado, cancelando lotes en curso")
		o.baseCancel()
		<-done
		err = ctx.Err()
	}
	o.pool.Stop()
	o.baseCancel()
	return err
}

// ── internos ──────────────────────────────────────────────────────────────────

func (o *Orchestrator) startBatch(files []entity.InvoiceFile, creds *entity.Credentials) (string, *batch, error) {
	if err := validateBatch(files, creds); err != nil {
		return "", nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing || !o.pool.Running() {
		return "", nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrShuttingDown)
	}

	sessionID := o.newID()
	infos := make([]entity.FileInfo, len(files))
	for i, f := range files {
		infos[i] = entity.FileInfo{Filename: f.Filename, Size: f.Size()}
	}
	if _, err := o.tracker.CreateSession(sessionID, infos); err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	b := &batch{cancel: cancel, done: make(chan struct{})}
	o.running[sessionID] = b
	o.wg.Add(1)
	go o.run(ctx, sessionID, files, creds, b)

	o.log.Info().Str("session_id", sessionID).Int("files", len(files)).Str("username", creds.Username).Msg("lote iniciado")
	return sessionID, b, nil
}

func validateBatch(files []entity.InvoiceFile, creds *entity.Credentials) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: el lote no contiene archivos", domain.ErrValidation)
	}
	if creds == nil {
		return fmt.Errorf("%w: credenciales requeridas", domain.ErrValidation)
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Filename) == "" {
			return fmt.Errorf("%w: archivo sin nombre en el lote", domain.ErrValidation)
		}
		if _, dup := seen[f.Filename]; dup {
			return fmt.Errorf("%w: archivo duplicado en el lote: %s", domain.ErrValidation, f.Filename)
		}
		seen[f.Filename] = struct{}{}
	}
	return nil
}

// run es el núcleo del lote. Siempre termina cerrando la sesión de progreso.
func (o *Orchestrator) run(ctx context.Context, sessionID string, files []entity.InvoiceFile, creds *entity.Credentials, b *batch) {
	defer o.wg.Done()
	defer close(b.done)
	defer b.cancel()

	started := o.now()
	log := o.log.With().Str("session_id", sessionID).Logger()

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Despacho al pool y fan-in
	// ═══════════════════════════════════════════════════════════════════════════
	o.updateSession(sessionID, entity.StageSign, -1, fmt.Sprintf("Traitement de %d fichier(s) en cours", len(files)))

	results := make([]entity.FileProcessingResult, len(files))
	var fileWG sync.WaitGroup
	for i, f := range files {
		fileWG.Add(1)
		i, f := i, f
		err := o.pool.Submit(ctx, func() {
			defer fileWG.Done()
			results[i] = o.processFile(ctx, sessionID, f, creds)
		})
		if err != nil {
			fileWG.Done()
			msg := tagged(entity.StageSign, "archivo no procesado: "+err.Error())
			results[i] = entity.FailedResult(f, entity.StageSign, msg)
			if uErr := o.tracker.UpdateFile(sessionID, f.Filename, entity.FileFailed, entity.StageSign, 100, msg); uErr != nil {
				log.Debug().Err(uErr).Msg("progreso no actualizado")
			}
		}
	}
	fileWG.Wait()

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Agregado
	// ═══════════════════════════════════════════════════════════════════════════
	res := &entity.WorkflowResult{
		SessionID:  sessionID,
		TotalFiles: len(files),
		Results:    results,
		StartedAt:  started,
	}
	for _, r := range results {
		if r.Success {
			res.SuccessfulFiles++
		} else {
			res.FailedFiles++
		}
	}
	res.Success = res.SuccessfulFiles > 0
	res.Message = summaryMessage(res.SuccessfulFiles, res.FailedFiles, res.TotalFiles)

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Paquete de descarga
	// ═══════════════════════════════════════════════════════════════════════════
	if o.packager != nil {
		o.updateSession(sessionID, entity.StagePackage, -1, "Génération de l'archive ZIP")
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PackageTimeout)
		url, err := o.packager.Package(pctx, sessionID, creds.Username, results)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("no se pudo generar el paquete")
			res.Message += fmt.Sprintf(" Archive ZIP non générée : %v", err)
		} else {
			res.ZipDownloadURL = url
			if err := o.tracker.SetPackageURL(sessionID, url); err != nil {
				log.Debug().Err(err).Msg("url de paquete no registrada en el progreso")
			}
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Cierre
	// ═══════════════════════════════════════════════════════════════════════════
	res.FinishedAt = o.now()
	if err := o.tracker.CompleteSession(sessionID, res.Success, res.Message); err != nil {
		log.Warn().Err(err).Msg("no se pudo cerrar la sesión de progreso")
	}
	o.recordBatch(ctx, creds, res)

	o.mu.Lock()
	delete(o.running, sessionID)
	o.results[sessionID] = res
	o.pruneResults()
	o.mu.Unlock()

	log.Info().
		Int("successful", res.SuccessfulFiles).
		Int("failed", res.FailedFiles).
		Dur("duration", res.FinishedAt.Sub(started)).
		Msg("lote terminado")
}

// processFile aplica el timeout por archivo y convierte pánicos o cancelaciones
// previas en un resultado FAILED.
func (o *Orchestrator) processFile(ctx context.Context, sessionID string, file entity.InvoiceFile, creds *entity.Credentials) (res entity.FileProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := tagged(entity.StageSign, fmt.Sprintf("error interno: %v", r))
			o.log.Error().Str("session_id", sessionID).Str("filename", file.Filename).Interface("panic", r).Msg("panic en el procesador")
			res = entity.FailedResult(file, entity.StageSign, msg)
			_ = o.tracker.UpdateFile(sessionID, file.Filename, entity.FileFailed, entity.StageSign, 100, msg)
		}
	}()

	if err := ctx.Err(); err != nil {
		msg := tagged(entity.StageSign, "lote cancelado")
		_ = o.tracker.UpdateFile(sessionID, file.Filename, entity.FileFailed, entity.StageSign, 100, msg)
		return entity.FailedResult(file, entity.StageSign, msg)
	}

	fctx, cancel := context.WithTimeout(ctx, o.cfg.FileTimeout)
	defer cancel()
	return o.processor.Process(fctx, sessionID, file, creds)
}

func (o *Orchestrator) updateSession(sessionID string, stage entity.Stage, percent int, msg string) {
	if err := o.tracker.UpdateSession(sessionID, entity.SessionProcessing, stage, percent, msg); err != nil {
		o.log.Debug().Err(err).Str("session_id", sessionID).Msg("progreso de sesión no actualizado")
	}
}

func (o *Orchestrator) recordBatch(ctx context.Context, creds *entity.Credentials, res *entity.WorkflowResult) {
	if o.oplog == nil {
		return
	}
	var size int64
	for _, r := range res.Results {
		size += r.FileSize
	}
	entry := &entity.OperationLog{
		SessionID:         res.SessionID,
		Username:          creds.Username,
		OperationType:     entity.OperationWorkflow,
		Status:            entity.OperationSuccess,
		FileSize:          size,
		Details:           res.Message,
		ProcessingSeconds: decimal.NewFromFloat(res.FinishedAt.Sub(res.StartedAt).Seconds()).Round(3),
		CreatedAt:         res.FinishedAt,
	}
	if !res.Success {
		entry.Status = entity.OperationFailure
		entry.ErrorMessage = res.Message
	}
	o.oplog.Record(ctx, entry)
}

// pruneResults descarta resultados antiguos. Se llama con o.mu tomado.
func (o *Orchestrator) pruneResults() {
	cutoff := o.now().Add(-o.cfg.ResultRetention)
	for id, r := range o.results {
		if r.FinishedAt.Before(cutoff) {
			delete(o.results, id)
		}
	}
}

// summaryMessage mensaje final del lote, en francés como el resto de textos para el usuario TTN.
func summaryMessage(successful, failed, total int) string {
	switch {
	case successful > 0 && failed > 0:
		return fmt.Sprintf("Traitement terminé avec succès partiel. %d/%d fichiers réussis, %d fichiers échoués.", successful, total, failed)
	case successful > 0:
		return fmt.Sprintf("Traitement terminé avec succès complet. %d/%d fichiers traités avec succès.", successful, total)
	default:
		return fmt.Sprintf("Traitement terminé avec échec. %d/%d fichiers échoués.", failed, total)
	}
}
