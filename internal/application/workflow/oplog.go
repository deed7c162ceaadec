package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/internal/domain/repository"
)

// LogOperationLogger escribe el log de operaciones en zerolog. Se usa sin base de datos.
type LogOperationLogger struct {
	log zerolog.Logger
}

// NewLogOperationLogger crea el logger de operaciones basado en zerolog.
func NewLogOperationLogger(log zerolog.Logger) *LogOperationLogger {
	return &LogOperationLogger{log: log}
}

// Record implementa OperationLogger.
func (l *LogOperationLogger) Record(_ context.Context, e *entity.OperationLog) {
	ev := l.log.Info()
	if e.Status == entity.OperationFailure {
		ev = l.log.Warn().Str("error", e.ErrorMessage)
	}
	ev.Str("session_id", e.SessionID).
		Str("username", e.Username).
		Str("operation", e.OperationType).
		Str("status", e.Status).
		Str("filename", e.Filename).
		Int64("file_size", e.FileSize).
		Str("duration_s", e.ProcessingSeconds.StringFixed(3)).
		Str("details", e.Details).
		Msg("operación registrada")
}

// RepositoryOperationLogger persiste el log de operaciones. Los fallos de escritura solo se registran.
type RepositoryOperationLogger struct {
	repo    repository.OperationLogRepository
	timeout time.Duration
	log     zerolog.Logger
}

// NewRepositoryOperationLogger crea el logger de operaciones con persistencia.
func NewRepositoryOperationLogger(repo repository.OperationLogRepository, log zerolog.Logger) *RepositoryOperationLogger {
	return &RepositoryOperationLogger{repo: repo, timeout: 5 * time.Second, log: log}
}

// Record implementa OperationLogger. Usa su propio timeout para no depender del contexto del archivo.
func (l *RepositoryOperationLogger) Record(ctx context.Context, e *entity.OperationLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := l.repo.Save(ctx, e); err != nil {
		l.log.Error().Err(err).
			Str("session_id", e.SessionID).
			Str("operation", e.OperationType).
			Str("filename", e.Filename).
			Msg("no se pudo guardar el log de operación")
	}
}
