package repository

import (
	"context"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// OperationLogRepository define el puerto de persistencia del log de operaciones.
type OperationLogRepository interface {
	Save(ctx context.Context, log *entity.OperationLog) error
	// ListBySession devuelve las entradas de una sesión en orden cronológico.
	ListBySession(ctx context.Context, sessionID string) ([]*entity.OperationLog, error)
}
