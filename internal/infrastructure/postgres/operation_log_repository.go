package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/internal/domain/repository"
)

var _ repository.OperationLogRepository = (*OperationLogRepo)(nil)

// Querier lo cumplen *pgxpool.Pool y pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const operationLogsDDL = `
CREATE TABLE IF NOT EXISTS operation_logs (
	id                 BIGSERIAL PRIMARY KEY,
	session_id         TEXT           NOT NULL DEFAULT '',
	username           TEXT           NOT NULL DEFAULT '',
	operation_type     TEXT           NOT NULL,
	status             TEXT           NOT NULL,
	filename           TEXT           NOT NULL DEFAULT '',
	file_size          BIGINT         NOT NULL DEFAULT 0,
	details            TEXT           NOT NULL DEFAULT '',
	error_message      TEXT           NOT NULL DEFAULT '',
	processing_seconds NUMERIC(10,3)  NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ    NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_operation_logs_session ON operation_logs (session_id, created_at);`

// OperationLogRepo implementación del puerto OperationLogRepository sobre PostgreSQL.
type OperationLogRepo struct {
	db Querier
}

// NewOperationLogRepository construye el adaptador de persistencia del log de operaciones.
func NewOperationLogRepository(db Querier) *OperationLogRepo {
	return &OperationLogRepo{db: db}
}

// EnsureSchema crea la tabla operation_logs si no existe.
func (r *OperationLogRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, operationLogsDDL); err != nil {
		return fmt.Errorf("crear tabla operation_logs: %w", err)
	}
	return nil
}

// Save inserta una entrada y completa su ID.
func (r *OperationLogRepo) Save(ctx context.Context, e *entity.OperationLog) error {
	query := `
		INSERT INTO operation_logs (session_id, username, operation_type, status, filename, file_size,
			details, error_message, processing_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	rows, err := r.db.Query(ctx, query,
		e.SessionID, e.Username, e.OperationType, e.Status, e.Filename, e.FileSize,
		e.Details, e.ErrorMessage, e.ProcessingSeconds, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	id, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	e.ID = id
	return nil
}

// ListBySession devuelve las entradas de una sesión en orden cronológico.
func (r *OperationLogRepo) ListBySession(ctx context.Context, sessionID string) ([]*entity.OperationLog, error) {
	query := `
		SELECT id, session_id, username, operation_type, status, filename, file_size,
			details, error_message, processing_seconds, created_at
		FROM operation_logs WHERE session_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list operation logs: %w", err)
	}
	defer rows.Close()

	var list []*entity.OperationLog
	for rows.Next() {
		var e entity.OperationLog
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Username, &e.OperationType, &e.Status, &e.Filename, &e.FileSize,
			&e.Details, &e.ErrorMessage, &e.ProcessingSeconds, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation log: %w", err)
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operation logs: %w", err)
	}
	return list, nil
}
