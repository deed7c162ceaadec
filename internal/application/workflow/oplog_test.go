package workflow

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// failingRepo simula una base de datos caída.
type failingRepo struct {
	mu       sync.Mutex
	saves    int
	ctxErrs  []error
	listErr  error
	saveFail error
}

func (r *failingRepo) Save(ctx context.Context, _ *entity.OperationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.saveFail
}

func (r *failingRepo) ListBySession(context.Context, string) ([]*entity.OperationLog, error) {
	return nil, r.listErr
}

func sampleEntry(status string) *entity.OperationLog {
	return &entity.OperationLog{
		SessionID:         "s1",
		Username:          "operador",
		OperationType:     entity.OperationSave,
		Status:            status,
		Filename:          "A.xml",
		FileSize:          7,
		ErrorMessage:      "soap fault: Document invalide",
		ProcessingSeconds: decimal.RequireFromString("1.25"),
	}
}

func TestRepositoryOperationLogger_ErrorSoloSeRegistra(t *testing.T) {
	var buf bytes.Buffer
	repo := &failingRepo{saveFail: errors.New("conexión rechazada")}
	l := NewRepositoryOperationLogger(repo, zerolog.New(&buf))

	assert.NotPanics(t, func() { l.Record(context.Background(), sampleEntry(entity.OperationSuccess)) })

	assert.Equal(t, 1, repo.saves)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "conexión rechazada")
	assert.Contains(t, buf.String(), `"session_id":"s1"`)
	assert.Contains(t, buf.String(), "no se pudo guardar el log de operación")
}

func TestRepositoryOperationLogger_IgnoraCancelacionDelArchivo(t *testing.T) {
	repo := &failingRepo{}
	l := NewRepositoryOperationLogger(repo, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Record(ctx, sampleEntry(entity.OperationFailure))

	require.Len(t, repo.ctxErrs, 1)
	assert.NoError(t, repo.ctxErrs[0], "la escritura usa un contexto propio aunque el archivo se haya cancelado")
}

func TestFileProcessor_FalloDelLogNoAfectaAlProcesamiento(t *testing.T) {
	var buf bytes.Buffer
	f := newProcessorFixture(t, "A.xml")
	repo := &failingRepo{saveFail: errors.New("tabla operation_logs inexistente")}
	proc := NewFileProcessor(f.signer, f.registrar, f.validator, f.renderer, f.tracker,
		NewRepositoryOperationLogger(repo, zerolog.New(&buf)), zerolog.Nop())

	res := proc.Process(context.Background(), "s1", invoice("A.xml"), testCreds())

	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorMessage)
	assert.Equal(t, entity.StageFlags{Signed: true, Saved: true, Validated: true, Rendered: true}, res.Stages)
	assert.Equal(t, 4, repo.saves, "una entrada por etapa")
	assert.Equal(t, 4, bytes.Count(buf.Bytes(), []byte("tabla operation_logs inexistente")))

	fp := f.fileProgress(t, "A.xml")
	assert.Equal(t, entity.FileCompleted, fp.Status)
}

func TestLogOperationLogger_NivelSegunEstado(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogOperationLogger(zerolog.New(&buf))

	l.Record(context.Background(), sampleEntry(entity.OperationSuccess))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	ok := string(lines[0])
	assert.Contains(t, ok, `"level":"info"`)
	assert.Contains(t, ok, `"operation":"`+entity.OperationSave+`"`)
	assert.Contains(t, ok, `"duration_s":"1.250"`)
	assert.NotContains(t, ok, `"error"`)

	buf.Reset()
	l.Record(context.Background(), sampleEntry(entity.OperationFailure))
	failed := buf.String()
	assert.Contains(t, failed, `"level":"warn"`)
	assert.Contains(t, failed, `"error":"soap fault: Document invalide"`)
}
