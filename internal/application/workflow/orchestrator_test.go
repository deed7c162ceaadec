package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/elfatoura-api/internal/application/progress"
	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

type orchestratorFixture struct {
	*processorFixture
	packager *fakePackager
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T, cfg Config) *orchestratorFixture {
	t.Helper()
	pf := newProcessorFixture(t)
	f := &orchestratorFixture{processorFixture: pf, packager: &fakePackager{}}
	f.orch = NewOrchestrator(pf.proc, pf.tracker, f.packager, pf.oplog, cfg, zerolog.Nop())
	f.orch.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.orch.Shutdown(ctx)
	})
	return f
}

func TestOrchestrator_ProcessBatch_FilesAreIndependent(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 3})
	f.signer.fail = map[string]error{"B.xml": fmt.Errorf("%w: firma rechazada", domain.ErrCrypto)}
	f.registrar.saveFail = map[string]error{"C.xml": &domain.FaultError{Message: "Document invalide"}}

	res, err := f.orch.ProcessBatch(context.Background(),
		[]entity.InvoiceFile{invoice("A.xml"), invoice("B.xml"), invoice("C.xml")}, testCreds())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 1, res.SuccessfulFiles)
	assert.Equal(t, 2, res.FailedFiles)
	assert.Contains(t, res.Message, "1/3")
	require.Len(t, res.Results, 3)
	assert.Equal(t, "A.xml", res.Results[0].Filename)
	assert.True(t, res.Results[0].Success)
	assert.Contains(t, res.Results[1].ErrorMessage, "[Sign] ")
	assert.Contains(t, res.Results[2].ErrorMessage, "[Save] ")
	assert.Equal(t, "/api/workflow/download/ttn_"+res.SessionID+".zip", res.ZipDownloadURL)
	assert.Len(t, f.packager.received, 3)

	s, err := f.tracker.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionCompleted, s.Status)
	assert.True(t, s.Success)
	assert.Equal(t, 100, s.OverallProgress)
	assert.Equal(t, res.ZipDownloadURL, s.ZipDownloadURL)
	for _, fp := range s.Files {
		assert.True(t, fp.Status.Terminal(), fp.Filename)
	}

	wf := f.oplog.byType(entity.OperationWorkflow)
	require.Len(t, wf, 1)
	assert.Equal(t, entity.OperationSuccess, wf[0].Status)
}

func TestOrchestrator_ProcessBatch_SaveFaultAndValidateAdvisory(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 3})
	f.registrar.saveFail = map[string]error{"B.xml": &domain.FaultError{Message: "Matricule fiscal inconnu"}}
	f.validator.fail = map[string]error{"C.xml": errors.New("ance down")}

	res, err := f.orch.ProcessBatch(context.Background(),
		[]entity.InvoiceFile{invoice("A.xml"), invoice("B.xml"), invoice("C.xml")}, testCreds())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessfulFiles)
	assert.Equal(t, 1, res.FailedFiles)
	require.Len(t, res.Results, 3)

	a, b, c := res.Results[0], res.Results[1], res.Results[2]
	assert.True(t, a.Success)
	assert.Empty(t, a.ErrorMessage)
	assert.True(t, a.Stages.Validated)

	assert.False(t, b.Success)
	assert.Equal(t, entity.StageSave, b.Stage)
	assert.Contains(t, b.ErrorMessage, "Matricule fiscal inconnu")
	assert.False(t, b.Stages.Saved)

	assert.True(t, c.Success, "un fallo de validación no anula el registro en TTN")
	assert.True(t, c.Stages.Saved)
	assert.False(t, c.Stages.Validated)
	assert.Equal(t, "[Validate] ance down", c.StageErrors[entity.StageValidate])
	assert.Contains(t, c.ErrorMessage, "[Validate] ance down")

	s, err := f.tracker.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionCompleted, s.Status)
	assert.Equal(t, 100, s.OverallProgress)
	for _, fp := range s.Files {
		assert.Equal(t, 100, fp.Progress, fp.Filename)
	}
}

func TestOrchestrator_AllFilesFail(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 2})
	f.signer.fail = map[string]error{"A.xml": domain.ErrCrypto, "B.xml": domain.ErrCrypto}

	res, err := f.orch.ProcessBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml"), invoice("B.xml")}, testCreds())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.FailedFiles)
	assert.Contains(t, res.Message, "échec")

	s, err := f.tracker.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionFailed, s.Status)
	assert.Equal(t, res.Message, s.ErrorMessage)
}

func TestOrchestrator_PackagingFailureKeepsStatus(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1})
	f.packager.err = errors.New("disco lleno")

	res, err := f.orch.ProcessBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml")}, testCreds())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.ZipDownloadURL)
	assert.Contains(t, res.Message, "disco lleno")

	s, _ := f.tracker.Get(res.SessionID)
	assert.Equal(t, entity.SessionCompleted, s.Status)
	assert.Empty(t, s.ZipDownloadURL)
}

func TestOrchestrator_BatchValidation(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1})

	tests := []struct {
		name  string
		files []entity.InvoiceFile
		creds *entity.Credentials
	}{
		{name: "lote vacío", files: nil, creds: testCreds()},
		{name: "nombres duplicados", files: []entity.InvoiceFile{invoice("A.xml"), invoice("A.xml")}, creds: testCreds()},
		{name: "sin credenciales", files: []entity.InvoiceFile{invoice("A.xml")}, creds: nil},
		{name: "sin nombre", files: []entity.InvoiceFile{invoice(" ")}, creds: testCreds()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.StartBatch(context.Background(), tc.files, tc.creds)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Empty(t, f.tracker.List(), "no se crean sesiones para lotes inválidos")
}

func TestOrchestrator_NotStarted(t *testing.T) {
	pf := newProcessorFixture(t)
	o := NewOrchestrator(pf.proc, pf.tracker, nil, nil, Config{Workers: 1}, zerolog.Nop())

	_, err := o.StartBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml")}, testCreds())
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestOrchestrator_StartBatchIsAsync(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 2})

	id, err := f.orch.StartBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml"), invoice("B.xml")}, testCreds())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		_, err := f.orch.Result(id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	res, err := f.orch.Result(id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulFiles)

	_, err = f.orch.Result("otra")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// panicRunner entra en pánico para un archivo concreto.
type panicRunner struct {
	inner  FileRunner
	target string
}

func (r panicRunner) Process(ctx context.Context, sessionID string, file entity.InvoiceFile, creds *entity.Credentials) entity.FileProcessingResult {
	if file.Filename == r.target {
		panic("fallo inesperado")
	}
	return r.inner.Process(ctx, sessionID, file, creds)
}

func TestOrchestrator_PanicInRunner(t *testing.T) {
	pf := newProcessorFixture(t)
	o := NewOrchestrator(panicRunner{inner: pf.proc, target: "B.xml"}, pf.tracker, nil, nil, Config{Workers: 2}, zerolog.Nop())
	o.Start()
	defer o.Shutdown(context.Background())

	res, err := o.ProcessBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml"), invoice("B.xml")}, testCreds())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessfulFiles)
	assert.Contains(t, res.Results[1].ErrorMessage, "error interno")
}

func TestOrchestrator_FileTimeout(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1, FileTimeout: 50 * time.Millisecond})
	f.signer.block = true

	res, err := f.orch.ProcessBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml")}, testCreds())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Results[0].ErrorMessage, context.DeadlineExceeded.Error())
}

func TestOrchestrator_Cancel(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1})
	f.signer.block = true

	id, err := f.orch.StartBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml"), invoice("B.xml")}, testCreds())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.signer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.orch.Cancel(id))

	require.Eventually(t, func() bool {
		_, err := f.orch.Result(id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	res, _ := f.orch.Result(id)
	assert.Equal(t, 2, res.FailedFiles)

	assert.ErrorIs(t, f.orch.Cancel(id), domain.ErrNotFound)
}

func TestOrchestrator_ProcessBatchContextCancelled(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1})
	f.signer.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := f.orch.ProcessBatch(ctx, []entity.InvoiceFile{invoice("A.xml")}, testCreds())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.FailedFiles)
}

// countingRunner mide la concurrencia máxima observada.
type countingRunner struct {
	current, max atomic.Int32
}

func (r *countingRunner) Process(_ context.Context, _ string, file entity.InvoiceFile, _ *entity.Credentials) entity.FileProcessingResult {
	n := r.current.Add(1)
	for {
		m := r.max.Load()
		if n <= m || r.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	r.current.Add(-1)
	return entity.FileProcessingResult{Filename: file.Filename, Success: true}
}

func TestOrchestrator_WorkersBoundConcurrencyAcrossBatches(t *testing.T) {
	tracker := progress.NewTracker(0, zerolog.Nop())
	runner := &countingRunner{}
	o := NewOrchestrator(runner, tracker, nil, nil, Config{Workers: 2}, zerolog.Nop())
	o.Start()

	var ids []string
	for b := 0; b < 3; b++ {
		files := make([]entity.InvoiceFile, 4)
		for i := range files {
			files[i] = invoice(fmt.Sprintf("f%d.xml", i))
		}
		id, err := o.StartBatch(context.Background(), files, testCreds())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.LessOrEqual(t, runner.max.Load(), int32(2))
	for _, id := range ids {
		res, err := o.Result(id)
		require.NoError(t, err)
		assert.Equal(t, 4, res.SuccessfulFiles)
	}
}

func TestOrchestrator_ShutdownCancelsOnDeadline(t *testing.T) {
	f := newOrchestratorFixture(t, Config{Workers: 1})
	f.signer.block = true

	id, err := f.orch.StartBatch(context.Background(), []entity.InvoiceFile{invoice("A.xml")}, testCreds())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = f.orch.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, err := f.orch.Result(id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedFiles)

	s, err := f.tracker.Get(id)
	require.NoError(t, err)
	assert.True(t, s.Status.Terminal())

	_, err = f.orch.StartBatch(context.Background(), []entity.InvoiceFile{invoice("B.xml")}, testCreds())
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestSummaryMessage(t *testing.T) {
	assert.Equal(t, "Traitement terminé avec succès complet. 2/2 fichiers traités avec succès.", summaryMessage(2, 0, 2))
	assert.Contains(t, summaryMessage(1, 2, 3), "succès partiel")
	assert.Contains(t, summaryMessage(0, 3, 3), "3/3 fichiers échoués")
}
