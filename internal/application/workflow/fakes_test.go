package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// fakeSigner "firma" anteponiendo el nombre del archivo al contenido.
type fakeSigner struct {
	fail  map[string]error
	panic map[string]bool
	block bool // espera a que el contexto termine
	calls atomic.Int32
}

func (s *fakeSigner) SignDocument(ctx context.Context, file entity.InvoiceFile, _ *entity.Credentials) ([]byte, error) {
	s.calls.Add(1)
	if s.panic[file.Filename] {
		panic("firma rota")
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.fail[file.Filename]; err != nil {
		return nil, err
	}
	return []byte("signed:" + file.Filename + ":" + string(file.Content)), nil
}

// fakeRegistrar responde a saveEfact según el nombre embebido en el documento firmado.
type fakeRegistrar struct {
	saveFail   map[string]error
	references map[string]string // filename → referencia devuelta
	fetchErr   error
	content    string // xmlContent tal cual, si no está vacío
	saves      atomic.Int32
	fetches    atomic.Int32
}

func (r *fakeRegistrar) SaveDocument(_ context.Context, _ entity.TTNCredentials, base64Doc string) (string, error) {
	r.saves.Add(1)
	raw, err := base64.StdEncoding.DecodeString(base64Doc)
	if err != nil {
		return "", err
	}
	name := signedName(raw)
	if err := r.saveFail[name]; err != nil {
		return "", err
	}
	if ref, ok := r.references[name]; ok {
		return ref, nil
	}
	return "Facture enregistree avec ID 1805137 est en cours de validation", nil
}

func (r *fakeRegistrar) FetchDocumentContent(_ context.Context, _ entity.TTNCredentials, id string) (string, error) {
	r.fetches.Add(1)
	if r.fetchErr != nil {
		return "", r.fetchErr
	}
	if r.content != "" {
		return r.content, nil
	}
	return base64.StdEncoding.EncodeToString([]byte("<ttn id=\"" + id + "\"/>")), nil
}

// signedName recupera el nombre del archivo del documento "firmado" por fakeSigner.
func signedName(signed []byte) string {
	return strings.SplitN(strings.TrimPrefix(string(signed), "signed:"), ":", 2)[0]
}

// fakeValidator falla para todos los archivos (err) o por nombre (fail).
type fakeValidator struct {
	err    error
	fail   map[string]error
	report json.RawMessage // informe devuelto junto con err
}

func (v *fakeValidator) ValidateSignature(_ context.Context, signed []byte, id string) (json.RawMessage, error) {
	if v.err != nil {
		return v.report, v.err
	}
	if err := v.fail[signedName(signed)]; err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"indication":"TOTAL_PASSED","ttnInvoiceId":%q}`, id)), nil
}

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) RenderToHTML(_ context.Context, base64XML string, _ entity.TTNCredentials, name string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if base64XML == "" {
		return "", errors.New("sin contenido")
	}
	return "<html>" + name + "</html>", nil
}

// recordingOpLog guarda las entradas del log de operaciones.
type recordingOpLog struct {
	mu      sync.Mutex
	entries []*entity.OperationLog
}

func (l *recordingOpLog) Record(_ context.Context, e *entity.OperationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recordingOpLog) byFile(name string) []*entity.OperationLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*entity.OperationLog
	for _, e := range l.entries {
		if e.Filename == name {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingOpLog) byType(op string) []*entity.OperationLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*entity.OperationLog
	for _, e := range l.entries {
		if e.OperationType == op {
			out = append(out, e)
		}
	}
	return out
}

type fakePackager struct {
	mu       sync.Mutex
	err      error
	received []entity.FileProcessingResult
}

func (p *fakePackager) Package(_ context.Context, sessionID, _ string, results []entity.FileProcessingResult) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append([]entity.FileProcessingResult(nil), results...)
	if p.err != nil {
		return "", p.err
	}
	return "/api/workflow/download/ttn_" + sessionID + ".zip", nil
}

func testCreds() *entity.Credentials {
	return &entity.Credentials{
		Username: "operador",
		TTN:      entity.TTNCredentials{Username: "ttn-user", Password: "secret", MatriculeFiscal: "1234567AAM000"},
		Signer:   entity.SignerCredentials{Alias: "demo", PIN: "1234"},
	}
}

func invoice(name string) entity.InvoiceFile {
	return entity.InvoiceFile{Filename: name, Content: []byte("<TEIF/>")}
}

var errRemote = fmt.Errorf("%w: HTTP 503", domain.ErrRemoteService)
