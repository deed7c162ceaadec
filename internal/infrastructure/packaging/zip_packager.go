// Package packaging arma el archivo ZIP descargable de un lote: XML firmados,
// informes de validación, HTML, informes de error y resumen.
package packaging

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/pdf"
)

// DownloadPrefix ruta HTTP bajo la que se sirven los paquetes.
const DownloadPrefix = "/api/workflow/download/"

// Nombres fijos dentro del ZIP.
const (
	summaryEntry = "PROCESSING_SUMMARY.txt"
	reportEntry  = "RAPPORT_TRAITEMENT.pdf"
)

// archiveNamePattern nombres de paquete válidos: ttn_<sessionID>.zip
var archiveNamePattern = regexp.MustCompile(`^ttn_[A-Za-z0-9-]+\.zip$`)

// ReportGenerator genera el informe PDF del lote.
type ReportGenerator interface {
	GenerateBatchReport(ctx context.Context, report pdf.BatchReport) ([]byte, error)
}

// ZipPackager escribe los paquetes en outputDir.
type ZipPackager struct {
	outputDir string
	reports   ReportGenerator // opcional
	log       zerolog.Logger
	now       func() time.Time
}

// NewZipPackager construye el empaquetador. reports puede ser nil: el ZIP sale sin PDF.
func NewZipPackager(outputDir string, reports ReportGenerator, log zerolog.Logger) *ZipPackager {
	return &ZipPackager{outputDir: outputDir, reports: reports, log: log, now: time.Now}
}

// ArchiveName nombre del ZIP de una sesión.
func ArchiveName(sessionID string) string {
	return "ttn_" + sessionID + ".zip"
}

// Package escribe <outputDir>/ttn_<sessionID>.zip y devuelve su URL de descarga.
// El archivo se escribe en un temporal y se renombra al final: nunca queda un ZIP a medias.
func (p *ZipPackager) Package(ctx context.Context, sessionID, username string, results []entity.FileProcessingResult) (string, error) {
	name := ArchiveName(sessionID)
	if !archiveNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: sessionId inválido para el paquete: %q", domain.ErrValidation, sessionID)
	}
	if err := os.MkdirAll(p.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("zip: crear directorio de salida: %w", err)
	}

	tmp, err := os.CreateTemp(p.outputDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("zip: crear temporal: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op tras el rename

	if err := p.write(ctx, tmp, sessionID, username, results); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("zip: cerrar temporal: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(p.outputDir, name)); err != nil {
		return "", fmt.Errorf("zip: publicar %s: %w", name, err)
	}

	p.log.Info().Str("session_id", sessionID).Str("archive", name).Int("files", len(results)).Msg("paquete generado")
	return DownloadPrefix + name, nil
}

func (p *ZipPackager) write(ctx context.Context, f *os.File, sessionID, username string, results []entity.FileProcessingResult) error {
	zw := zip.NewWriter(f)
	add := func(entry string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := zw.Create(entry)
		if err != nil {
			return fmt.Errorf("zip: crear entrada %s: %w", entry, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("zip: escribir %s: %w", entry, err)
		}
		return nil
	}

	now := p.now()
	names := entryNames(results)
	for i, r := range results {
		file := names[i]
		base := strings.TrimSuffix(file, path.Ext(file))

		if r.Success {
			doc := r.TTNXML
			if len(doc) == 0 {
				doc = r.SignedXML
			}
			if len(doc) > 0 {
				if err := add("signed/"+file, doc); err != nil {
					return err
				}
			}
		} else {
			if err := add("errors/"+errorEntry(file), []byte(errorReport(r, now))); err != nil {
				return err
			}
		}
		if len(r.ValidationReport) > 0 {
			if err := add("reports/"+base+"_validation.json", r.ValidationReport); err != nil {
				return err
			}
		}
		if r.HTML != "" {
			if err := add("html/"+base+".html", []byte(r.HTML)); err != nil {
				return err
			}
		}
	}

	if err := add(summaryEntry, []byte(summary(results, names, username, now))); err != nil {
		return err
	}

	if p.reports != nil {
		doc, err := p.reports.GenerateBatchReport(ctx, pdf.BatchReport{
			SessionID:   sessionID,
			Username:    username,
			GeneratedAt: now,
			Results:     results,
		})
		if err != nil {
			// el PDF es un complemento: el ZIP sale igual
			p.log.Warn().Err(err).Str("session_id", sessionID).Msg("informe PDF no generado")
		} else if err := add(reportEntry, doc); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return nil
}

// Resolve devuelve la ruta en disco de un paquete. Solo acepta nombres ttn_<id>.zip
// que existan dentro de outputDir.
func (p *ZipPackager) Resolve(name string) (string, error) {
	if !archiveNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: nombre de archivo inválido", domain.ErrValidation)
	}
	root, err := filepath.Abs(p.outputDir)
	if err != nil {
		return "", fmt.Errorf("zip: resolver directorio de salida: %w", err)
	}
	full := filepath.Join(root, name)
	if rel, err := filepath.Rel(root, full); err != nil || rel != name {
		return "", fmt.Errorf("%w: ruta fuera del directorio de salida", domain.ErrValidation)
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: paquete %s", domain.ErrNotFound, name)
	}
	return full, nil
}

// entryNames asigna a cada resultado un nombre de entrada único. Dos archivos con la
// misma base (a/x.xml y b/x.xml, A.xml y A.XML) reciben un sufijo numérico: x_2.xml.
// La comparación ignora mayúsculas porque Windows y macOS extraen así.
func entryNames(results []entity.FileProcessingResult) []string {
	names := make([]string, len(results))
	used := make(map[string]bool, len(results))
	for i, r := range results {
		file := entryName(r.Filename)
		ext := path.Ext(file)
		base := strings.TrimSuffix(file, ext)
		for n := 2; used[strings.ToLower(base)]; n++ {
			base = fmt.Sprintf("%s_%d", strings.TrimSuffix(file, ext), n)
		}
		used[strings.ToLower(base)] = true
		names[i] = base + ext
	}
	return names
}

// entryName reduce el nombre subido a su base para que ninguna entrada salga de su carpeta.
func entryName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "document.xml"
	}
	return name
}
