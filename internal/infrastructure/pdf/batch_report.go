// Package pdf genera el informe PDF de un lote procesado (RAPPORT_TRAITEMENT.pdf).
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Rapport de traitement  │  Session + Date + User    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  STATISTIQUES: Total / Succès / Échecs / Taux               │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Fichier | Statut | ID TTN | Détail                  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: QR de la session + leyenda                         │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"time"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorOK      = &props.Color{Red: 0, Green: 120, Blue: 60}
	colorKO      = &props.Color{Red: 170, Green: 30, Blue: 30}
)

// maxDetail caracteres de error mostrados por archivo en la tabla.
const maxDetail = 160

// BatchReport datos del lote que se imprimen en el informe.
type BatchReport struct {
	SessionID   string
	Username    string
	GeneratedAt time.Time
	Results     []entity.FileProcessingResult
}

// ── Generator ─────────────────────────────────────────────────────────────────

// BatchReportGenerator genera el informe PDF con Maroto v2.
type BatchReportGenerator struct{}

// NewBatchReportGenerator construye el generador.
func NewBatchReportGenerator() *BatchReportGenerator { return &BatchReportGenerator{} }

// GenerateBatchReport genera el PDF y devuelve sus bytes.
func (g *BatchReportGenerator) GenerateBatchReport(_ context.Context, report BatchReport) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Rapport de traitement El Fatoura", true).
		WithAuthor(nonEmpty(report.Username, "elfatoura-api"), true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(report))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(statsRow(report.Results))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	for _, r := range tableRows(report.Results) {
		m.AddRows(r)
	}

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRow(report.SessionID))

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar informe: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(report BatchReport) core.Row {
	return row.New(20).Add(
		col.New(7).Add(
			text.New("RAPPORT DE TRAITEMENT", props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("Factures électroniques El Fatoura (TradeNet)", props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("Session : "+report.SessionID, props.Text{
				Size: 7, Align: align.Right, Top: 1,
			}),
			text.New("Date : "+report.GeneratedAt.Format("2006-01-02 15:04:05"), props.Text{
				Size: 8, Align: align.Right, Top: 7, Color: colorGray,
			}),
			text.New("Utilisateur : "+nonEmpty(report.Username, "—"), props.Text{
				Size: 8, Align: align.Right, Top: 13, Color: colorGray,
			}),
		),
	)
}

func statsRow(results []entity.FileProcessingResult) core.Row {
	ok, ko := countResults(results)
	stat := func(label, value string, c *props.Color) core.Col {
		return col.New(3).Add(
			text.New(label, props.Text{Size: 8, Align: align.Center, Color: colorGray, Top: 1}),
			text.New(value, props.Text{Style: fontstyle.Bold, Size: 12, Align: align.Center, Color: c, Top: 6}),
		)
	}
	return row.New(16).Add(
		stat("Total", fmt.Sprintf("%d", len(results)), colorPrimary),
		stat("Succès", fmt.Sprintf("%d", ok), colorOK),
		stat("Échecs", fmt.Sprintf("%d", ko), colorKO),
		stat("Taux de réussite", successRate(ok, len(results)), colorPrimary),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Fichier", 4, align.Left),
		h("Statut", 2, align.Center),
		h("ID TTN", 2, align.Center),
		h("Détail", 4, align.Left),
	)
}

func tableRows(results []entity.FileProcessingResult) []core.Row {
	out := make([]core.Row, 0, len(results))
	for _, r := range results {
		status, c := "ÉCHEC", colorKO
		if r.Success {
			status, c = "SUCCÈS", colorOK
		}
		detail := r.ErrorMessage
		if detail == "" {
			detail = "Traitement terminé"
		}
		if runes := []rune(detail); len(runes) > maxDetail {
			detail = string(runes[:maxDetail]) + "…"
		}
		h := 7.0 + 3.5*float64(len(splitEvery(detail, 60))-1)
		out = append(out, row.New(h).Add(
			col.New(4).Add(text.New(r.Filename, props.Text{Size: 8, Top: 1, Left: 1})),
			col.New(2).Add(text.New(status, props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Center, Color: c, Top: 1})),
			col.New(2).Add(text.New(nonEmpty(r.TTNInvoiceID, "—"), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(4).Add(text.New(detail, props.Text{Size: 7, Color: colorGray, Top: 1, Left: 1})),
		))
	}
	return out
}

func footerRow(sessionID string) core.Row {
	return row.New(40).Add(
		col.New(3).Add(code.NewQr(sessionID, props.Rect{
			Percent: 95,
			Center:  true,
		})),
		col.New(9).Add(
			text.New("Identifiant de session", props.Text{
				Style: fontstyle.Bold, Size: 8, Top: 4, Left: 3, Color: colorPrimary,
			}),
			text.New(sessionID, props.Text{Size: 8, Top: 10, Left: 3, Color: colorGray}),
			text.New("Les factures en échec peuvent être corrigées et soumises à nouveau. "+
				"Les rapports détaillés se trouvent dans le dossier errors/ de l'archive.", props.Text{
				Size: 7, Top: 18, Left: 3, Color: colorGray,
			}),
		),
	)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func countResults(results []entity.FileProcessingResult) (ok, ko int) {
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			ko++
		}
	}
	return ok, ko
}

func successRate(ok, total int) string {
	if total == 0 {
		return "—"
	}
	return fmt.Sprintf("%.1f%%", float64(ok)/float64(total)*100)
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
