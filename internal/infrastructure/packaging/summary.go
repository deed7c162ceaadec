package packaging

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

const timestampLayout = "2006-01-02 15:04:05"

// summary contenido de PROCESSING_SUMMARY.txt. names son las entradas de entryNames.
func summary(results []entity.FileProcessingResult, names []string, username string, now time.Time) string {
	var ok, ko, reports, html []entity.FileProcessingResult
	var koEntries []string
	for i, r := range results {
		if r.Success {
			ok = append(ok, r)
		} else {
			ko = append(ko, r)
			koEntries = append(koEntries, errorEntry(names[i]))
		}
		if len(r.ValidationReport) > 0 {
			reports = append(reports, r)
		}
		if r.HTML != "" {
			html = append(html, r)
		}
	}

	var b strings.Builder
	b.WriteString("=== RÉSUMÉ DU TRAITEMENT DES FACTURES ===\n\n")
	fmt.Fprintf(&b, "Date de traitement : %s\n", now.Format(timestampLayout))
	fmt.Fprintf(&b, "Utilisateur : %s\n\n", username)

	b.WriteString("Fichiers traités :\n")
	fmt.Fprintf(&b, "- Fichiers XML signés : %d\n", len(ok))
	fmt.Fprintf(&b, "- Rapports de validation : %d\n", len(reports))
	fmt.Fprintf(&b, "- Aperçus HTML : %d\n", len(html))
	fmt.Fprintf(&b, "- Rapports d'erreur : %d\n\n", len(ko))

	b.WriteString("Statistiques globales :\n")
	fmt.Fprintf(&b, "- Total de fichiers traités : %d\n", len(results))
	fmt.Fprintf(&b, "- Succès : %d\n", len(ok))
	fmt.Fprintf(&b, "- Échecs : %d\n", len(ko))
	if len(results) > 0 {
		fmt.Fprintf(&b, "- Taux de réussite : %.1f%%\n", float64(len(ok))/float64(len(results))*100)
	}
	b.WriteString("\n")

	if len(ok) > 0 {
		b.WriteString("=== FICHIERS TRAITÉS AVEC SUCCÈS ===\n")
		for _, r := range ok {
			b.WriteString("✓ " + r.Filename)
			if r.TTNInvoiceID != "" {
				b.WriteString("  (ID TTN : " + r.TTNInvoiceID + ")")
			}
			if r.ErrorMessage != "" {
				b.WriteString("  [avertissement : " + r.ErrorMessage + "]")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(ko) > 0 {
		b.WriteString("=== FICHIERS EN ÉCHEC ===\n")
		for i, r := range ko {
			fmt.Fprintf(&b, "✗ %s (voir errors/%s)\n", r.Filename, koEntries[i])
		}
		b.WriteString("\n")
	}

	b.WriteString("=== CONTENU DE L'ARCHIVE ZIP ===\n")
	if len(ok) > 0 {
		b.WriteString("signed/   Fichiers XML signés (version TTN si disponible)\n")
	}
	if len(reports) > 0 {
		b.WriteString("reports/  Rapports de validation de signature\n")
	}
	if len(html) > 0 {
		b.WriteString("html/     Aperçus HTML des factures\n")
	}
	if len(ko) > 0 {
		b.WriteString("errors/   Rapports détaillés des fichiers en échec\n")
	}
	b.WriteString(summaryEntry + "  Ce fichier\n")
	return b.String()
}

// errorReport contenido de errors/<nombre>_error.txt.
func errorReport(r entity.FileProcessingResult, now time.Time) string {
	var b strings.Builder
	b.WriteString("=== ERROR REPORT ===\n")
	fmt.Fprintf(&b, "File: %s\n", r.Filename)
	fmt.Fprintf(&b, "Stage: %s\n", r.Stage)
	fmt.Fprintf(&b, "Error: %s\n", r.ErrorMessage)
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(timestampLayout))
	if r.Stages.Signed {
		b.WriteString("\nLe document a été signé mais n'a pas été enregistré par TTN.\n")
	}
	return b.String()
}

func errorEntry(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + "_error.txt"
}
