// Package elfatoura contiene utilidades compartidas del protocolo El Fatoura (TTN, Túnez):
// lectura de la referencia devuelta por saveEfact y normalización de la matrícula fiscal.
package elfatoura

import (
	"regexp"
	"strings"
)

// Marcadores de SOAP Fault que pueden aparecer dentro de la referencia devuelta por saveEfact.
var faultMarkers = []string{"<S:Fault", "<soap:Fault", "<soapenv:Fault", "<env:Fault", "faultMessage", "faultstring"}

// invoiceIDPattern extrae el ID numérico de textos como
// "Facture enregistree avec ID 1805137 est en cours de validation".
var invoiceIDPattern = regexp.MustCompile(`ID\s+(\d+)`)

// ExtractInvoiceID devuelve el ID TTN contenido en la referencia, o "" si no hay.
func ExtractInvoiceID(reference string) string {
	m := invoiceIDPattern.FindStringSubmatch(reference)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// IsFaultReference indica si la referencia es en realidad un SOAP Fault (fallo lógico).
func IsFaultReference(reference string) bool {
	for _, marker := range faultMarkers {
		if strings.Contains(reference, marker) {
			return true
		}
	}
	return false
}
