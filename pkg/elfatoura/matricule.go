package elfatoura

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Matrícula fiscal tunecina: 7 dígitos, letra de control, código TVA, categoría
// y número de establecimiento de 3 dígitos. Ej: "1234567A/A/M/000" -> "1234567AAM000".
var matriculePattern = regexp.MustCompile(`^\d{7}[A-Z][ABDNP][MPCNE]\d{3}$`)

// NormalizeMatricule elimina separadores (/, -, espacios, puntos) y pasa a mayúsculas.
func NormalizeMatricule(mf string) string {
	var b strings.Builder
	for _, r := range mf {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ValidateMatricule valida el formato de la matrícula fiscal ya normalizada o no.
func ValidateMatricule(mf string) error {
	n := NormalizeMatricule(mf)
	if n == "" {
		return fmt.Errorf("elfatoura: matrícula fiscal vacía")
	}
	if !matriculePattern.MatchString(n) {
		return fmt.Errorf("elfatoura: matrícula fiscal %q con formato inválido (esperado 7 dígitos + clave + TVA + categoría + 3 dígitos)", mf)
	}
	return nil
}
