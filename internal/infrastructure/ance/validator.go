package ance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// ReportValidator valida con ANCE y agrega al informe su interpretación.
// Un informe INVALIDE o AUCUNE_SIGNATURE se devuelve junto con un error de validación
// para que el procesador lo registre como fallo consultivo sin perder el informe.
type ReportValidator struct {
	client *Client
}

// NewReportValidator construye el validador sobre el cliente ANCE.
func NewReportValidator(client *Client) *ReportValidator {
	return &ReportValidator{client: client}
}

// ValidateSignature cumple el puerto del procesador de archivos.
func (v *ReportValidator) ValidateSignature(ctx context.Context, signedXML []byte, registrationID string) (json.RawMessage, error) {
	raw, err := v.client.ValidateSignature(ctx, signedXML, registrationID)
	if err != nil {
		return nil, err
	}
	summary := InterpretReport(raw)
	report := withInterpretation(raw, summary)
	if summary.Failed() {
		return report, fmt.Errorf("%w: informe ANCE %s", domain.ErrValidation, summary.OverallStatus)
	}
	return report, nil
}

// withInterpretation agrega la clave "interpretation". Si el informe no es un objeto se deja igual.
func withInterpretation(raw json.RawMessage, summary ValidationSummary) json.RawMessage {
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil || report == nil {
		return raw
	}
	report["interpretation"] = summary
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return raw
	}
	return out
}
