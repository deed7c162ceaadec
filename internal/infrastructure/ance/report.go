package ance

import "encoding/json"

// Estados globales del informe interpretado.
const (
	StatusValid       = "VALIDE"
	StatusWarnings    = "VALIDE_AVEC_AVERTISSEMENTS"
	StatusInvalid     = "INVALIDE"
	StatusNoSignature = "AUCUNE_SIGNATURE"
	StatusUnreadable  = "ERREUR"
)

// ValidationSummary lectura del informe ANCE para mostrar al usuario.
type ValidationSummary struct {
	ValidationDate string              `json:"validationDate"`
	DocumentName   string              `json:"documentName"`
	OverallStatus  string              `json:"overallStatus"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	Signatures     []SignatureAnalysis `json:"signatures"`
}

// Failed indica si el informe debe contar como fallo (consultivo) de la etapa de validación.
func (s ValidationSummary) Failed() bool {
	return s.OverallStatus == StatusInvalid || s.OverallStatus == StatusNoSignature
}

// SignatureAnalysis conclusión de una firma del documento.
type SignatureAnalysis struct {
	ID                 string            `json:"signatureId"`
	Type               string            `json:"signatureType"`
	Indication         string            `json:"indication"`
	SubIndication      string            `json:"subIndication,omitempty"`
	CertificateSubject string            `json:"certificateSubject,omitempty"`
	CertificateIssuer  string            `json:"certificateIssuer,omitempty"`
	CertificateSerial  string            `json:"certificateSerialNumber,omitempty"`
	Errors             []ValidationIssue `json:"errors"`
	Warnings           []ValidationIssue `json:"warnings"`
}

// ValidationIssue error o advertencia con su interpretación en francés.
type ValidationIssue struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Interpretation string `json:"interpretation"`
}

var errorInterpretations = map[string]string{
	"BBB_VCI_ISPA_ANS":      "La politique de signature n'est pas disponible. Vérifiez que l'URL de la politique est accessible.",
	"BBB_XCV_CCCBB_SIG_ANS": "Le certificat de signature n'est pas valide ou a expiré.",
	"BBB_XCV_SUB_ANS":       "Le certificat ne respecte pas les contraintes de la politique.",
	"BBB_SAV_ISQPSTP_ANS":   "La signature ne respecte pas le format requis.",
	"BBB_CV_IRDOF_ANS":      "Impossible de vérifier la révocation du certificat.",
}

var warningInterpretations = map[string]string{
	"BBB_ICS_AIDNASNE_ANS":    "L'attribut 'issuer-serial' est absent ou ne correspond pas.",
	"BBB_SAV_DMICTSTMCMI_ANS": "L'horodatage de la signature pourrait ne pas être fiable.",
	"BBB_XCV_ICTIVRSC_ANS":    "Impossible de vérifier complètement la chaîne de certificats.",
	"BBB_VCI_ISPK_ANS":        "La clé publique de signature pourrait ne pas être fiable.",
}

// text acepta cualquier escalar JSON y lo guarda como texto.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	*t = text(b)
	return nil
}

type rawIssue struct {
	NameID text `json:"nameId"`
	Value  text `json:"value"`
}

type rawReport struct {
	ValidationTime text `json:"validationTime"`
	DocumentName   text `json:"documentName"`
	Signatures     []struct {
		ID         text `json:"id"`
		Type       text `json:"type"`
		Conclusion struct {
			Indication    text       `json:"indication"`
			SubIndication text       `json:"subIndication"`
			Errors        []rawIssue `json:"errors"`
			Warnings      []rawIssue `json:"warnings"`
		} `json:"conclusion"`
		SigningCertificate struct {
			Subject text `json:"subjectDistinguishedName"`
			Issuer  text `json:"issuerDistinguishedName"`
			Serial  text `json:"serialNumber"`
		} `json:"signingCertificate"`
	} `json:"signatures"`
}

// InterpretReport resume el informe JSON del validador. Nunca falla: un informe ilegible
// produce el estado ERREUR con el motivo.
func InterpretReport(raw []byte) ValidationSummary {
	var r rawReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return ValidationSummary{
			OverallStatus: StatusUnreadable,
			ErrorMessage:  "Erreur lors de l'interprétation du rapport: " + err.Error(),
			Signatures:    []SignatureAnalysis{},
		}
	}

	summary := ValidationSummary{
		ValidationDate: string(r.ValidationTime),
		DocumentName:   string(r.DocumentName),
		Signatures:     make([]SignatureAnalysis, 0, len(r.Signatures)),
	}
	var hasErrors, hasWarnings bool
	for _, s := range r.Signatures {
		a := SignatureAnalysis{
			ID:                 string(s.ID),
			Type:               string(s.Type),
			Indication:         string(s.Conclusion.Indication),
			SubIndication:      string(s.Conclusion.SubIndication),
			CertificateSubject: string(s.SigningCertificate.Subject),
			CertificateIssuer:  string(s.SigningCertificate.Issuer),
			CertificateSerial:  string(s.SigningCertificate.Serial),
			Errors:             issues(s.Conclusion.Errors, errorInterpretations, "Erreur de validation non reconnue: "),
			Warnings:           issues(s.Conclusion.Warnings, warningInterpretations, "Avertissement non reconnu: "),
		}
		hasErrors = hasErrors || len(a.Errors) > 0
		hasWarnings = hasWarnings || len(a.Warnings) > 0
		summary.Signatures = append(summary.Signatures, a)
	}

	switch {
	case len(summary.Signatures) == 0:
		summary.OverallStatus = StatusNoSignature
	case hasErrors:
		summary.OverallStatus = StatusInvalid
	case hasWarnings:
		summary.OverallStatus = StatusWarnings
	default:
		summary.OverallStatus = StatusValid
	}
	return summary
}

func issues(in []rawIssue, known map[string]string, unknownPrefix string) []ValidationIssue {
	out := make([]ValidationIssue, 0, len(in))
	for _, i := range in {
		code := string(i.NameID)
		interp, ok := known[code]
		if !ok {
			interp = unknownPrefix + code
		}
		out = append(out, ValidationIssue{Code: code, Message: string(i.Value), Interpretation: interp})
	}
	return out
}
