package dto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/pkg/elfatoura"
)

// TTNCredentialsRequest credenciales El Fatoura enviadas en cada petición (no se guardan).
type TTNCredentialsRequest struct {
	Username        string `json:"username" form:"username"`
	Password        string `json:"password" form:"password"`
	MatriculeFiscal string `json:"matriculeFiscal" form:"matriculeFiscal"`
}

// Credentials convierte la petición al tipo de dominio con la matrícula normalizada.
func (r TTNCredentialsRequest) Credentials() entity.TTNCredentials {
	return entity.TTNCredentials{
		Username:        strings.TrimSpace(r.Username),
		Password:        r.Password,
		MatriculeFiscal: elfatoura.NormalizeMatricule(r.MatriculeFiscal),
	}
}

// Validate exige los tres campos y una matrícula fiscal con formato válido.
func (r TTNCredentialsRequest) Validate() error {
	c := r.Credentials()
	if c.Username == "" || c.Password == "" || c.MatriculeFiscal == "" {
		return fmt.Errorf("%w: username, password y matriculeFiscal son obligatorios", domain.ErrValidation)
	}
	if err := elfatoura.ValidateMatricule(c.MatriculeFiscal); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// ConsultRequest cuerpo de POST /api/ttn/consult.
// Criteria admite un objeto (criterios consultEfact) o un string (idSaveEfact).
type ConsultRequest struct {
	TTNCredentialsRequest
	Criteria json.RawMessage `json:"criteria"`
}

// ConsultHTMLRequest cuerpo de POST /api/ttn/consult-html.
type ConsultHTMLRequest struct {
	TTNCredentialsRequest
	InvoiceID string `json:"invoiceId"`
}
