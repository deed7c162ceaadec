package entity

import (
	"github.com/shopspring/decimal"
)

// ConsultedInvoice es un registro <return> de la respuesta consultEfact del WS TTN.
type ConsultedInvoice struct {
	DocumentNumber  string           `json:"documentNumber"`
	DocumentType    string           `json:"documentType"`
	DateDocument    string           `json:"dateDocument"`
	DateProcess     string           `json:"dateProcess"`
	Amount          decimal.Decimal  `json:"amount"`
	AmountTax       decimal.Decimal  `json:"amountTax"`
	GeneratedRef    string           `json:"generatedRef,omitempty"`
	IDSaveEfact     string           `json:"idSaveEfact,omitempty"`
	XMLContent      string           `json:"xmlContent,omitempty"` // Base64 del XML sellado por TTN (puede tardar en poblarse)
	Acknowledgments []Acknowledgment `json:"acknowledgments,omitempty"`
}

// Acknowledgment acuse de recibo TTN asociado a una factura (listAcknowlegments).
type Acknowledgment struct {
	DateAck string     `json:"dateAck"`
	Errors  []AckError `json:"errors,omitempty"`
}

// AckError error reportado por TTN dentro de un acuse.
type AckError struct {
	ID          string `json:"errorId"`
	Description string `json:"errorDescription"`
}

// ConsultResult resultado de consultEfact.
type ConsultResult struct {
	Success     bool               `json:"success"`
	Count       int                `json:"count"`
	Invoices    []ConsultedInvoice `json:"invoices"`
	RawResponse string             `json:"rawResponse,omitempty"`
}
