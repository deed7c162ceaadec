package entity

import "crypto/x509"

// TTNCredentials credenciales del portail El Fatoura (TradeNet).
type TTNCredentials struct {
	Username        string
	Password        string
	MatriculeFiscal string // identificador fiscal del emisor
}

// SignerCredentials identifican la llave del usuario en el servicio de sello ANCE.
type SignerCredentials struct {
	Alias string
	PIN   string
}

// Credentials se reciben por invocación y nunca se persisten.
type Credentials struct {
	Username         string // usuario de la API que lanzó el lote (auditoría)
	TTN              TTNCredentials
	Signer           SignerCredentials
	CertificateChain []*x509.Certificate // hoja primero; vacío = cadena por defecto de la configuración
}

// InvoiceFile documento XML recibido para procesar.
type InvoiceFile struct {
	Filename string
	Content  []byte
}

// Size devuelve el tamaño en bytes del contenido.
func (f InvoiceFile) Size() int64 { return int64(len(f.Content)) }
