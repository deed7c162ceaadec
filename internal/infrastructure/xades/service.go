package xades

import (
	"context"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// HashSigner entrega la función de firma para las credenciales del usuario.
// La implementan el cliente ANCE (firma remota) y LocalSigner.
type HashSigner interface {
	SignFunc(creds entity.SignerCredentials) SignFunc
}

// DocumentSigningService firma facturas completas: valida el archivo, resuelve la
// cadena de certificados y delega en el Builder.
type DocumentSigningService struct {
	builder      *Builder
	signer       HashSigner
	defaultChain []*x509.Certificate
	log          zerolog.Logger
}

// NewDocumentSigningService construye el servicio. defaultChain se usa cuando la
// petición no trae cadena propia.
func NewDocumentSigningService(builder *Builder, signer HashSigner, defaultChain []*x509.Certificate, log zerolog.Logger) *DocumentSigningService {
	return &DocumentSigningService{builder: builder, signer: signer, defaultChain: defaultChain, log: log}
}

// ValidateInvoiceFile revisa nombre, extensión y tamaño antes de firmar.
func ValidateInvoiceFile(file entity.InvoiceFile) error {
	name := strings.TrimSpace(file.Filename)
	if name == "" {
		return fmt.Errorf("%w: nombre de archivo vacío", domain.ErrValidation)
	}
	if !strings.EqualFold(filepath.Ext(name), ".xml") {
		return fmt.Errorf("%w: %s no es un archivo .xml", domain.ErrValidation, name)
	}
	if len(file.Content) == 0 {
		return fmt.Errorf("%w: %s está vacío", domain.ErrValidation, name)
	}
	if len(file.Content) > MaxDocumentSize {
		return fmt.Errorf("%w: %s supera el máximo de %d MB", domain.ErrValidation, name, MaxDocumentSize>>20)
	}
	return nil
}

// SignDocument firma la factura y devuelve el XML firmado.
func (s *DocumentSigningService) SignDocument(ctx context.Context, file entity.InvoiceFile, creds *entity.Credentials) ([]byte, error) {
	if err := ValidateInvoiceFile(file); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("%w: credenciales de firma requeridas", domain.ErrValidation)
	}
	chain := creds.CertificateChain
	if len(chain) == 0 {
		chain = s.defaultChain
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no hay cadena de certificados disponible", domain.ErrValidation)
	}

	signed, err := s.builder.BuildSignedDocument(ctx, SigningRequest{
		Document:         file.Content,
		Filename:         file.Filename,
		CertificateChain: chain,
		SignerAlias:      creds.Signer.Alias,
		DigestAlgorithm:  DigestSHA256,
	}, s.signer.SignFunc(creds.Signer))
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("filename", file.Filename).Str("signature_id", signed.SignatureID).
		Bool("consistent", signed.SignedInfoConsistent).Int("bytes", len(signed.XML)).Msg("factura firmada")
	return signed.XML, nil
}
