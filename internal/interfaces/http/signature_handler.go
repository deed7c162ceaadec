package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// DocumentSigner firma una factura XAdES-EPES.
type DocumentSigner interface {
	SignDocument(ctx context.Context, file entity.InvoiceFile, creds *entity.Credentials) ([]byte, error)
}

// SignatureHandler firma de un documento suelto, sin registro en TTN.
type SignatureHandler struct {
	signer    DocumentSigner
	parseCert CertificateParser
	log       zerolog.Logger
}

// NewSignatureHandler construye el handler.
func NewSignatureHandler(signer DocumentSigner, parseCert CertificateParser, log zerolog.Logger) *SignatureHandler {
	return &SignatureHandler{signer: signer, parseCert: parseCert, log: log}
}

// Sign firma el XML recibido y lo devuelve como adjunto.
// POST /api/signature/sign (multipart: file, alias, pin, certificate opcional)
func (h *SignatureHandler) Sign(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "se esperaba multipart/form-data")
	}
	files, err := readInvoiceFiles(form)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if len(files) != 1 {
		return badRequest(c, "se firma un único documento por petición")
	}
	signer, err := readSignerCredentials(form)
	if err != nil {
		return writeError(c, h.log, err)
	}
	chain, err := readCertificate(form, h.parseCert)
	if err != nil {
		return writeError(c, h.log, err)
	}

	file := files[0]
	signed, err := h.signer.SignDocument(c.UserContext(), file, &entity.Credentials{
		Username:         auditName(c),
		Signer:           signer,
		CertificateChain: chain,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.log.Info().Str("filename", file.Filename).Str("username", auditName(c)).Msg("documento firmado")

	c.Attachment(file.Filename)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return c.Send(signed)
}
