// Cliente del servicio de sello electrónico ANCE (TunTrust): firma remota del hash
// y validación de documentos firmados.

package ance

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/xades"
)

const (
	aliasPlaceholder = "{alias}"
	maxResponseSize  = 16 << 20
	validationName   = "signed.xml"
	validationMime   = "text/xml"
)

// Config endpoints del servicio de sello.
type Config struct {
	SignURL       string // plantilla con {alias}; sin ella se agrega /<alias>/SHA256
	ValidationURL string
	SSLVerify     bool
	Timeout       time.Duration
}

// Client habla con el proxy de firma ANCE. Es seguro para uso concurrente.
type Client struct {
	httpClient      *http.Client
	signURLTemplate string
	validationURL   string
	log             zerolog.Logger
}

// NewClient construye el cliente. Con SSLVerify=false acepta certificados no confiables
// (proxies de prueba con IP directa).
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.SSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // configurable por entorno
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout, Transport: transport},
		signURLTemplate: cfg.SignURL,
		validationURL:   cfg.ValidationURL,
		log:             log,
	}
}

// ── Estructuras JSON ──────────────────────────────────────────────────────────

type signRequest struct {
	Password string `json:"password"`
	Bytes    string `json:"bytes"`
}

type signResponse struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type validationRequest struct {
	SignedDocument signedDocument `json:"signedDocument"`
}

type signedDocument struct {
	Bytes    string   `json:"bytes"`
	Name     string   `json:"name"`
	MimeType mimeType `json:"mimeType"`
}

type mimeType struct {
	MimeTypeString string `json:"mimeTypeString"`
}

// SignResult resultado de SignHashAsync.
type SignResult struct {
	Signature string
	Err       error
}

// ValidationResult resultado de ValidateSignatureAsync.
type ValidationResult struct {
	Report json.RawMessage
	Err    error
}

// ── Firma ─────────────────────────────────────────────────────────────────────

// BuildSignURL resuelve la URL de firma para el alias del usuario.
func (c *Client) BuildSignURL(alias string) string {
	if strings.Contains(c.signURLTemplate, aliasPlaceholder) {
		return strings.ReplaceAll(c.signURLTemplate, aliasPlaceholder, alias)
	}
	if strings.HasSuffix(c.signURLTemplate, "/") {
		return c.signURLTemplate + alias + "/SHA256"
	}
	return c.signURLTemplate + "/" + alias + "/SHA256"
}

// SignHash envía el digest (Base64) con el PIN del usuario y devuelve el valor de firma.
// No reintenta: un PIN erróneo repetido puede bloquear la llave.
func (c *Client) SignHash(ctx context.Context, digestB64, pin, signURL string) (string, error) {
	if signURL == "" {
		return "", fmt.Errorf("%w: ance: URL de firma vacía", domain.ErrValidation)
	}
	raw, err := c.postJSON(ctx, signURL, signRequest{Password: pin, Bytes: digestB64})
	if err != nil {
		return "", fmt.Errorf("ance: firma: %w", err)
	}
	var resp signResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: ance: respuesta de firma ilegible: %v", domain.ErrRemoteService, err)
	}
	value := strings.TrimSpace(resp.Value)
	if value == "" {
		return "", fmt.Errorf("%w: ance: la respuesta de firma no trae 'value'", domain.ErrRemoteService)
	}
	c.log.Debug().Str("algorithm", resp.Algorithm).Int("signature_len", len(value)).Msg("hash firmado por ANCE")
	return value, nil
}

// SignHashAsync ejecuta SignHash en otra goroutine. El canal entrega un único valor y se cierra.
func (c *Client) SignHashAsync(ctx context.Context, digestB64, pin, signURL string) <-chan SignResult {
	out := make(chan SignResult, 1)
	go func() {
		defer close(out)
		sig, err := c.SignHash(ctx, digestB64, pin, signURL)
		out <- SignResult{Signature: sig, Err: err}
	}()
	return out
}

// SignFunc adapta el cliente al contrato del constructor XAdES para las credenciales dadas.
func (c *Client) SignFunc(creds entity.SignerCredentials) xades.SignFunc {
	return func(ctx context.Context, digestB64 string) (string, error) {
		if strings.TrimSpace(creds.Alias) == "" {
			return "", fmt.Errorf("%w: alias ANCE requerido para firmar", domain.ErrValidation)
		}
		return c.SignHash(ctx, digestB64, creds.PIN, c.BuildSignURL(creds.Alias))
	}
}

// ── Validación ────────────────────────────────────────────────────────────────

// ValidateSignature envía el documento firmado al validador ANCE y devuelve el informe JSON.
// Si se conoce el ID de registro en TTN se anota en el informe.
func (c *Client) ValidateSignature(ctx context.Context, signedXML []byte, registrationID string) (json.RawMessage, error) {
	if c.validationURL == "" {
		return nil, fmt.Errorf("%w: ance: URL de validación no configurada", domain.ErrValidation)
	}
	req := validationRequest{SignedDocument: signedDocument{
		Bytes:    base64.StdEncoding.EncodeToString(signedXML),
		Name:     validationName,
		MimeType: mimeType{MimeTypeString: validationMime},
	}}
	raw, err := c.postJSON(ctx, c.validationURL, req)
	if err != nil {
		return nil, fmt.Errorf("ance: validación: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: ance: informe de validación vacío", domain.ErrRemoteService)
	}
	if registrationID == "" {
		return json.RawMessage(raw), nil
	}

	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("%w: ance: informe de validación ilegible: %v", domain.ErrRemoteService, err)
	}
	report["ttnInvoiceId"] = registrationID
	report["ttnStatus"] = "Successfully saved to TTN with ID: " + registrationID
	annotated, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ance: serializar informe: %w", err)
	}
	return annotated, nil
}

// ValidateSignatureAsync ejecuta ValidateSignature en otra goroutine.
func (c *Client) ValidateSignatureAsync(ctx context.Context, signedXML []byte, registrationID string) <-chan ValidationResult {
	out := make(chan ValidationResult, 1)
	go func() {
		defer close(out)
		report, err := c.ValidateSignature(ctx, signedXML, registrationID)
		out <- ValidationResult{Report: report, Err: err}
	}()
	return out
}

// postJSON hace el POST y devuelve el cuerpo de una respuesta 2xx.
func (c *Client) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializar petición: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: crear request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: timeout o cancelación: %w", domain.ErrRemoteService, ctx.Err())
		}
		return nil, fmt.Errorf("%w: llamada HTTP fallida: %v", domain.ErrRemoteService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: leer respuesta: %v", domain.ErrRemoteService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("ANCE respondió con error")
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrRemoteService, resp.StatusCode, snippet(raw))
	}
	return raw, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
