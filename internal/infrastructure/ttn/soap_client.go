// Package ttn implementa los clientes del WS El Fatoura de Tunisie TradeNet:
// saveEfact/consultEfact (SOAP) y la transformación XML → HTML (REST).
package ttn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

const maxResponseSize = 16 << 20

// Config endpoints y tiempos del WS.
type Config struct {
	SOAPURL           string
	TransformURL      string
	Timeout           time.Duration
	ConsultDelay      time.Duration // espera previa a cada consultEfact
	ContentRetries    int           // intentos para obtener xmlContent
	ContentRetryDelay time.Duration // espera fija entre intentos
}

// SOAPClient cliente del servicio EfactService. Es seguro para uso concurrente.
type SOAPClient struct {
	httpClient   *http.Client
	url          string
	consultDelay time.Duration
	retries      int
	retryDelay   time.Duration
	log          zerolog.Logger
}

// NewSOAPClient construye el cliente con el timeout de red configurado (60 s por defecto,
// el WS TTN puede tardar varios segundos en responder).
func NewSOAPClient(cfg Config, log zerolog.Logger) *SOAPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.ContentRetries
	if retries <= 0 {
		retries = 5
	}
	return &SOAPClient{
		httpClient:   &http.Client{Timeout: timeout},
		url:          cfg.SOAPURL,
		consultDelay: cfg.ConsultDelay,
		retries:      retries,
		retryDelay:   cfg.ContentRetryDelay,
		log:          log,
	}
}

// ── saveEfact ─────────────────────────────────────────────────────────────────

// SaveDocument registra el documento firmado (Base64) y devuelve la referencia de TTN,
// p. ej. "Facture enregistree avec ID 1805137 est en cours de validation".
// Un fault, aunque llegue dentro de la referencia, se devuelve como *domain.FaultError.
func (c *SOAPClient) SaveDocument(ctx context.Context, creds entity.TTNCredentials, base64Doc string) (string, error) {
	if strings.TrimSpace(base64Doc) == "" {
		return "", fmt.Errorf("%w: ttn: documento vacío", domain.ErrValidation)
	}
	payload, err := buildSaveEnvelope(creds, base64Doc)
	if err != nil {
		return "", fmt.Errorf("ttn: serializar saveEfact: %w", err)
	}
	raw, err := c.call(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("ttn: saveEfact: %w", err)
	}
	ref, err := parseSaveResponse(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("matricule", creds.MatriculeFiscal).Msg("saveEfact rechazado")
		return "", fmt.Errorf("ttn: saveEfact: %w", err)
	}
	c.log.Info().Str("matricule", creds.MatriculeFiscal).Str("reference", ref).Msg("documento registrado en TTN")
	return ref, nil
}

// ── consultEfact ──────────────────────────────────────────────────────────────

// ConsultDocuments consulta facturas por criterios: map[string]string / map[string]any
// (elementos hermanos), string (idSaveEfact) o nil. Antes del envío espera ConsultDelay
// porque TTN completa los datos de forma asíncrona tras el registro.
func (c *SOAPClient) ConsultDocuments(ctx context.Context, creds entity.TTNCredentials, criteria any) (*entity.ConsultResult, error) {
	payload, err := buildConsultEnvelope(creds, criteria)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.consultDelay); err != nil {
		return nil, fmt.Errorf("ttn: consultEfact: %w", err)
	}
	raw, err := c.call(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("ttn: consultEfact: %w", err)
	}
	result, err := parseConsultResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("ttn: consultEfact: %w", err)
	}
	c.log.Debug().Int("count", result.Count).Msg("consultEfact completado")
	return result, nil
}

// FetchDocumentContent obtiene el xmlContent (Base64 del XML sellado por TTN) del registro.
// El campo se puebla fuera de banda: se reintenta hasta ContentRetries veces con espera fija
// y al agotarse devuelve domain.ErrTimeout. Un fault corta los reintentos.
func (c *SOAPClient) FetchDocumentContent(ctx context.Context, creds entity.TTNCredentials, registrationID string) (string, error) {
	if strings.TrimSpace(registrationID) == "" {
		return "", fmt.Errorf("%w: ttn: ID de registro vacío", domain.ErrValidation)
	}
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		result, err := c.ConsultDocuments(ctx, creds, registrationID)
		switch {
		case err == nil:
			for _, inv := range result.Invoices {
				if content := strings.TrimSpace(inv.XMLContent); content != "" {
					c.log.Debug().Str("ttn_id", registrationID).Int("attempt", attempt).Msg("xmlContent disponible")
					return content, nil
				}
			}
			lastErr = nil
		case errors.Is(err, domain.ErrProtocolFault), ctx.Err() != nil:
			return "", err
		default:
			lastErr = err
		}

		if attempt < c.retries {
			c.log.Info().Str("ttn_id", registrationID).Int("attempt", attempt).Int("max", c.retries).
				Dur("delay", c.retryDelay).Msg("xmlContent aún no disponible, reintentando")
			if err := wait(ctx, c.retryDelay); err != nil {
				return "", fmt.Errorf("ttn: xmlContent: %w", err)
			}
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: xmlContent no disponible tras %d intentos (último error: %v)", domain.ErrTimeout, c.retries, lastErr)
	}
	return "", fmt.Errorf("%w: xmlContent no disponible tras %d intentos", domain.ErrTimeout, c.retries)
}

// call envía el envelope y devuelve el cuerpo. Los faults llegan con HTTP 500 según SOAP 1.1,
// así que un cuerpo con Fault se devuelve para que el parser lo reconozca.
func (c *SOAPClient) call(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: crear request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

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
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return raw, nil
	}
	if bytes.Contains(raw, []byte("Fault")) {
		if _, err := parseEnvelope(raw); err != nil {
			var fault *domain.FaultError
			if errors.As(err, &fault) {
				return nil, fault
			}
		}
	}
	return nil, fmt.Errorf("%w: HTTP %d", domain.ErrRemoteService, resp.StatusCode)
}

// wait duerme d respetando la cancelación del contexto.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
