package ttn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// TransformClient convierte el XML registrado en TTN a su vista HTML.
type TransformClient struct {
	httpClient *http.Client
	url        string
	log        zerolog.Logger
}

// NewTransformClient construye el cliente del servicio /rest/api/transform.
func NewTransformClient(url string, timeout time.Duration, log zerolog.Logger) *TransformClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TransformClient{httpClient: &http.Client{Timeout: timeout}, url: url, log: log}
}

type transformRequest struct {
	Login         string `json:"login"`
	Password      string `json:"password"`
	Matricule     string `json:"matricule"`
	DocumentEfact string `json:"documentEfact"`
}

// RenderToHTML envía el xmlContent (Base64) y devuelve el HTML. name solo se usa en los logs.
func (c *TransformClient) RenderToHTML(ctx context.Context, base64XML string, creds entity.TTNCredentials, name string) (string, error) {
	if strings.TrimSpace(base64XML) == "" {
		return "", fmt.Errorf("%w: ttn: transform: contenido vacío", domain.ErrValidation)
	}
	body, err := json.Marshal(transformRequest{
		Login:         creds.Username,
		Password:      creds.Password,
		Matricule:     creds.MatriculeFiscal,
		DocumentEfact: base64XML,
	})
	if err != nil {
		return "", fmt.Errorf("ttn: transform: serializar: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: ttn: transform: crear request: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: ttn: transform: timeout o cancelación: %w", domain.ErrRemoteService, ctx.Err())
		}
		return "", fmt.Errorf("%w: ttn: transform: %v", domain.ErrRemoteService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: ttn: transform: leer respuesta: %v", domain.ErrRemoteService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: ttn: transform: HTTP %d", domain.ErrRemoteService, resp.StatusCode)
	}
	html := string(raw)
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("%w: ttn: transform: respuesta HTML vacía", domain.ErrRemoteService)
	}
	c.log.Debug().Str("filename", name).Int("bytes", len(raw)).Msg("HTML generado por TTN")
	return html, nil
}
