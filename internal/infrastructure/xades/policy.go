package xades

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxPolicySize = 10 << 20

// PolicyHashCache mantiene el SHA-256 del PDF de la política de firma.
// Se construye una vez en el arranque y se inyecta en el Builder.
type PolicyHashCache struct {
	url      string
	fallback string
	ttl      time.Duration
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cached    string
	lastCheck time.Time
}

// NewPolicyHashCache crea la caché. Con url vacía nunca descarga y usa el hash conocido.
func NewPolicyHashCache(url string, ttl time.Duration, client *http.Client, log zerolog.Logger) *PolicyHashCache {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PolicyHashCache{
		url:      url,
		fallback: PolicyHashFallback,
		ttl:      ttl,
		client:   client,
		log:      log,
		now:      time.Now,
	}
}

// Hash devuelve el hash vigente. Nunca falla: ante errores de red devuelve el último
// valor conocido o el hash de respaldo.
func (c *PolicyHashCache) Hash(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.url == "" {
		return c.fallback
	}
	now := c.now()
	if c.cached != "" && now.Sub(c.lastCheck) < c.ttl {
		return c.cached
	}
	c.lastCheck = now

	hash, err := c.download(ctx)
	if err != nil {
		if c.cached == "" {
			c.cached = c.fallback
		}
		c.log.Warn().Err(err).Str("policy_url", c.url).Str("hash", c.cached).
			Msg("no se pudo descargar la política de firma, se usa el hash conocido")
		return c.cached
	}
	if hash != c.fallback {
		c.log.Info().Str("hash", hash).Msg("hash de la política de firma actualizado")
	}
	c.cached = hash
	return c.cached
}

// LastCheck devuelve el instante del último intento de descarga.
func (c *PolicyHashCache) LastCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck
}

func (c *PolicyHashCache) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("política: crear request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("política: descarga: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("política: HTTP %d", resp.StatusCode)
	}
	h := sha256.New()
	n, err := io.Copy(h, io.LimitReader(resp.Body, maxPolicySize))
	if err != nil {
		return "", fmt.Errorf("política: leer cuerpo: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("política: documento vacío")
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
