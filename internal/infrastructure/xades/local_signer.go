package xades

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// LocalSigner firma el digest con una llave RSA local. Solo para desarrollo y pruebas:
// en producción la llave vive en el servicio de sello ANCE.
type LocalSigner struct {
	key   *rsa.PrivateKey
	chain []*x509.Certificate
}

// NewLocalSigner construye el firmante local.
func NewLocalSigner(key *rsa.PrivateKey, chain []*x509.Certificate) *LocalSigner {
	return &LocalSigner{key: key, chain: chain}
}

// Chain devuelve la cadena asociada a la llave (hoja primero).
func (s *LocalSigner) Chain() []*x509.Certificate { return s.chain }

// SignFunc implementa HashSigner; las credenciales ANCE no aplican en modo local.
func (s *LocalSigner) SignFunc(_ entity.SignerCredentials) SignFunc {
	return func(_ context.Context, digestB64 string) (string, error) {
		digest, err := base64.StdEncoding.DecodeString(digestB64)
		if err != nil {
			return "", fmt.Errorf("%w: digest no es Base64: %v", domain.ErrCrypto, err)
		}
		if len(digest) != sha256.Size {
			return "", fmt.Errorf("%w: digest SHA-256 de %d bytes", domain.ErrCrypto, len(digest))
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest)
		if err != nil {
			return "", fmt.Errorf("%w: firmar digest: %v", domain.ErrCrypto, err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	}
}
