// Carga de cadenas de certificados (.pem, .cer/.der, .p12/.pfx) y de la llave local.

package xades

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// LoadCertificateChain lee la cadena desde un archivo. password solo aplica a PKCS#12.
func LoadCertificateChain(path, password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer certificado %s: %v", domain.ErrValidation, path, err)
	}
	return ParseCertificateChain(data, password)
}

// ParseCertificateChain detecta el formato (PEM, DER o PKCS#12) y devuelve la cadena hoja primero.
func ParseCertificateChain(data []byte, password string) ([]*x509.Certificate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: certificado vacío", domain.ErrValidation)
	}
	var certs []*x509.Certificate
	switch {
	case bytes.Contains(data, []byte("-----BEGIN")):
		var err error
		certs, _, err = parsePEMBlocks(data)
		if err != nil {
			return nil, err
		}
	default:
		if der, err := x509.ParseCertificates(data); err == nil {
			certs = der
			break
		}
		blocks, err := pkcs12.ToPEM(data, password)
		if err != nil {
			return nil, fmt.Errorf("%w: formato de certificado no reconocido (PEM/DER/PKCS#12): %v", domain.ErrCrypto, err)
		}
		for _, b := range blocks {
			if b.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: certificado en p12: %v", domain.ErrCrypto, err)
			}
			certs = append(certs, cert)
		}
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no se encontraron certificados", domain.ErrValidation)
	}
	return orderLeafFirst(certs), nil
}

// LoadLocalSigner carga llave RSA y cadena desde .p12/.pfx o desde un PEM con ambos.
func LoadLocalSigner(path, password string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer llave %s: %v", domain.ErrValidation, path, err)
	}
	var (
		certs []*x509.Certificate
		key   *rsa.PrivateKey
	)
	if bytes.Contains(data, []byte("-----BEGIN")) {
		certs, key, err = parsePEMBlocks(data)
	} else {
		var blocks []*pem.Block
		blocks, err = pkcs12.ToPEM(data, password)
		if err != nil {
			return nil, fmt.Errorf("%w: decodificar p12: %v", domain.ErrCrypto, err)
		}
		certs, key, err = parsePEMBlocks(pemEncode(blocks))
	}
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s no contiene una llave privada RSA", domain.ErrCrypto, path)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: %s no contiene certificados", domain.ErrValidation, path)
	}
	return NewLocalSigner(key, orderLeafFirst(certs)), nil
}

func parsePEMBlocks(data []byte) ([]*x509.Certificate, *rsa.PrivateKey, error) {
	var (
		certs []*x509.Certificate
		key   *rsa.PrivateKey
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsear certificado PEM: %v", domain.ErrCrypto, err)
			}
			certs = append(certs, cert)
		case "RSA PRIVATE KEY", "PRIVATE KEY":
			k, err := parseRSAKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			key = k
		}
	}
	return certs, key, nil
}

// parseRSAKey acepta PKCS#1 y PKCS#8. pkcs12.ToPEM etiqueta como "PRIVATE KEY" bytes PKCS#1.
func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: llave privada ilegible: %v", domain.ErrCrypto, err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave debe ser RSA (rsa-sha256)", domain.ErrCrypto)
	}
	return rsaKey, nil
}

func pemEncode(blocks []*pem.Block) []byte {
	var buf bytes.Buffer
	for _, b := range blocks {
		_ = pem.Encode(&buf, b)
	}
	return buf.Bytes()
}

// orderLeafFirst ordena la cadena: hoja (el que no emite a ningún otro) y luego sus emisores.
// Los certificados que no encajan en la cadena quedan al final en su orden original.
func orderLeafFirst(certs []*x509.Certificate) []*x509.Certificate {
	if len(certs) < 2 {
		return certs
	}
	issuesOther := func(c *x509.Certificate) bool {
		for _, o := range certs {
			if o != c && bytes.Equal(o.RawIssuer, c.RawSubject) && !bytes.Equal(o.RawSubject, o.RawIssuer) {
				return true
			}
		}
		return false
	}
	var leaf *x509.Certificate
	for _, c := range certs {
		if !issuesOther(c) {
			leaf = c
			break
		}
	}
	if leaf == nil {
		return certs
	}
	used := map[*x509.Certificate]bool{leaf: true}
	ordered := []*x509.Certificate{leaf}
	for cur := leaf; ; {
		var next *x509.Certificate
		for _, c := range certs {
			if !used[c] && bytes.Equal(cur.RawIssuer, c.RawSubject) {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		used[next] = true
		ordered = append(ordered, next)
		cur = next
	}
	for _, c := range certs {
		if !used[c] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
