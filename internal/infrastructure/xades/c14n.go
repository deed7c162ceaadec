package xades

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// DigestAlgorithm algoritmo de digest de las referencias. El valor cero es SHA-256.
type DigestAlgorithm int

const (
	DigestSHA256 DigestAlgorithm = iota
	DigestSHA512
)

// URI devuelve el identificador XMLDSig del algoritmo.
func (a DigestAlgorithm) URI() string {
	if a == DigestSHA512 {
		return AlgSHA512
	}
	return AlgSHA256
}

// Sum calcula el digest crudo.
func (a DigestAlgorithm) Sum(data []byte) []byte {
	if a == DigestSHA512 {
		h := sha512.Sum512(data)
		return h[:]
	}
	h := sha256.Sum256(data)
	return h[:]
}

// Digest devuelve el digest en Base64, tal como va en <ds:DigestValue>.
func Digest(alg DigestAlgorithm, data []byte) string {
	return base64.StdEncoding.EncodeToString(alg.Sum(data))
}

// excC14N C14N exclusiva sin comentarios y sin InclusiveNamespaces.
var excC14N = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

// Canonicalize aplica C14N exclusiva (sin comentarios) a un fragmento XML serializado.
func Canonicalize(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: c14n: %v", domain.ErrCrypto, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: c14n: documento sin elemento raíz", domain.ErrCrypto)
	}
	return CanonicalizeElement(doc.Root())
}

// CanonicalizeElement canonicaliza el elemento en su contexto de documento: las
// declaraciones de namespace de los ancestros se copian al elemento y la C14N
// exclusiva conserva solo las que el subárbol usa visiblemente. Un atributo sin
// prefijo no usa el namespace por defecto. El elemento original no se modifica.
func CanonicalizeElement(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, fmt.Errorf("%w: c14n: elemento nulo", domain.ErrCrypto)
	}
	cp := el.Copy()
	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if prefix, ok := nsDecl(a); ok {
			declared[prefix] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			prefix, ok := nsDecl(a)
			if !ok || declared[prefix] {
				continue
			}
			declared[prefix] = true
			if prefix == "" {
				cp.CreateAttr("xmlns", a.Value)
			} else {
				cp.CreateAttr("xmlns:"+prefix, a.Value)
			}
		}
	}
	out, err := excC14N.Canonicalize(cp)
	if err != nil {
		return nil, fmt.Errorf("%w: c14n de %s: %v", domain.ErrCrypto, el.Tag, err)
	}
	return out, nil
}

// nsDecl indica si el atributo es una declaración de namespace y devuelve su prefijo ("" = por defecto).
func nsDecl(a etree.Attr) (string, bool) {
	if a.Space == "xmlns" {
		return a.Key, true
	}
	if a.Space == "" && a.Key == "xmlns" {
		return "", true
	}
	return "", false
}
