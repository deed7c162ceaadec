// Constructor de la firma XAdES-EPES envuelta (enveloped) exigida por TTN.
//
// La firma se arma en dos pasadas:
//  1. se describe el nodo ds:Signature como un árbol de especificaciones (node) con los
//     valores dependientes vacíos, se adjunta al documento y se serializa;
//  2. se vuelve a leer esa serialización y, ya en su contexto final, se calculan el
//     digest de SignedProperties y el de SignedInfo, se completan los valores y se firma.
//
// Así los digests se calculan sobre exactamente lo que canonicaliza un verificador.

package xades

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// SignFunc firma un digest SHA-256 (Base64) y devuelve el valor de firma en Base64.
// La implementa el adaptador del servicio de sello o el firmante local.
type SignFunc func(ctx context.Context, digestB64 string) (string, error)

// SigningRequest entrada inmutable del constructor.
type SigningRequest struct {
	Document         []byte
	Filename         string
	CertificateChain []*x509.Certificate // hoja primero
	SignerAlias      string
	DigestAlgorithm  DigestAlgorithm
}

// SignedDocument resultado de la firma.
type SignedDocument struct {
	XML         []byte
	SignatureID string
	// SignedInfo son los bytes canónicos cuyo SHA-256 se firmó.
	SignedInfo []byte
	// SignedInfoConsistent indica si SignedInfo re-canonicalizado desde el documento
	// final coincide con lo firmado. Una discrepancia se registra pero no aborta.
	SignedInfoConsistent bool
}

// Builder construye documentos firmados. Es seguro para uso concurrente.
type Builder struct {
	policy *PolicyHashCache
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewBuilder crea el constructor con la caché de política compartida.
func NewBuilder(policy *PolicyHashCache, log zerolog.Logger) *Builder {
	return &Builder{
		policy: policy,
		log:    log,
		now:    time.Now,
		newID:  func() string { return "id-" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// BuildSignedDocument firma el documento y devuelve la serialización completa
// con la declaración XML.
func (b *Builder) BuildSignedDocument(ctx context.Context, req SigningRequest, sign SignFunc) (*SignedDocument, error) {
	if sign == nil {
		return nil, errors.New("xades: SignFunc nula")
	}
	if len(req.CertificateChain) == 0 {
		return nil, fmt.Errorf("%w: cadena de certificados vacía", domain.ErrValidation)
	}
	doc, err := ParseDocument(req.Document)
	if err != nil {
		return nil, err
	}
	alg := req.DigestAlgorithm
	leaf := req.CertificateChain[0]

	// ═══ 1. Digest del documento (transformada XPath + C14N exclusiva) ═══
	body := doc.Root().Copy()
	stripSignatures(body)
	canonDoc, err := CanonicalizeElement(body)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar documento: %v", domain.ErrValidation, err)
	}
	docDigest := Digest(alg, canonDoc)

	// ═══ 2-4. Especificación de la firma, con digest de SignedProperties y SignatureValue vacíos ═══
	sigID := b.newID()
	props, err := b.signedProperties(ctx, leaf)
	if err != nil {
		return nil, err
	}
	keyInfo, err := keyInfoNode(req.CertificateChain)
	if err != nil {
		return nil, err
	}
	sigNode := el("ds:Signature", "xmlns:ds", NamespaceDS, "Id", sigID).add(
		signedInfoNode(alg, docDigest),
		el("ds:SignatureValue", "Id", "value-"+sigID),
		keyInfo,
		el("ds:Object").add(
			el("xades:QualifyingProperties", "xmlns:xades", NamespaceXAdES, "Target", "#"+sigID).add(props),
		),
	)
	doc.Root().AddChild(sigNode.render())

	firstPass, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: serializar documento: %v", domain.ErrCrypto, err)
	}

	// ═══ 5. Segunda pasada: documento final, digest de SignedProperties ═══
	final, sig, err := reparse(firstPass, sigID)
	if err != nil {
		return nil, err
	}
	slots, err := locateSlots(sig)
	if err != nil {
		return nil, err
	}
	canonProps, err := CanonicalizeElement(slots.signedProperties)
	if err != nil {
		return nil, err
	}
	slots.propertiesDigest.SetText(Digest(alg, canonProps))

	// ═══ 6. SignedInfo en contexto final → digest a firmar ═══
	canonSignedInfo, err := CanonicalizeElement(slots.signedInfo)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonSignedInfo)
	signatureB64, err := sign(ctx, base64.StdEncoding.EncodeToString(sum[:]))
	if err != nil {
		return nil, fmt.Errorf("xades: firma del digest: %w", err)
	}

	// ═══ 7. Validar y colocar SignatureValue ═══
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: el firmante devolvió un valor de firma inválido", domain.ErrCrypto)
	}
	slots.signatureValue.SetText(base64.StdEncoding.EncodeToString(raw))

	// ═══ 9. Serialización final (conserva la declaración XML) ═══
	out, err := final.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: serializar documento firmado: %v", domain.ErrCrypto, err)
	}

	// ═══ 8. Verificación de consistencia ═══
	consistent := b.signedInfoMatches(out, sigID, canonSignedInfo)
	if !consistent {
		b.log.Warn().Str("filename", req.Filename).Str("signature_id", sigID).
			Msg("SignedInfo del documento final no coincide con los bytes firmados")
	}
	b.log.Debug().Str("filename", req.Filename).Str("signature_id", sigID).
		Str("alias", req.SignerAlias).Int("chain", len(req.CertificateChain)).Msg("documento firmado")

	return &SignedDocument{
		XML:                  out,
		SignatureID:          sigID,
		SignedInfo:           canonSignedInfo,
		SignedInfoConsistent: consistent,
	}, nil
}

func (b *Builder) signedInfoMatches(signed []byte, sigID string, expected []byte) bool {
	_, sig, err := reparse(signed, sigID)
	if err != nil {
		return false
	}
	si := findElement(sig, byTag("ds", "SignedInfo"))
	got, err := CanonicalizeElement(si)
	if err != nil {
		return false
	}
	return bytes.Equal(got, expected)
}

// ── Especificaciones de nodos ─────────────────────────────────────────────────

func signedInfoNode(alg DigestAlgorithm, docDigest string) node {
	return el("ds:SignedInfo").add(
		el("ds:CanonicalizationMethod", "Algorithm", AlgExcC14N),
		el("ds:SignatureMethod", "Algorithm", AlgRSASHA256),
		el("ds:Reference", "Id", DocumentReferenceID, "Type", TypeDocument, "URI", "").add(
			el("ds:Transforms").add(
				el("ds:Transform", "Algorithm", TransformXPath).add(
					el("ds:XPath").text(XPathExcludeSignature),
				),
				el("ds:Transform", "Algorithm", AlgExcC14N),
			),
			el("ds:DigestMethod", "Algorithm", alg.URI()),
			el("ds:DigestValue").text(docDigest),
		),
		el("ds:Reference", "Type", TypeSignedProperties, "URI", "#"+SignedPropertiesID).add(
			el("ds:Transforms").add(
				el("ds:Transform", "Algorithm", AlgExcC14N),
			),
			el("ds:DigestMethod", "Algorithm", alg.URI()),
			el("ds:DigestValue"), // se completa en la segunda pasada
		),
	)
}

func keyInfoNode(chain []*x509.Certificate) (node, error) {
	data := el("ds:X509Data")
	for i, cert := range chain {
		if cert == nil || len(cert.Raw) == 0 {
			return node{}, fmt.Errorf("%w: certificado %d de la cadena sin contenido DER", domain.ErrCrypto, i)
		}
		data = data.add(el("ds:X509Certificate").text(base64.StdEncoding.EncodeToString(cert.Raw)))
	}
	return el("ds:KeyInfo").add(data), nil
}

func (b *Builder) signedProperties(ctx context.Context, leaf *x509.Certificate) (node, error) {
	if leaf == nil || len(leaf.Raw) == 0 {
		return node{}, fmt.Errorf("%w: certificado del firmante sin contenido DER", domain.ErrCrypto)
	}
	issuerSerial, err := EncodeIssuerSerial(leaf)
	if err != nil {
		return node{}, err
	}
	certDigest := sha512.Sum512(leaf.Raw)
	policyHash := PolicyHashFallback
	if b.policy != nil {
		policyHash = b.policy.Hash(ctx)
	}

	return el("xades:SignedProperties", "Id", SignedPropertiesID).add(
		el("xades:SignedSignatureProperties").add(
			el("xades:SigningTime").text(b.now().UTC().Format("2006-01-02T15:04:05Z")),
			el("xades:SigningCertificateV2").add(
				el("xades:Cert").add(
					el("xades:CertDigest").add(
						el("ds:DigestMethod", "Algorithm", AlgSHA512),
						el("ds:DigestValue").text(base64.StdEncoding.EncodeToString(certDigest[:])),
					),
					el("xades:IssuerSerialV2").text(issuerSerial),
				),
			),
			el("xades:SignaturePolicyIdentifier").add(
				el("xades:SignaturePolicyId").add(
					el("xades:SigPolicyId").add(
						el("xades:Identifier", "Qualifier", PolicyQualifier).text(PolicyIdentifier),
						el("xades:Description").text(PolicyDescription),
					),
					el("xades:SigPolicyHash").add(
						el("ds:DigestMethod", "Algorithm", AlgSHA256),
						el("ds:DigestValue").text(policyHash),
					),
					el("xades:SigPolicyQualifiers").add(
						el("xades:SigPolicyQualifier").add(
							el("xades:SPURI").text(PolicyURL),
						),
					),
				),
			),
			el("xades:SignerRoleV2").add(
				el("xades:ClaimedRoles").add(
					el("xades:ClaimedRole").text(ClaimedRoleSupplier),
				),
			),
		),
		el("xades:SignedDataObjectProperties").add(
			el("xades:DataObjectFormat", "ObjectReference", "#"+DocumentReferenceID).add(
				el("xades:MimeType").text(DataObjectMimeType),
			),
		),
	), nil
}

// ── Segunda pasada ────────────────────────────────────────────────────────────

// slots valores que dependen del documento final.
type slots struct {
	signedInfo       *etree.Element
	signedProperties *etree.Element
	propertiesDigest *etree.Element // DigestValue de la referencia a SignedProperties
	signatureValue   *etree.Element
}

func reparse(data []byte, sigID string) (*etree.Document, *etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, nil, fmt.Errorf("%w: releer documento firmado: %v", domain.ErrCrypto, err)
	}
	sig := findElement(doc.Root(), byTagAndAttr("ds", "Signature", "Id", sigID))
	if sig == nil {
		return nil, nil, fmt.Errorf("%w: ds:Signature %s no encontrada en el documento", domain.ErrCrypto, sigID)
	}
	return doc, sig, nil
}

func locateSlots(sig *etree.Element) (*slots, error) {
	s := &slots{
		signedInfo:       findElement(sig, byTag("ds", "SignedInfo")),
		signedProperties: findElement(sig, byTagAndAttr("xades", "SignedProperties", "Id", SignedPropertiesID)),
		signatureValue:   findElement(sig, byTag("ds", "SignatureValue")),
	}
	if s.signedInfo != nil {
		if ref := findElement(s.signedInfo, byTagAndAttr("ds", "Reference", "URI", "#"+SignedPropertiesID)); ref != nil {
			s.propertiesDigest = findElement(ref, byTag("ds", "DigestValue"))
		}
	}
	if s.signedInfo == nil || s.signedProperties == nil || s.propertiesDigest == nil || s.signatureValue == nil {
		return nil, fmt.Errorf("%w: estructura de firma incompleta tras la primera pasada", domain.ErrCrypto)
	}
	return s, nil
}
