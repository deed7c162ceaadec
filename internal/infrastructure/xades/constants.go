// Constantes de la firma XAdES-EPES exigida por TradeNet (TTN) para El Fatoura.

package xades

// Namespaces y algoritmos XMLDSig / XAdES.
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgExcC14N     = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgRSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256      = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgSHA512      = "http://www.w3.org/2001/04/xmlenc#sha512"
	TransformXPath = "http://www.w3.org/TR/1999/REC-xpath-19991116"

	// XPathExcludeSignature excluye la propia firma del digest del documento (firma envuelta).
	XPathExcludeSignature = "not(ancestor-or-self::ds:Signature)"

	TypeSignedProperties = "http://uri.etsi.org/01903#SignedProperties"
	TypeDocument         = "text/xml"
)

// Ids fijos que esperan los verificadores de TTN.
const (
	DocumentReferenceID = "r-id-frs"
	SignedPropertiesID  = "xades-SigFrs"
)

// Política de firma electrónica de Túnez (TradeNet).
const (
	PolicyIdentifier   = "urn:2.16.788.1.2.1.3"
	PolicyQualifier    = "OIDAsURN"
	PolicyDescription  = "Politique de Signature Electronique de Tunisie TradeNet"
	PolicyURL          = "https://www.tradenet.com.tn/Politique_Signature_Electronique_Tunisie_TradeNet.pdf"
	PolicyHashFallback = "m+58sM7PAVahMytFBzze1uLe8013XGecAFPSqqOEspU="
)

const (
	ClaimedRoleSupplier = "Fournisseur"
	DataObjectMimeType  = "application/octet-stream"

	// MaxDocumentSize tamaño máximo aceptado para una factura XML.
	MaxDocumentSize = 16 << 20
)
