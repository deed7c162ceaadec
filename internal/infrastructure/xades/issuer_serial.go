package xades

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// directoryName es el CHOICE [4] de GeneralName (RFC 5280). Name es un CHOICE,
// por lo que el tag es explícito y construido.
var tagDirectoryName = cbasn1.Tag(4).ContextSpecific().Constructed()

// EncodeIssuerSerial construye IssuerSerialV2 (RFC 5035) en Base64:
//
//	IssuerSerial ::= SEQUENCE {
//	    issuer       GeneralNames,         -- [4] directoryName(issuer del certificado)
//	    serialNumber CertificateSerialNumber }
func EncodeIssuerSerial(cert *x509.Certificate) (string, error) {
	if cert == nil || len(cert.RawIssuer) == 0 || cert.SerialNumber == nil {
		return "", fmt.Errorf("%w: certificado sin emisor o serial", domain.ErrCrypto)
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(tagDirectoryName, func(b *cryptobyte.Builder) {
				b.AddBytes(cert.RawIssuer)
			})
		})
		b.AddASN1BigInt(cert.SerialNumber)
	})
	der, err := b.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: codificar IssuerSerialV2: %v", domain.ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// IssuerSerial contenido decodificado de IssuerSerialV2.
type IssuerSerial struct {
	RawIssuer []byte // Name DER dentro de directoryName
	Serial    *big.Int
}

// DecodeIssuerSerial valida la forma exacta SEQUENCE{GeneralNames, INTEGER} y devuelve sus partes.
func DecodeIssuerSerial(b64 string) (*IssuerSerial, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: IssuerSerialV2 no es Base64: %v", domain.ErrCrypto, err)
	}
	input := cryptobyte.String(der)
	var seq, names, dirName cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: IssuerSerialV2 no es una SEQUENCE", domain.ErrCrypto)
	}
	if !seq.ReadASN1(&names, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: IssuerSerialV2 sin GeneralNames", domain.ErrCrypto)
	}
	if !names.ReadASN1(&dirName, tagDirectoryName) || !names.Empty() {
		return nil, fmt.Errorf("%w: GeneralNames debe contener un único directoryName", domain.ErrCrypto)
	}
	serial := new(big.Int)
	if !seq.ReadASN1Integer(serial) {
		return nil, fmt.Errorf("%w: IssuerSerialV2 sin serial INTEGER", domain.ErrCrypto)
	}
	if !seq.Empty() {
		return nil, fmt.Errorf("%w: IssuerSerialV2 con elementos de más", domain.ErrCrypto)
	}
	return &IssuerSerial{RawIssuer: bytes.Clone(dirName), Serial: serial}, nil
}
