package xades

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// ──────────────────────────────────────────────────────────────────────────────
// PKI de prueba: CA autofirmada + certificado de firmante
// ──────────────────────────────────────────────────────────────────────────────

type testPKI struct {
	caKey    *rsa.PrivateKey
	caCert   *x509.Certificate
	leafKey  *rsa.PrivateKey
	leafCert *x509.Certificate
}

var (
	pkiOnce sync.Once
	pki     testPKI
	pkiErr  error
)

func newTestPKI(t *testing.T) testPKI {
	t.Helper()
	pkiOnce.Do(func() {
		pki, pkiErr = generatePKI()
	})
	require.NoError(t, pkiErr, "debe generarse la PKI de prueba")
	return pki
}

func generatePKI() (testPKI, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return testPKI{}, err
	}
	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1001),
		Subject:               pkix.Name{CommonName: "TnTrust Test CA", Organization: []string{"ANCE"}, Country: []string{"TN"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caKey.PublicKey, caKey)
	if err != nil {
		return testPKI{}, err
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return testPKI{}, err
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return testPKI{}, err
	}
	serial, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	leafTpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "Societe Test SARL", Country: []string{"TN"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTpl, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return testPKI{}, err
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return testPKI{}, err
	}
	return testPKI{caKey: caKey, caCert: caCert, leafKey: leafKey, leafCert: leafCert}, nil
}

func (p testPKI) chain() []*x509.Certificate {
	return []*x509.Certificate{p.leafCert, p.caCert}
}

func entityCreds() entity.SignerCredentials {
	return entity.SignerCredentials{Alias: "demo", PIN: "1234"}
}

func pemCert(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
}

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<TEIF controlingAgency="TTN" version="1.8.8">
  <InvoiceHeader>
    <MessageSenderIdentifier type="I-01">0736202XAM000</MessageSenderIdentifier>
    <MessageRecieverIdentifier type="I-01">0914089JAM000</MessageRecieverIdentifier>
  </InvoiceHeader>
  <InvoiceBody>
    <Bgm><DocumentIdentifier>FAC-2024-0001</DocumentIdentifier></Bgm>
    <InvoiceMoa><AmountDetails><Moa amountTypeCode="I-180" currencyCodeList="ISO_4217"><Amount currencyIdentifier="TND">1190.000</Amount></Moa></AmountDetails></InvoiceMoa>
    <Note>Société &amp; fils "test"</Note>
  </InvoiceBody>
</TEIF>`
