package xades

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Determinista(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleInvoice))
	require.NoError(t, err)

	first, err := CanonicalizeElement(doc.Root())
	require.NoError(t, err)
	second, err := CanonicalizeElement(doc.Root())
	require.NoError(t, err)

	assert.Equal(t, first, second, "canonicalizar dos veces el mismo subárbol debe dar los mismos bytes")
	assert.NotContains(t, string(first), "<?xml", "la forma canónica no lleva declaración XML")
}

func TestCanonicalize_OrdenaAtributosYExpandeVacios(t *testing.T) {
	out, err := Canonicalize([]byte(`<a z="2" b="1"/>`))
	require.NoError(t, err)
	assert.Equal(t, `<a b="1" z="2"></a>`, string(out))
}

func TestCanonicalizeElement_HeredaNamespacesDelContexto(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<r xmlns:p="urn:p"><p:c>x</p:c></r>`))
	child := doc.Root().ChildElements()[0]

	out, err := CanonicalizeElement(child)
	require.NoError(t, err)
	assert.Contains(t, string(out), `xmlns:p="urn:p"`, "el prefijo usado debe declararse aunque venga del padre")

	// El elemento original no se modifica.
	assert.Empty(t, child.Attr)
}

func TestCanonicalize_XMLMalFormado(t *testing.T) {
	_, err := Canonicalize([]byte(`<a><b></a>`))
	assert.Error(t, err)
}

func TestDigestAlgorithm(t *testing.T) {
	assert.Equal(t, AlgSHA256, DigestSHA256.URI())
	assert.Equal(t, AlgSHA512, DigestSHA512.URI())
	assert.Len(t, DigestSHA256.Sum([]byte("x")), 32)
	assert.Len(t, DigestSHA512.Sum([]byte("x")), 64)
	// SHA-256("abc")
	assert.Equal(t, "ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=", Digest(DigestSHA256, []byte("abc")))
}

func TestCanonicalize_NamespacePorDefectoNoSeHereda(t *testing.T) {
	out, err := Canonicalize([]byte(`<ds:a xmlns:ds="urn:x" xmlns="urn:d"><ds:b Algorithm="z"/></ds:a>`))
	require.NoError(t, err)
	assert.Equal(t, `<ds:a xmlns:ds="urn:x"><ds:b Algorithm="z"></ds:b></ds:a>`, string(out),
		"un atributo sin prefijo no usa el namespace por defecto")
}

func TestCanonicalize_AtributosSinPrefijoPrimero(t *testing.T) {
	in := `<TEIF xmlns="urn:teif" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="urn:teif teif.xsd" version="1.8.8"/>`
	out, err := Canonicalize([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, `<TEIF xmlns="urn:teif" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" version="1.8.8" xsi:schemaLocation="urn:teif teif.xsd"></TEIF>`, string(out))
}

func TestCanonicalizeElement_PrefijadoBajoNamespacePorDefecto(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(
		`<TEIF xmlns="urn:teif"><ds:Signature xmlns:ds="urn:ds"><ds:SignedInfo><ds:Method Algorithm="a"/><Extra/></ds:SignedInfo></ds:Signature></TEIF>`))
	si := findElement(doc.Root(), byTag("ds", "SignedInfo"))
	require.NotNil(t, si)

	out, err := CanonicalizeElement(si)
	require.NoError(t, err)
	assert.Equal(t,
		`<ds:SignedInfo xmlns:ds="urn:ds"><ds:Method Algorithm="a"></ds:Method><Extra xmlns="urn:teif"></Extra></ds:SignedInfo>`,
		string(out), "el namespace por defecto solo se declara en el elemento sin prefijo que lo usa")
}
