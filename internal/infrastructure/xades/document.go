package xades

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

const utf8Declaration = `version="1.0" encoding="UTF-8"`

// charsetReader decodifica facturas declaradas en Latin-1/Windows-1252, frecuentes en
// los ERP locales. UTF-8 lo resuelve encoding/xml sin pasar por aquí.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("codificación no soportada: %s", label)
}

// ParseDocument lee la factura y la deja lista para firmar: sin DOCTYPE, con raíz y
// con declaración XML en UTF-8 (el contenido ya se decodificó a UTF-8).
func ParseDocument(data []byte) (*etree.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: documento XML vacío", domain.ErrValidation)
	}
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: XML mal formado: %v", domain.ErrValidation, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: documento sin elemento raíz", domain.ErrValidation)
	}
	var decl *etree.ProcInst
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Directive:
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(t.Data)), "DOCTYPE") {
				return nil, fmt.Errorf("%w: DOCTYPE no permitido en facturas", domain.ErrValidation)
			}
		case *etree.ProcInst:
			if t.Target == "xml" {
				decl = t
			}
		}
	}
	if decl == nil {
		doc.InsertChildAt(0, etree.NewProcInst("xml", utf8Declaration))
	} else if !strings.Contains(strings.ToUpper(decl.Inst), "UTF-8") {
		decl.Inst = utf8Declaration
	}
	return doc, nil
}

// findElement recorre el subárbol en profundidad y devuelve el primer elemento que cumple match.
func findElement(root *etree.Element, match func(*etree.Element) bool) *etree.Element {
	if root == nil {
		return nil
	}
	if match(root) {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findElement(child, match); found != nil {
			return found
		}
	}
	return nil
}

// byTag compara prefijo y nombre local ("ds:SignedInfo").
func byTag(space, tag string) func(*etree.Element) bool {
	return func(e *etree.Element) bool { return e.Space == space && e.Tag == tag }
}

// byTagAndAttr compara etiqueta y el valor de un atributo.
func byTagAndAttr(space, tag, attr, value string) func(*etree.Element) bool {
	return func(e *etree.Element) bool {
		return e.Space == space && e.Tag == tag && e.SelectAttrValue(attr, "") == value
	}
}

// stripSignatures elimina las ds:Signature previas, igual que hace la transformada
// XPath de la referencia al documento.
func stripSignatures(el *etree.Element) {
	for _, child := range el.ChildElements() {
		if child.Tag == "Signature" && child.NamespaceURI() == NamespaceDS {
			el.RemoveChild(child)
			continue
		}
		stripSignatures(child)
	}
}
