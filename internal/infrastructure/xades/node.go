package xades

import "github.com/beevik/etree"

// node especificación inmutable de un elemento XML. Los métodos devuelven copias.
type node struct {
	name     string   // con prefijo, ej: "ds:Reference"
	attrs    []string // pares clave/valor en orden de emisión
	value    string
	children []node
}

// el crea un nodo; attrs se interpreta como pares clave, valor.
func el(name string, attrs ...string) node {
	if len(attrs)%2 != 0 {
		panic("xades: atributos impares para " + name)
	}
	return node{name: name, attrs: attrs}
}

func (n node) add(children ...node) node {
	out := n
	out.children = append(append([]node(nil), n.children...), children...)
	return out
}

func (n node) text(v string) node {
	out := n
	out.value = v
	return out
}

// render materializa la especificación como elemento etree.
func (n node) render() *etree.Element {
	e := etree.NewElement(n.name)
	for i := 0; i < len(n.attrs); i += 2 {
		e.CreateAttr(n.attrs[i], n.attrs[i+1])
	}
	if n.value != "" {
		e.SetText(n.value)
	}
	for _, c := range n.children {
		e.AddChild(c.render())
	}
	return e
}
