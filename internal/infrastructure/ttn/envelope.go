package ttn

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
	"github.com/jhoicas/elfatoura-api/pkg/elfatoura"
)

// ── Constantes del WS El Fatoura ──────────────────────────────────────────────

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS = "http://services.elfatoura.tradenet.com.tn/"

	opSave    = "saveEfact"
	opConsult = "consultEfact"
)

// criteriaKey nombre de elemento aceptado como criterio de consulta.
var criteriaKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

var (
	faultMessagePattern = regexp.MustCompile(`<faultMessage>([^<]+)</faultMessage>`)
	faultStringPattern  = regexp.MustCompile(`<faultstring>([^<]+)</faultstring>`)
)

// ── Construcción de envelopes ─────────────────────────────────────────────────

// newEnvelope crea Envelope/Header/Body con el prefijo indicado y devuelve la operación ser:<op>
// con sus tres primeros argumentos posicionales.
func newEnvelope(prefix, op string, creds entity.TTNCredentials) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement(prefix + ":Envelope")
	env.CreateAttr("xmlns:"+prefix, soapNS)
	env.CreateAttr("xmlns:ser", serviceNS)
	env.CreateElement(prefix + ":Header")
	body := env.CreateElement(prefix + ":Body")
	call := body.CreateElement("ser:" + op)
	call.CreateElement("arg0").SetText(creds.Username)
	call.CreateElement("arg1").SetText(creds.Password)
	call.CreateElement("arg2").SetText(creds.MatriculeFiscal)
	return doc, call
}

// buildSaveEnvelope saveEfact(login, password, matricule, documentEfact en Base64).
func buildSaveEnvelope(creds entity.TTNCredentials, base64Doc string) ([]byte, error) {
	doc, call := newEnvelope("soap", opSave, creds)
	call.CreateElement("arg3").SetText(base64Doc)
	return doc.WriteToBytes()
}

// buildConsultEnvelope consultEfact(login, password, matricule, criterios). Los criterios
// van como elementos hermanos dentro de arg3.
func buildConsultEnvelope(creds entity.TTNCredentials, criteria any) ([]byte, error) {
	doc, call := newEnvelope("soapenv", opConsult, creds)
	arg3 := call.CreateElement("arg3")
	if err := appendCriteria(arg3, criteria); err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

func appendCriteria(parent *etree.Element, criteria any) error {
	switch c := criteria.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(c) != "" {
			parent.CreateElement("idSaveEfact").SetText(strings.TrimSpace(c))
		}
		return nil
	case map[string]string:
		values := make(map[string]any, len(c))
		for k, v := range c {
			values[k] = v
		}
		return appendCriteriaMap(parent, values)
	case map[string]any:
		return appendCriteriaMap(parent, c)
	default:
		return fmt.Errorf("%w: criterio de consulta de tipo %T no soportado", domain.ErrValidation, criteria)
	}
}

func appendCriteriaMap(parent *etree.Element, criteria map[string]any) error {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !criteriaKey.MatchString(k) {
			return fmt.Errorf("%w: criterio %q no es un nombre XML válido", domain.ErrValidation, k)
		}
		v := criteria[k]
		if v == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(v))
		if text == "" {
			continue
		}
		parent.CreateElement(k).SetText(text)
	}
	return nil
}

// ── Lectura de respuestas ─────────────────────────────────────────────────────

// parseEnvelope lee la respuesta y devuelve el Body. Un Fault se devuelve como *domain.FaultError.
func parseEnvelope(raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: respuesta SOAP ilegible: %v", domain.ErrRemoteService, err)
	}
	body := findLocal(doc.Root(), "Body")
	if body == nil {
		return nil, fmt.Errorf("%w: respuesta SOAP sin Body", domain.ErrRemoteService)
	}
	if fault := findLocal(body, "Fault"); fault != nil {
		return nil, &domain.FaultError{Message: faultText(fault)}
	}
	return body, nil
}

// faultText devuelve el texto de faultMessage (detalle TTN) o de faultstring.
func faultText(fault *etree.Element) string {
	for _, name := range []string{"faultMessage", "faultstring"} {
		if el := findLocal(fault, name); el != nil {
			if t := strings.TrimSpace(el.Text()); t != "" {
				return t
			}
		}
	}
	return "SOAP Fault"
}

// faultFromReference extrae el mensaje de un fault incrustado como texto en la referencia.
func faultFromReference(ref string) *domain.FaultError {
	for _, p := range []*regexp.Regexp{faultMessagePattern, faultStringPattern} {
		if m := p.FindStringSubmatch(ref); len(m) == 2 {
			return &domain.FaultError{Message: strings.TrimSpace(m[1])}
		}
	}
	return &domain.FaultError{Message: strings.TrimSpace(ref)}
}

// parseSaveResponse devuelve el texto del primer <return>.
func parseSaveResponse(raw []byte) (string, error) {
	body, err := parseEnvelope(raw)
	if err != nil {
		return "", err
	}
	ret := findLocal(body, "return")
	if ret == nil {
		return "", fmt.Errorf("%w: saveEfact sin <return>", domain.ErrRemoteService)
	}
	ref := strings.TrimSpace(ret.Text())
	if elfatoura.IsFaultReference(ref) {
		return "", faultFromReference(ref)
	}
	if ref == "" {
		return "", fmt.Errorf("%w: saveEfact devolvió una referencia vacía", domain.ErrRemoteService)
	}
	return ref, nil
}

// parseConsultResponse convierte cada <return> en una factura consultada.
func parseConsultResponse(raw []byte) (*entity.ConsultResult, error) {
	body, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	result := &entity.ConsultResult{Success: true, Invoices: []entity.ConsultedInvoice{}, RawResponse: string(raw)}
	for _, ret := range findAllLocal(body, "return") {
		result.Invoices = append(result.Invoices, parseInvoice(ret))
	}
	result.Count = len(result.Invoices)
	return result, nil
}

func parseInvoice(ret *etree.Element) entity.ConsultedInvoice {
	inv := entity.ConsultedInvoice{
		DocumentNumber: childText(ret, "documentNumber"),
		DocumentType:   childText(ret, "documentType"),
		DateDocument:   childText(ret, "dateDocument"),
		DateProcess:    childText(ret, "dateProcess"),
		Amount:         parseAmount(childText(ret, "amount")),
		AmountTax:      parseAmount(childText(ret, "amountTax")),
		GeneratedRef:   childText(ret, "generatedRef"),
		IDSaveEfact:    childText(ret, "idSaveEfact"),
		XMLContent:     childText(ret, "xmlContent"),
	}
	// TTN escribe "listAcknowlegments"; se acepta también la forma correcta.
	for _, child := range ret.ChildElements() {
		if child.Tag != "listAcknowlegments" && child.Tag != "listAcknowledgments" {
			continue
		}
		ack := entity.Acknowledgment{DateAck: childText(child, "dateAck")}
		for _, e := range child.ChildElements() {
			if e.Tag != "errors" {
				continue
			}
			ack.Errors = append(ack.Errors, entity.AckError{
				ID:          childText(e, "errorId"),
				Description: childText(e, "errorDescription"),
			})
		}
		inv.Acknowledgments = append(inv.Acknowledgments, ack)
	}
	return inv
}

func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ── Búsqueda por nombre local (equivalente a //*[local-name()='x']) ───────────

func findLocal(root *etree.Element, local string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == local {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findLocal(child, local); found != nil {
			return found
		}
	}
	return nil
}

func findAllLocal(root *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			if child.Tag == local {
				out = append(out, child)
				continue // un <return> no anida otro <return>
			}
			walk(child)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

func childText(parent *etree.Element, local string) string {
	for _, child := range parent.ChildElements() {
		if child.Tag == local {
			return strings.TrimSpace(child.Text())
		}
	}
	return ""
}
