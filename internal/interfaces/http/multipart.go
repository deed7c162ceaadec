package http

import (
	"crypto/x509"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/jhoicas/elfatoura-api/internal/application/dto"
	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// CertificateParser lee una cadena de certificados (PEM, DER o PKCS#12) subida por el usuario.
type CertificateParser func(data []byte, password string) ([]*x509.Certificate, error)

// Campos multipart aceptados para los archivos del lote.
var invoiceFileFields = []string{"files[]", "files", "file"}

// readInvoiceFiles lee los XML del formulario conservando el orden de subida.
func readInvoiceFiles(form *multipart.Form) ([]entity.InvoiceFile, error) {
	var files []entity.InvoiceFile
	for _, field := range invoiceFileFields {
		for _, fh := range form.File[field] {
			content, err := readPart(fh)
			if err != nil {
				return nil, err
			}
			files = append(files, entity.InvoiceFile{Filename: filepath.Base(fh.Filename), Content: content})
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no se recibió ningún archivo XML", domain.ErrValidation)
	}
	return files, nil
}

// readCertificate devuelve la cadena del campo "certificate", o nil si no se envió.
func readCertificate(form *multipart.Form, parse CertificateParser) ([]*x509.Certificate, error) {
	parts := form.File["certificate"]
	if len(parts) == 0 {
		return nil, nil
	}
	if parse == nil {
		return nil, fmt.Errorf("%w: el servidor no acepta certificados en la petición", domain.ErrValidation)
	}
	data, err := readPart(parts[0])
	if err != nil {
		return nil, err
	}
	return parse(data, rawFormValue(form, "certificatePassword"))
}

// readCredentials arma las credenciales del lote a partir del formulario y del usuario del token.
func readCredentials(form *multipart.Form, username string, parse CertificateParser) (*entity.Credentials, error) {
	ttn := dto.TTNCredentialsRequest{
		Username:        formValue(form, "username"),
		Password:        rawFormValue(form, "password"),
		MatriculeFiscal: formValue(form, "matriculeFiscal"),
	}
	if err := ttn.Validate(); err != nil {
		return nil, err
	}
	signer, err := readSignerCredentials(form)
	if err != nil {
		return nil, err
	}
	chain, err := readCertificate(form, parse)
	if err != nil {
		return nil, err
	}
	return &entity.Credentials{
		Username:         username,
		TTN:              ttn.Credentials(),
		Signer:           signer,
		CertificateChain: chain,
	}, nil
}

func readSignerCredentials(form *multipart.Form) (entity.SignerCredentials, error) {
	creds := entity.SignerCredentials{
		Alias: formValue(form, "alias"),
		PIN:   rawFormValue(form, "pin"),
	}
	if creds.Alias == "" || creds.PIN == "" {
		return creds, fmt.Errorf("%w: alias y pin son obligatorios", domain.ErrValidation)
	}
	return creds, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// rawFormValue no recorta espacios: contraseñas y PIN se envían tal cual.
func rawFormValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: abrir %s: %v", domain.ErrValidation, fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: leer %s: %v", domain.ErrValidation, fh.Filename, err)
	}
	return data, nil
}
