package domain

import (
	"errors"
	"strings"
)

// Errores de dominio (sin dependencias externas).
// Los adaptadores envuelven estos sentinels con %w para que la capa HTTP y el
// procesador puedan clasificar el fallo sin conocer al adaptador concreto.
var (
	ErrValidation    = errors.New("entrada inválida")                   // documento o parámetros incorrectos
	ErrCrypto        = errors.New("error criptográfico")                // digest, C14N o decodificación de firma
	ErrRemoteService = errors.New("servicio remoto no disponible")      // non-2xx o respuesta ilegible
	ErrProtocolFault = errors.New("fallo SOAP del servicio TTN")        // HTTP 200 con soap:Fault
	ErrTimeout       = errors.New("tiempo de espera agotado")           // reintentos agotados
	ErrNotFound      = errors.New("recurso no encontrado")
	ErrUnauthorized  = errors.New("no autorizado")
	ErrShuttingDown  = errors.New("el servicio se está deteniendo")
)

// FaultError representa un SOAP Fault devuelto por el WS TTN.
// Message es el texto de <faultMessage> o <faultstring> tal cual lo envía el servidor.
type FaultError struct {
	Message string
}

func (e *FaultError) Error() string {
	return "soap fault: " + e.Message
}

// Is permite errors.Is(err, ErrProtocolFault).
func (e *FaultError) Is(target error) bool {
	return target == ErrProtocolFault
}

// Kind devuelve el nombre estable de la categoría del error, usado en respuestas HTTP y logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrCrypto):
		return "CRYPTO_ERROR"
	case errors.Is(err, ErrProtocolFault):
		return "PROTOCOL_FAULT"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrRemoteService):
		return "REMOTE_SERVICE_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL_ERROR"
	}
}

// PublicMessage devuelve un mensaje apto para el usuario: el texto del fault si existe,
// si no el mensaje del error sin saltos de línea.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault.Message
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}
