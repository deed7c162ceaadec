package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/pkg/jwt"
)

// Operator es el operador autenticado de la petición. Los tokens los emite el
// servicio de cuentas; esta API solo los verifica.
type Operator struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// AuditName nombre con el que el operador queda en el log de operaciones.
func (o Operator) AuditName() string {
	if o.Username != "" {
		return o.Username
	}
	return o.UserID
}

const operatorLocal = "elfatoura.operator"

// RequireOperator rechaza con 401 UNAUTHORIZED toda petición sin un Bearer JWT válido.
func RequireOperator(secret string, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := authenticate(secret, c.Get(fiber.HeaderAuthorization))
		if err != nil {
			c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="elfatoura"`)
			return writeError(c, log, err)
		}
		c.Locals(operatorLocal, op)
		return c.Next()
	}
}

func authenticate(secret, header string) (Operator, error) {
	if header == "" {
		return Operator{}, fmt.Errorf("%w: falta la cabecera Authorization", domain.ErrUnauthorized)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return Operator{}, fmt.Errorf("%w: se espera Authorization: Bearer <token>", domain.ErrUnauthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Operator{}, fmt.Errorf("%w: token vacío", domain.ErrUnauthorized)
	}
	claims, err := jwt.Parse(secret, token)
	if err != nil {
		// el detalle de jwt no llega al cliente
		return Operator{}, fmt.Errorf("%w: token inválido o expirado", domain.ErrUnauthorized)
	}
	op := Operator{UserID: claims.UserID, Username: claims.Username}
	if claims.ExpiresAt != nil {
		op.ExpiresAt = claims.ExpiresAt.Time
	}
	return op, nil
}

// CurrentOperator devuelve el operador cargado por RequireOperator.
func CurrentOperator(c *fiber.Ctx) (Operator, bool) {
	op, ok := c.Locals(operatorLocal).(Operator)
	return op, ok
}

func auditName(c *fiber.Ctx) string {
	op, _ := CurrentOperator(c)
	return op.AuditName()
}
