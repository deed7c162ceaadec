package http

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/jhoicas/elfatoura-api/internal/application/dto"
	"github.com/jhoicas/elfatoura-api/internal/application/progress"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

const (
	streamBuffer     = 32
	defaultHeartbeat = 15 * time.Second
)

var errStreamBehind = errors.New("stream: cliente lento, actualización descartada")

// ProgressSource lectura y suscripción al tracker de progreso.
type ProgressSource interface {
	Get(sessionID string) (*entity.ProcessingSession, error)
	List() []*entity.ProcessingSession
	Sweep(maxAge time.Duration) int
	AddListener(sessionID string, l progress.Listener) (func(), error)
}

// ProgressHandler consulta de sesiones y stream SSE de progreso.
type ProgressHandler struct {
	tracker   ProgressSource
	maxAge    time.Duration
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewProgressHandler construye el handler. maxAge es la antigüedad por defecto de /cleanup.
func NewProgressHandler(tracker ProgressSource, maxAge time.Duration, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{tracker: tracker, maxAge: maxAge, heartbeat: defaultHeartbeat, log: log}
}

// Get devuelve el estado actual de la sesión.
// GET /api/progress/:sessionId
func (h *ProgressHandler) Get(c *fiber.Ctx) error {
	session, err := h.tracker.Get(strings.TrimSpace(c.Params("sessionId")))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(session)
}

// List devuelve las sesiones conocidas por el tracker, de la más antigua a la más reciente.
// GET /api/progress/sessions
func (h *ProgressHandler) List(c *fiber.Ctx) error {
	sessions := h.tracker.List()
	return c.JSON(dto.SessionListResponse{Count: len(sessions), Sessions: sessions})
}

// Cleanup elimina sesiones sin actividad. Query opcional: maxAgeMinutes.
// POST /api/progress/cleanup
func (h *ProgressHandler) Cleanup(c *fiber.Ctx) error {
	minutes := c.QueryInt("maxAgeMinutes", int(h.maxAge/time.Minute))
	if minutes <= 0 {
		return badRequest(c, "maxAgeMinutes debe ser mayor que cero")
	}
	removed := h.tracker.Sweep(time.Duration(minutes) * time.Minute)
	return c.JSON(dto.CleanupResponse{Removed: removed, MaxAgeMinutes: minutes})
}

// Stream envía el progreso como Server-Sent Events hasta que la sesión termina.
// GET /api/progress/:sessionId/stream
func (h *ProgressHandler) Stream(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionId"))
	updates := make(chan *entity.ProcessingSession, streamBuffer)
	unsubscribe, err := h.tracker.AddListener(sessionID, progress.ListenerFunc(func(s *entity.ProcessingSession) error {
		select {
		case updates <- s:
			return nil
		default:
			return errStreamBehind
		}
	}))
	if err != nil {
		return writeError(c, h.log, err)
	}
	// La suscripción va primero para no perder cambios entre la lectura y el alta.
	initial, err := h.tracker.Get(sessionID)
	if err != nil {
		unsubscribe()
		return writeError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log := h.log.With().Str("session_id", sessionID).Logger()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		if err := h.stream(w, sessionID, initial, updates); err != nil {
			log.Debug().Err(err).Msg("stream de progreso cerrado por el cliente")
		}
	}))
	return nil
}

func (h *ProgressHandler) stream(w *bufio.Writer, sessionID string, last *entity.ProcessingSession, updates <-chan *entity.ProcessingSession) error {
	if err := writeEvent(w, "progress", last); err != nil {
		return err
	}
	if last.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case s := <-updates:
			if s.LastUpdated.Before(last.LastUpdated) {
				continue
			}
			last = s
		case <-ticker.C:
			current, err := h.tracker.Get(sessionID)
			if err != nil {
				return writeEvent(w, "error", dto.ErrorResponse{Code: "NOT_FOUND", Message: "sesión eliminada"})
			}
			if !current.Status.Terminal() {
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return err
				}
				if err := w.Flush(); err != nil {
					return err
				}
				continue
			}
			last = current
		}
		if err := writeEvent(w, "progress", last); err != nil {
			return err
		}
		if last.Status.Terminal() {
			return nil
		}
	}
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
