// Package progress mantiene en memoria el estado observable de cada lote: sesión,
// sub-estado por archivo y notificación a los suscriptores (SSE, logs).
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
	"github.com/jhoicas/elfatoura-api/internal/domain/entity"
)

// DefaultQueueSize capacidad de la cola de cada suscriptor.
const DefaultQueueSize = 64

// Listener recibe una copia de la sesión tras cada cambio. Sus errores se registran y se ignoran.
type Listener interface {
	OnUpdate(session *entity.ProcessingSession) error
}

// ListenerFunc adapta una función a Listener.
type ListenerFunc func(session *entity.ProcessingSession) error

// OnUpdate implementa Listener.
func (f ListenerFunc) OnUpdate(session *entity.ProcessingSession) error { return f(session) }

// Tracker mapa concurrente sessionID → sesión. Cada sesión tiene su propio lock.
type Tracker struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionState
	queueSize int
	log       zerolog.Logger
	now       func() time.Time
}

type sessionState struct {
	mu        sync.Mutex
	session   *entity.ProcessingSession
	index     map[string]int // filename → posición en session.Files
	listeners map[int]*listenerQueue
	nextID    int
}

// listenerQueue cola ordenada de un suscriptor, drenada por su propia goroutine.
type listenerQueue struct {
	ch     chan *entity.ProcessingSession
	closed bool
}

// NewTracker crea el tracker. queueSize <= 0 usa DefaultQueueSize.
func NewTracker(queueSize int, log zerolog.Logger) *Tracker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Tracker{
		sessions:  make(map[string]*sessionState),
		queueSize: queueSize,
		log:       log,
		now:       time.Now,
	}
}

// CreateSession registra la sesión con sus archivos en PENDING.
func (t *Tracker) CreateSession(sessionID string, files []entity.FileInfo) (*entity.ProcessingSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId vacío", domain.ErrValidation)
	}
	now := t.now()
	s := &sessionState{
		session: &entity.ProcessingSession{
			SessionID:    sessionID,
			Status:       entity.SessionInitializing,
			CurrentStage: entity.StageSign,
			Files:        make([]entity.FileProgress, 0, len(files)),
			Message:      "Session initialisée",
			CreatedAt:    now,
			LastUpdated:  now,
		},
		index:     make(map[string]int, len(files)),
		listeners: make(map[int]*listenerQueue),
	}
	for _, f := range files {
		if _, dup := s.index[f.Filename]; dup {
			return nil, fmt.Errorf("%w: archivo duplicado en la sesión: %s", domain.ErrValidation, f.Filename)
		}
		s.index[f.Filename] = len(s.session.Files)
		s.session.Files = append(s.session.Files, entity.FileProgress{
			Filename: f.Filename,
			FileSize: f.Size,
			Status:   entity.FilePending,
			Stage:    entity.StageSign,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[sessionID]; exists {
		return nil, fmt.Errorf("%w: la sesión %s ya existe", domain.ErrValidation, sessionID)
	}
	t.sessions[sessionID] = s
	t.log.Debug().Str("session_id", sessionID).Int("files", len(files)).Msg("sesión creada")
	return s.session.Clone(), nil
}

// UpdateSession cambia estado, etapa y mensaje de la sesión. percent < 0 no toca el porcentaje.
func (t *Tracker) UpdateSession(sessionID string, status entity.SessionStatus, stage entity.Stage, percent int, message string) error {
	return t.mutate(sessionID, func(s *sessionState) bool {
		sess := s.session
		if status.Terminal() {
			// el cierre pasa por CompleteSession
			status = entity.SessionProcessing
		}
		sess.Status = status
		sess.CurrentStage = stage
		if percent >= 0 {
			if p := clamp(percent); p > sess.OverallProgress {
				sess.OverallProgress = p
			}
		}
		if message != "" {
			sess.Message = message
		}
		return true
	})
}

// UpdateFile actualiza el sub-estado de un archivo y recalcula el progreso global
// como la media de los archivos.
func (t *Tracker) UpdateFile(sessionID, filename string, status entity.FileStatus, stage entity.Stage, percent int, message string) error {
	return t.mutateFile(sessionID, filename, func(s *sessionState, f *entity.FileProgress) bool {
		p := clamp(percent)
		if status.Terminal() {
			p = 100
		}
		if p > f.Progress {
			f.Progress = p
		}
		f.Status = status
		f.Stage = stage
		if message != "" {
			f.Message = message
		}
		if status == entity.FileFailed && message != "" {
			f.ErrorMessage = message
		}

		sess := s.session
		if sess.Status == entity.SessionInitializing {
			sess.Status = entity.SessionProcessing
		}
		sess.CurrentStage = stage
		sess.OverallProgress = meanProgress(sess.Files)
		return true
	})
}

// SetRegistrationID guarda el ID asignado por TTN al archivo.
func (t *Tracker) SetRegistrationID(sessionID, filename, registrationID string) error {
	return t.mutateFile(sessionID, filename, func(_ *sessionState, f *entity.FileProgress) bool {
		f.TTNInvoiceID = registrationID
		return true
	})
}

// SetFileError anota un error consultivo (validación, HTML) sin cambiar el estado del archivo.
func (t *Tracker) SetFileError(sessionID, filename, message string) error {
	return t.mutateFile(sessionID, filename, func(_ *sessionState, f *entity.FileProgress) bool {
		f.ErrorMessage = message
		return true
	})
}

// SetPackageURL registra la URL del paquete generado. Se llama antes de CompleteSession.
func (t *Tracker) SetPackageURL(sessionID, url string) error {
	return t.mutate(sessionID, func(s *sessionState) bool {
		s.session.ZipDownloadURL = url
		return true
	})
}

// CompleteSession cierra la sesión. A partir de aquí la sesión es inmutable.
func (t *Tracker) CompleteSession(sessionID string, success bool, message string) error {
	return t.mutate(sessionID, func(s *sessionState) bool {
		sess := s.session
		sess.Success = success
		sess.Message = message
		sess.OverallProgress = 100
		sess.CurrentStage = entity.StagePackage
		if success {
			sess.Status = entity.SessionCompleted
		} else {
			sess.Status = entity.SessionFailed
			sess.ErrorMessage = message
		}
		return true
	})
}

// Get devuelve una copia de la sesión.
func (t *Tracker) Get(sessionID string) (*entity.ProcessingSession, error) {
	s, err := t.state(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone(), nil
}

// List devuelve copias de todas las sesiones, de la más antigua a la más reciente.
func (t *Tracker) List() []*entity.ProcessingSession {
	t.mu.RLock()
	states := make([]*sessionState, 0, len(t.sessions))
	for _, s := range t.sessions {
		states = append(states, s)
	}
	t.mu.RUnlock()

	out := make([]*entity.ProcessingSession, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, s.session.Clone())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove elimina la sesión y cierra las colas de sus suscriptores.
func (t *Tracker) Remove(sessionID string) bool {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	for id, q := range s.listeners {
		q.close()
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	return true
}

// Sweep elimina las sesiones sin actualizaciones desde hace más de maxAge y devuelve cuántas.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	var stale []string

	t.mu.RLock()
	for id, s := range t.sessions {
		s.mu.Lock()
		if s.session.LastUpdated.Before(cutoff) {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	t.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if t.Remove(id) {
			removed++
		}
	}
	if removed > 0 {
		t.log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("sesiones antiguas eliminadas")
	}
	return removed
}

// AddListener suscribe l a los cambios de la sesión. La función devuelta cancela la suscripción.
func (t *Tracker) AddListener(sessionID string, l Listener) (func(), error) {
	s, err := t.state(sessionID)
	if err != nil {
		return nil, err
	}
	q := &listenerQueue{ch: make(chan *entity.ProcessingSession, t.queueSize)}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = q
	s.mu.Unlock()

	go t.drain(sessionID, q, l)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.listeners[id]; ok {
			cur.close()
			delete(s.listeners, id)
		}
	}, nil
}

// ── internos ──────────────────────────────────────────────────────────────────

func (t *Tracker) state(sessionID string) (*sessionState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: sesión %s", domain.ErrNotFound, sessionID)
	}
	return s, nil
}

// mutate aplica fn bajo el lock de la sesión. Las sesiones terminales no cambian.
func (t *Tracker) mutate(sessionID string, fn func(s *sessionState) bool) error {
	s, err := t.state(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status.Terminal() {
		t.log.Debug().Str("session_id", sessionID).Msg("sesión terminal, actualización ignorada")
		return nil
	}
	if fn(s) {
		s.session.LastUpdated = t.now()
		t.notify(s)
	}
	return nil
}

func (t *Tracker) mutateFile(sessionID, filename string, fn func(s *sessionState, f *entity.FileProgress) bool) error {
	var missing bool
	err := t.mutate(sessionID, func(s *sessionState) bool {
		i, ok := s.index[filename]
		if !ok {
			missing = true
			return false
		}
		f := &s.session.Files[i]
		if f.Status.Terminal() {
			return false
		}
		return fn(s, f)
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("%w: archivo %s en la sesión %s", domain.ErrNotFound, filename, sessionID)
	}
	return nil
}

// notify encola una copia distinta para cada suscriptor sin bloquear. Se llama con s.mu tomado.
func (t *Tracker) notify(s *sessionState) {
	if len(s.listeners) == 0 {
		return
	}
	for _, q := range s.listeners {
		select {
		case q.ch <- s.session.Clone():
		default:
			t.log.Warn().Str("session_id", s.session.SessionID).Msg("cola del suscriptor llena, actualización descartada")
		}
	}
}

func (t *Tracker) drain(sessionID string, q *listenerQueue, l Listener) {
	for snapshot := range q.ch {
		t.deliver(sessionID, l, snapshot)
	}
}

func (t *Tracker) deliver(sessionID string, l Listener, snapshot *entity.ProcessingSession) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Str("session_id", sessionID).Interface("panic", r).Msg("panic en suscriptor de progreso")
		}
	}()
	if err := l.OnUpdate(snapshot); err != nil {
		t.log.Warn().Err(err).Str("session_id", sessionID).Msg("suscriptor de progreso devolvió error")
	}
}

func (q *listenerQueue) close() {
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func meanProgress(files []entity.FileProgress) int {
	if len(files) == 0 {
		return 0
	}
	sum := 0
	for _, f := range files {
		sum += f.Progress
	}
	return sum / len(files)
}
