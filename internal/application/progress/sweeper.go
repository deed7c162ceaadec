package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper purga periódicamente las sesiones inactivas del tracker.
type Sweeper struct {
	tracker  *Tracker
	schedule string
	maxAge   time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper crea el barrido. schedule usa la sintaxis de robfig/cron (ej: "@every 5m").
func NewSweeper(tracker *Tracker, schedule string, maxAge time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		tracker:  tracker,
		schedule: schedule,
		maxAge:   maxAge,
		log:      log,
	}
}

// Start programa el barrido. Llamarlo dos veces no tiene efecto.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("progress: programación de barrido inválida %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.Info().Str("schedule", s.schedule).Dur("max_age", s.maxAge).Msg("barrido de sesiones iniciado")
	return nil
}

// Stop detiene el cron y espera a que termine un barrido en curso.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.log.Info().Msg("barrido de sesiones detenido")
}

func (s *Sweeper) sweep() {
	removed := s.tracker.Sweep(s.maxAge)
	s.log.Debug().Int("removed", removed).Msg("barrido de sesiones ejecutado")
}
