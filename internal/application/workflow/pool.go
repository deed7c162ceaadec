package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

// Pool número fijo de workers compartido por todos los lotes: limita cuántos
// archivos se procesan a la vez en todo el servicio.
type Pool struct {
	size int
	jobs chan func()
	log  zerolog.Logger

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// NewPool crea el pool sin arrancarlo.
func NewPool(size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, log: log}
}

// Start lanza los workers. Llamarlo con el pool en marcha no tiene efecto.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.jobs = make(chan func(), p.size)
	p.running = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.size).Msg("pool de workers iniciado")
}

// Running indica si el pool acepta trabajos.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Submit encola job. Bloquea mientras la cola esté llena; devuelve error si el
// pool está detenido o ctx termina antes de encolar.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("%w: pool detenido", domain.ErrShuttingDown)
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop deja de aceptar trabajos, ejecuta los ya encolados y espera a los workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("pool de workers detenido")
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(n, job)
	}
}

func (p *Pool) run(n int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", n).Interface("panic", r).Msg("panic en worker")
		}
	}()
	job()
}
