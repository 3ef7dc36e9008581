// Package jobs corre tareas periódicas en background (ej: el procesador de
// bulk import). Cada job se registra una sola vez bajo un nombre fijo y corre
// en su propia goroutine; una ejecución nunca se solapa con la siguiente.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/metrics"
)

var (
	ErrDuplicateJob = errors.New("jobs: job already registered")
	ErrUnknownJob   = errors.New("jobs: unknown job")
	ErrStarted      = errors.New("jobs: scheduler already started")
	ErrInvalidJob   = errors.New("jobs: invalid job")
)

// Func es el cuerpo de un job. Un error se loguea y el job sigue en el
// siguiente tick.
type Func func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       Func
	mu       sync.Mutex // serializa Run y el loop
}

// Scheduler mantiene los jobs registrados.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Register agrega un job. Registrar dos veces el mismo nombre es error, y no
// se pueden agregar jobs después de Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn Func) error {
	if name == "" || interval <= 0 || fn == nil {
		return fmt.Errorf("%w: name=%q interval=%s", ErrInvalidJob, name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	return nil
}

// Names retorna los jobs registrados, ordenados.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start lanza una goroutine por job. Cada una corre en cada tick hasta que
// ctx se cancele o se llame Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	logger.From(ctx).Info("scheduler started", logger.Component("jobs"), logger.Count(len(s.jobs)))
	return nil
}

// Stop cancela los jobs y espera a que termine la ejecución en curso.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce ejecuta el job ahora, esperando a que termine una ejecución en curso.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.run(ctx, j); err != nil && ctx.Err() == nil {
				logger.From(ctx).Warn("job failed", logger.Component("jobs"), logger.String("job", j.name), logger.Err(err))
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	defer func() {
		result := "ok"
		if r := recover(); r != nil {
			result = "panic"
			err = fmt.Errorf("jobs: %s panicked: %v", j.name, r)
		} else if err != nil {
			result = "error"
		}
		metrics.RecordJobRun(j.name, result, time.Since(start))
	}()

	return j.fn(logger.ToContext(ctx, logger.From(ctx).With(logger.String("job", j.name))))
}
