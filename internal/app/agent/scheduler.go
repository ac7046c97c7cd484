package agent

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"
)

// Prober проверяет доступность удаленного API
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Scheduler запускает отправку очередей по таймеру, при переходе
// offline -> online и по явному запросу. Запросы схлопываются, а проходы
// внутри процесса выполняются строго по одному.
type Scheduler struct {
	drain         func(ctx context.Context)
	prober        Prober
	interval      time.Duration
	probeInterval time.Duration
	probeTimeout  time.Duration
	trigger       chan struct{}
	online        atomic.Bool
	log           *slog.Logger
}

func NewScheduler(drain func(ctx context.Context), prober Prober, interval, probeInterval time.Duration, log *slog.Logger) *Scheduler {
	probeTimeout := probeInterval / 2
	if probeTimeout <= 0 || probeTimeout > 10*time.Second {
		probeTimeout = 10 * time.Second
	}
	return &Scheduler{
		drain:         drain,
		prober:        prober,
		interval:      interval,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		trigger:       make(chan struct{}, 1),
		log:           log.With("component", "scheduler"),
	}
}

// Trigger просит выполнить проход как можно скорее. Не блокируется.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Online последний известный результат проверки доступности.
func (s *Scheduler) Online() bool {
	return s.online.Load()
}

// Run работает до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	probe := time.NewTicker(s.probeInterval)
	defer probe.Stop()

	if s.probe(ctx) {
		s.runDrain(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-probe.C:
			if s.probe(ctx) {
				s.runDrain(ctx, "reconnect")
			}
		case <-ticker.C:
			s.runDrain(ctx, "interval")
		case <-s.trigger:
			s.runDrain(ctx, "trigger")
		}
	}
}

// Probe проверяет доступность удаленного API вне расписания и обновляет
// статус. Переход в online сам по себе проход не запускает.
func (s *Scheduler) Probe(ctx context.Context) error {
	_, err := s.check(ctx)
	return err
}

// probe обновляет статус и возвращает true при переходе offline -> online.
func (s *Scheduler) probe(ctx context.Context) bool {
	cameOnline, _ := s.check(ctx)
	return cameOnline
}

func (s *Scheduler) check(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	err := s.prober.HealthCheck(ctx)
	online := err == nil
	was := s.online.Swap(online)

	switch {
	case online && !was:
		s.log.Info("remote api is reachable")
		return true, nil
	case !online && was:
		s.log.Warn("remote api is unreachable", "error", err)
	}
	return false, err
}

func (s *Scheduler) runDrain(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if !s.online.Load() {
		s.log.Debug("drain skipped while offline", "reason", reason)
		return
	}
	s.log.Debug("drain started", "reason", reason)
	s.drain(ctx)
}
