package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type StateChecker interface {
	CheckAll(ctx context.Context)
}

type EventLogPurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	Checker           StateChecker
	EventLog          EventLogPurger
	StatePollInterval time.Duration
	EventLogRetention time.Duration
	Log               *zap.Logger
}

// Scheduler roda as tarefas periódicas: consulta de estado das instâncias
// e limpeza do histórico de eventos.
type Scheduler struct {
	s         gocron.Scheduler
	checker   StateChecker
	eventLog  EventLogPurger
	retention time.Duration
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	now       func() time.Time
}

func New(opts Options) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: criar: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{
		s:         s,
		checker:   opts.Checker,
		eventLog:  opts.EventLog,
		retention: opts.EventLogRetention,
		log:       opts.Log,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}

	if opts.Checker != nil && opts.StatePollInterval > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(opts.StatePollInterval),
			gocron.NewTask(func() { sch.checker.CheckAll(sch.ctx) }),
			gocron.WithName("state-poll"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: registrar state-poll: %w", err)
		}
	}

	if opts.EventLog != nil && opts.EventLogRetention > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(func() {
				if _, err := sch.PurgeEventLogs(sch.ctx); err != nil {
					sch.log.Warn("falha ao limpar histórico de eventos", zap.Error(err))
				}
			}),
			gocron.WithName("event-log-purge"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: registrar event-log-purge: %w", err)
		}
	}

	return sch, nil
}

func (s *Scheduler) Start() {
	s.s.Start()
	s.log.Info("scheduler iniciado", zap.Int("jobs", len(s.s.Jobs())))
}

func (s *Scheduler) Stop() error {
	s.cancel()
	return s.s.Shutdown()
}

// PurgeEventLogs apaga os registros mais antigos que a retenção configurada.
func (s *Scheduler) PurgeEventLogs(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.eventLog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("histórico de eventos limpo", zap.Int64("removed", n), zap.Time("before", cutoff))
	}
	return n, nil
}
