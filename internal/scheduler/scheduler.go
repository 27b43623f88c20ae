package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Default configuration values.
const (
	defaultBatchSize    = 100
	defaultTickInterval = time.Second
)

// Store — доступ к расписаниям.
type Store interface {
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *domain.Schedule) error
}

// Trigger запускает сохранённый шаблон по расписанию.
// Возвращает id run, если он известен сразу (uuid.Nil, если запрос ушёл в очередь).
type Trigger interface {
	Fire(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error)
}

// TriggerFunc — функция как Trigger.
type TriggerFunc func(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error)

// Fire реализует Trigger.
func (f TriggerFunc) Fire(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error) {
	return f(ctx, sched)
}

// DeployRequestPublisher — публикация запросов в deploy.requests.
type DeployRequestPublisher interface {
	PublishDeployRequested(ctx context.Context, payload mq.DeployRequestedPayload) error
}

// PublishTrigger отправляет запрос на развёртывание в RabbitMQ.
// Run создаёт сервер, который читает очередь.
func PublishTrigger(publisher DeployRequestPublisher) Trigger {
	return TriggerFunc(func(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error) {
		err := publisher.PublishDeployRequested(ctx, mq.DeployRequestedPayload{
			ScheduleID:   sched.ID,
			TemplateName: sched.TemplateName,
			RequestedBy:  "schedule:" + sched.Name,
		})
		return uuid.Nil, err
	})
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	store     Store
	trigger   Trigger
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Store        Store
	Trigger      Trigger
	Logger       *slog.Logger
	BatchSize    int           // количество schedules за один тик (default: 100)
	TickInterval time.Duration // период Run (default: 1s)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:     cfg.Store,
		trigger:   cfg.Trigger,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
	}
}

// Run вызывает Tick с периодом TickInterval, пока не отменён ctx.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого вызывает Trigger
// 3. Записывает запуск и следующий next_due_at
//
// Пропущенное срабатывание не повторяется: next_due_at сдвигается
// и при ошибке Trigger. Ошибки одного schedule не блокируют остальные.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.store.ListDueSchedules(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var fired int
	for i := range schedules {
		sched := &schedules[i]

		ok, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}
		if ok {
			fired++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"fired", fired,
	)
	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если Trigger отработал без ошибки.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Некорректный schedule срабатывал бы каждый тик.
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		sched.Enabled = false
		sched.UpdatedAt = now
		telemetry.SchedulesFiredTotal.WithLabelValues("invalid").Inc()
		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			return false, fmt.Errorf("disable schedule: %w", err)
		}
		return false, nil
	}

	runID, fireErr := s.trigger.Fire(ctx, sched)
	if fireErr != nil {
		s.logger.Warn("schedule trigger failed",
			"schedule_id", sched.ID,
			"template", sched.TemplateName,
			"error", fireErr,
		)
		telemetry.SchedulesFiredTotal.WithLabelValues("failed").Inc()
		runID = uuid.Nil
	} else {
		s.logger.Info("schedule fired",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"template", sched.TemplateName,
			"run_id", runID,
			"next_due_at", nextDue,
		)
		telemetry.SchedulesFiredTotal.WithLabelValues("fired").Inc()
	}

	sched.RecordRun(runID, nextDue)
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return fireErr == nil, fmt.Errorf("update schedule: %w", err)
	}
	return fireErr == nil, nil
}
