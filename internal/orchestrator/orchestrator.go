package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/logstream"
	"github.com/shaiso/Rollout/internal/mq"
)

// Default configuration values.
const (
	defaultMaxFanout      = 10
	defaultRetention      = 30 * time.Minute
	defaultJanitorPeriod  = time.Minute
	defaultPersistTimeout = 5 * time.Second
	defaultUser           = "anonymous"
)

// StepExecutor выполняет один шаг на одном хосте.
type StepExecutor interface {
	Execute(ctx context.Context, inv executor.Invocation, emit executor.Emit) (*domain.StepResult, error)
}

// RunStore хранит снимки run.
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
}

// TemplateStore загружает сохранённые шаблоны.
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (*domain.Template, error)
}

// EventPublisher публикует события run во внешнюю шину.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, payload mq.RunEventPayload) error
	PublishStepFinished(ctx context.Context, payload mq.StepFinishedPayload) error
}

// Orchestrator — координатор run.
//
// Хранит реестр run по id, для каждого run запускает горутину-владельца.
type Orchestrator struct {
	executor  StepExecutor
	hub       *logstream.Hub
	store     RunStore
	templates TemplateStore
	publisher EventPublisher
	conn      *mq.Connection

	maxFanout     int
	retention     time.Duration
	janitorPeriod time.Duration

	mu   sync.RWMutex
	runs map[uuid.UUID]*runState

	consumer *mq.Consumer

	now func() time.Time

	logger     *slog.Logger
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Executor выполняет вызовы шагов. Обязателен.
	Executor StepExecutor

	// Hub — потоки логов. По умолчанию создаётся новый с архивом Store.
	Hub *logstream.Hub

	// Store — снимки run (опционально).
	Store RunStore

	// Templates — сохранённые шаблоны для SubmitTemplate (опционально).
	Templates TemplateStore

	// Publisher — события run (опционально).
	Publisher EventPublisher

	// Conn — соединение с RabbitMQ для приёма deploy.requests (опционально).
	Conn *mq.Connection

	// MaxFanout — максимум одновременных вызовов в run (default: 10).
	MaxFanout int

	// Retention — сколько держать завершённый run в памяти (default: 30m).
	Retention time.Duration

	// JanitorPeriod — период вытеснения (default: 1m).
	JanitorPeriod time.Duration

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	maxFanout := cfg.MaxFanout
	if maxFanout <= 0 {
		maxFanout = defaultMaxFanout
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	janitorPeriod := cfg.JanitorPeriod
	if janitorPeriod <= 0 {
		janitorPeriod = defaultJanitorPeriod
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := cfg.Hub
	if hub == nil {
		hub = logstream.NewHub(logstream.HubConfig{Archive: cfg.Store, Logger: logger})
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		executor:      cfg.Executor,
		hub:           hub,
		store:         cfg.Store,
		templates:     cfg.Templates,
		publisher:     cfg.Publisher,
		conn:          cfg.Conn,
		maxFanout:     maxFanout,
		retention:     retention,
		janitorPeriod: janitorPeriod,
		runs:          make(map[uuid.UUID]*runState),
		now:           time.Now,
		logger:        logger,
		baseCtx:       ctx,
		cancelFunc:    cancel,
	}
}

// Start запускает фоновые горутины: вытеснение завершённых run и,
// если задано соединение с RabbitMQ, consumer для deploy.requests.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("starting orchestrator",
		"max_fanout", o.maxFanout,
		"retention", o.retention,
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.janitorLoop(o.baseCtx)
	}()

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueDeployRequests,
			Handler:  o.handleDeployRequested,
			Prefetch: 5,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(o.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("deploy requests consumer error", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop отменяет активные run и ждёт их завершения.
//
// Вызовы, которые уже выполняются, доводятся до конца (или до таймаута шага).
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	for _, st := range o.activeStates() {
		if st.cancel("shutdown") {
			o.logger.Info("cancelling run on shutdown", "run_id", st.run.ID)
		}
	}

	if o.consumer != nil {
		o.consumer.Stop()
	}
	o.cancelFunc()
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Hub возвращает потоки логов.
func (o *Orchestrator) Hub() *logstream.Hub {
	return o.hub
}

// Get возвращает снимок run: из памяти, иначе из хранилища.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	if st, ok := o.state(id); ok {
		return st.snapshot(), nil
	}

	if o.store == nil {
		return nil, ErrRunNotFound
	}
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return nil, errors.Join(ErrRunNotFound, err)
	}
	return run, nil
}

// GetRun реализует logstream.Archive.
func (o *Orchestrator) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return o.Get(ctx, id)
}

// List возвращает run, новые первыми.
// Run из памяти перекрывают снимки из хранилища.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	byID := make(map[uuid.UUID]*domain.Run)

	if o.store != nil {
		stored, err := o.store.ListRuns(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, run := range stored {
			byID[run.ID] = run
		}
	}

	o.mu.RLock()
	for id, st := range o.runs {
		byID[id] = st.snapshot()
	}
	o.mu.RUnlock()

	list := make([]*domain.Run, 0, len(byID))
	for _, run := range byID {
		run.Log = nil
		list = append(list, run)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Wait блокируется, пока run не завершится или не истечёт ctx.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	st, ok := o.state(id)
	if !ok {
		return o.Get(ctx, id)
	}

	select {
	case <-st.done:
		return st.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveRunsCount возвращает число незавершённых run в памяти.
func (o *Orchestrator) ActiveRunsCount() int {
	return len(o.activeStates())
}

func (o *Orchestrator) state(id uuid.UUID) (*runState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.runs[id]
	return st, ok
}

func (o *Orchestrator) activeStates() []*runState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	list := make([]*runState, 0, len(o.runs))
	for _, st := range o.runs {
		if _, done := st.finished(); !done {
			list = append(list, st)
		}
	}
	return list
}

// janitorLoop периодически вытесняет завершённые run.
func (o *Orchestrator) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(o.janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evict(time.Now())
		}
	}
}

// evict удаляет из памяти run, завершённые раньше now - retention.
func (o *Orchestrator) evict(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for id, st := range o.runs {
		at, done := st.finished()
		if !done || now.Sub(at) < o.retention {
			continue
		}
		delete(o.runs, id)
		o.hub.Remove(id)
		evicted++
	}

	if evicted > 0 {
		o.logger.Debug("evicted finished runs", "count", evicted, "remaining", len(o.runs))
	}
	return evicted
}
