package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Default configuration values.
const defaultStepTimeout = 300 * time.Second

// Executor выполняет один шаг на одном хосте.
//
// Выбирает runner по типу шага, ограничивает вызов таймаутом и
// превращает исход в domain.StepResult. Повторов нет: решение о
// дальнейшем принимает координатор.
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	// Registry — runner'ы по типам шагов.
	Registry *Registry

	// DefaultTimeout — таймаут вызова, если у шага нет своего (default: 300s).
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Executor{
		registry:       registry,
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// Targets возвращает хосты, на которых нужно выполнить шаг.
// SQL-шаг без targetVMs выполняется один раз с target "n/a".
func Targets(step *domain.Step) []string {
	if len(step.TargetVMs) == 0 && !step.Type.RequiresHosts() {
		return []string{domain.TargetNone}
	}
	return append([]string(nil), step.TargetVMs...)
}

// Timeout возвращает таймаут вызова для шага.
func (e *Executor) Timeout(step *domain.Step) time.Duration {
	if step.TimeoutSec > 0 {
		return time.Duration(step.TimeoutSec) * time.Second
	}
	return e.defaultTimeout
}

// Execute выполняет шаг на хосте и возвращает финальный результат.
//
// Строки вывода передаются в emit по мере появления с префиксом хоста.
// После возврата emit больше не вызывается, даже если runner
// продолжает работу после таймаута. Ошибка, если есть, —
// *ExecutionError (для таймаута обёртывает *TimeoutError).
func (e *Executor) Execute(ctx context.Context, inv Invocation, emit Emit) (*domain.StepResult, error) {
	step := inv.Step
	logger := telemetry.WithStep(telemetry.WithRunID(e.logger, inv.RunID.String()), step.Order, inv.Target)

	started := time.Now()
	result := domain.NewPendingResult(step, inv.Target)
	result.Status = domain.StepStatusRunning
	result.StartedAt = &started

	var done atomic.Bool
	guarded := func(line string) {
		if done.Load() || emit == nil {
			return
		}
		emit(inv.Target + ": " + line)
	}

	detail, err := e.run(ctx, inv, guarded)
	done.Store(true)

	finished := time.Now()
	result.FinishedAt = &finished

	if err != nil {
		result.Status = domain.StepStatusFailed
		result.ExitDetail = err.Error()
		if detail != "" {
			result.ExitDetail = detail + ": " + err.Error()
		}
		err = &ExecutionError{Order: step.Order, Target: inv.Target, Err: err}
		logger.Warn("step invocation failed", "error", err, "duration", finished.Sub(started))
	} else {
		result.Status = domain.StepStatusSuccess
		result.ExitDetail = detail
		logger.Debug("step invocation succeeded", "duration", finished.Sub(started))
	}

	telemetry.StepInvocationsTotal.WithLabelValues(string(step.Type), string(result.Status)).Inc()
	telemetry.StepDuration.WithLabelValues(string(step.Type)).Observe(finished.Sub(started).Seconds())

	return result, err
}

// run вызывает runner с таймаутом.
//
// Runner работает в отдельной горутине: если он не реагирует на ctx,
// Execute всё равно возвращается по таймауту.
func (e *Executor) run(ctx context.Context, inv Invocation, emit Emit) (string, error) {
	runner, err := e.registry.Get(inv.Step.Type)
	if err != nil {
		return "", err
	}

	timeout := e.Timeout(inv.Step)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		detail string
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		detail, err := runner.Run(runCtx, inv, emit)
		ch <- outcome{detail: detail, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return out.detail, &TimeoutError{Timeout: timeout}
		}
		return out.detail, out.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Timeout: timeout}
		}
		return "", runCtx.Err()
	}
}
