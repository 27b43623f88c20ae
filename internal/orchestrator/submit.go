package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// SubmitOptions — кто и что запускает.
type SubmitOptions struct {
	// TemplateName — имя сохранённого шаблона (пусто для inline).
	TemplateName string

	// InitiatedBy — пользователь (default: "anonymous").
	InitiatedBy string
}

// Submit валидирует шаблон, разрешает граф и запускает run.
//
// Ошибки валидации и разрешения (ValidationError, CycleError,
// DanglingReferenceError) возвращаются сразу, run при этом не создаётся.
// Возвращает снимок run на момент регистрации.
func (o *Orchestrator) Submit(ctx context.Context, tpl *domain.DeploymentTemplate, opts SubmitOptions) (*domain.Run, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: template is nil", engine.ErrInvalidTemplate)
	}

	initiatedBy := opts.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = defaultUser
	}

	run := domain.NewRun(tpl.FTNumber(), opts.TemplateName, initiatedBy)
	run.MarkLoading()

	waves, err := engine.Plan(tpl)
	if err != nil {
		o.logger.Info("template rejected",
			"ft_number", tpl.FTNumber(),
			"template", opts.TemplateName,
			"error", err,
		)
		return nil, err
	}

	run.Waves = make([][]int, len(waves))
	for i, w := range waves {
		run.Waves[i] = append([]int(nil), w...)
	}

	stream := o.hub.Open(run.ID)
	stream.SetStatus(domain.RunStatusLoading)
	st := newRunState(run, tpl, waves, stream)

	o.mu.Lock()
	o.runs[run.ID] = st
	o.mu.Unlock()
	telemetry.RunsActive.Inc()

	logger := telemetry.WithRunID(o.logger, run.ID.String())
	logger.Info("run submitted",
		"ft_number", run.FTNumber,
		"template", run.TemplateName,
		"initiated_by", initiatedBy,
		"steps", len(tpl.Steps),
		"waves", len(waves),
	)

	snapshot := st.snapshot()
	o.persist(ctx, st)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.baseCtx, st)
	}()

	return snapshot, nil
}

// SubmitTemplate запускает сохранённый шаблон по имени.
func (o *Orchestrator) SubmitTemplate(ctx context.Context, name string, opts SubmitOptions) (*domain.Run, error) {
	if o.templates == nil {
		return nil, fmt.Errorf("%w: %s (no template store)", ErrTemplateNotFound, name)
	}

	stored, err := o.templates.GetTemplate(ctx, name)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %s", ErrTemplateNotFound, name), err)
	}

	opts.TemplateName = name
	return o.Submit(ctx, &stored.Template, opts)
}

// Plan проверяет шаблон и возвращает волны без запуска.
func (o *Orchestrator) Plan(tpl *domain.DeploymentTemplate) ([]engine.Wave, error) {
	return engine.Plan(tpl)
}

// Cancel отменяет run.
//
// Run сразу становится failed. Вызовы, которые уже выполняются,
// доводятся до конца, ещё не начатые не запускаются. Run, упавший
// раньше, но ещё не завершивший волну, тоже можно отменить.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, by string) (*domain.Run, error) {
	st, ok := o.state(id)
	if !ok {
		run, err := o.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.LogComplete {
			return run, ErrRunFinished
		}
		// Run выполняется в другом процессе.
		return run, fmt.Errorf("%w: %s is not owned by this instance", ErrRunNotFound, id)
	}

	// Статус failed ставится при первом упавшем вызове, а волна ещё
	// доигрывает; завершённым run считается только после finalize.
	if _, done := st.finished(); done {
		return st.snapshot(), ErrRunFinished
	}

	if by == "" {
		by = defaultUser
	}
	if st.cancel(by) {
		telemetry.WithRunID(o.logger, id.String()).Info("run cancellation requested", "by", by)
	}

	// Ждём, пока владелец run обработает отмену.
	select {
	case <-st.cancelAck:
	case <-st.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run := st.snapshot()
	if run.Status == domain.RunStatusSuccess {
		return run, ErrRunFinished
	}
	return run, nil
}
