package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/logstream"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// execute — горутина-владелец run.
//
// Волны выполняются строго по очереди. После волны с упавшим
// обязательным шагом или после отмены следующие волны не запускаются.
func (o *Orchestrator) execute(ctx context.Context, st *runState) {
	logger := telemetry.WithRunID(o.logger, st.run.ID.String())
	sink := newEventSink(o.maxFanout * 4)

	o.logLine(st, fmt.Sprintf("Deployment started: FT %s, %d step(s) in %d wave(s)",
		st.tpl.FTNumber(), len(st.tpl.Steps), len(st.waves)))
	if desc := st.tpl.Metadata.Description; desc != "" {
		o.logLine(st, "Description: "+desc)
	}

	st.update(func(run *domain.Run) { run.MarkRunning() })
	st.stream.SetStatus(domain.RunStatusRunning)
	o.persist(ctx, st)
	o.publishRun(ctx, st.snapshot())

	var scheduled []task
	halted := false

	for i, wave := range st.waves {
		if st.isCancelled() {
			o.handleCancel(st)
			o.logLine(st, fmt.Sprintf("Skipping %d remaining wave(s): deployment cancelled", len(st.waves)-i))
			break
		}
		if halted {
			o.logLine(st, fmt.Sprintf("Skipping %d remaining wave(s) after failure", len(st.waves)-i))
			break
		}

		o.logLine(st, fmt.Sprintf("Wave %d/%d: step(s) %s", i+1, len(st.waves), joinOrders(wave)))
		tasks := o.waveTasks(st, wave)
		scheduled = append(scheduled, tasks...)
		logger.Debug("dispatching wave", "wave", i+1, "steps", wave, "invocations", len(tasks))

		if o.runWave(ctx, st, sink, tasks) {
			halted = true
		}
		o.persist(ctx, st)
	}

	o.finalize(ctx, st, scheduled)

	// Вызовы, пережившие таймаут, могут ещё прислать событие.
	go sink.close()
	for range sink.ch {
	}
}

// waveTasks разворачивает шаги волны в вызовы (шаг, хост).
func (o *Orchestrator) waveTasks(st *runState, wave engine.Wave) []task {
	var tasks []task
	for _, order := range wave {
		step, ok := st.tpl.StepByOrder(order)
		if !ok {
			continue
		}

		targets := executor.Targets(step)
		o.logLine(st, fmt.Sprintf("Starting %s [%s] on %s", step.Name(), step.Type, strings.Join(targets, ", ")))

		for _, target := range targets {
			tasks = append(tasks, task{step: step, target: target})
		}
	}

	st.update(func(run *domain.Run) {
		for _, t := range tasks {
			run.SetResult(domain.NewPendingResult(t.step, t.target))
		}
	})
	return tasks
}

// runWave выполняет все вызовы волны и ждёт, пока каждый завершится.
// Возвращает true, если упал обязательный шаг.
func (o *Orchestrator) runWave(ctx context.Context, st *runState, sink *eventSink, tasks []task) bool {
	if len(tasks) == 0 {
		return false
	}

	// Отмена run не прерывает уже начатые вызовы.
	execCtx := context.WithoutCancel(ctx)

	go func() {
		var g errgroup.Group
		g.SetLimit(o.maxFanout)

		for _, t := range tasks {
			g.Go(func() error {
				if st.isCancelled() {
					sink.send(event{kind: eventSkipped, task: t})
					return nil
				}

				sink.send(event{kind: eventStarted, task: t})
				inv := executor.Invocation{
					RunID:    st.run.ID,
					FTNumber: st.run.FTNumber,
					Step:     t.step,
					Target:   t.target,
				}
				res, err := o.executor.Execute(execCtx, inv, func(line string) {
					sink.send(event{kind: eventLine, task: t, line: line})
				})
				sink.send(event{kind: eventResult, task: t, result: res, err: err})
				return nil
			})
		}
		_ = g.Wait()
	}()

	cancelCh := st.cancelCh
	if st.cancelHandled {
		cancelCh = nil
	}

	halted := false
	for settled := 0; settled < len(tasks); {
		select {
		case ev := <-sink.ch:
			switch ev.kind {
			case eventLine:
				o.logLine(st, ev.line)
			case eventStarted:
				o.markStarted(st, ev.task)
			case eventResult:
				if o.recordResult(ctx, st, ev) {
					halted = true
				}
				settled++
			case eventSkipped:
				o.recordSkipped(st, ev.task)
				settled++
			}
		case <-cancelCh:
			o.handleCancel(st)
			cancelCh = nil
		}
	}
	return halted
}

func (o *Orchestrator) markStarted(st *runState, t task) {
	now := o.now()
	st.update(func(run *domain.Run) {
		res := domain.NewPendingResult(t.step, t.target)
		res.Status = domain.StepStatusRunning
		res.StartedAt = &now
		run.SetResult(res)
	})
}

// recordResult сохраняет результат вызова. Возвращает true, если
// упал обязательный шаг.
func (o *Orchestrator) recordResult(ctx context.Context, st *runState, ev event) bool {
	step, target := ev.task.step, ev.task.target
	res, err := ev.result, ev.err

	if res == nil {
		now := o.now()
		res = domain.NewPendingResult(step, target)
		res.FinishedAt = &now
		if err == nil {
			err = ErrMissingResult
		}
	}
	if err == nil && !res.IsSuccess() {
		err = fmt.Errorf("invocation ended with status %s", res.Status)
	}
	if err != nil {
		res.Status = domain.StepStatusFailed
		if res.ExitDetail == "" {
			res.ExitDetail = err.Error()
		}
	}

	st.update(func(run *domain.Run) { run.SetResult(res) })
	o.publishStep(ctx, st, res)

	if res.IsSuccess() {
		msg := fmt.Sprintf("Step %d succeeded on %s", step.Order, target)
		if res.ExitDetail != "" {
			msg += ": " + res.ExitDetail
		}
		o.logLine(st, msg)
		return false
	}

	reason := fmt.Sprintf("step %d (%s) failed on %s: %s", step.Order, step.Type, target, res.ExitDetail)
	if step.Optional {
		o.logLine(st, "FAILED (optional, continuing): "+reason)
		return false
	}

	o.logLine(st, "FAILED: "+reason)
	st.update(func(run *domain.Run) { run.MarkFailed(reason) })
	return true
}

// recordSkipped отмечает вызов, не запущенный из-за отмены.
func (o *Orchestrator) recordSkipped(st *runState, t task) {
	now := o.now()
	res := domain.NewPendingResult(t.step, t.target)
	res.Status = domain.StepStatusFailed
	res.ExitDetail = "not dispatched: " + ErrCancelled.Error()
	res.FinishedAt = &now

	st.update(func(run *domain.Run) { run.SetResult(res) })
	o.logLine(st, fmt.Sprintf("Step %d not dispatched on %s: %s", t.step.Order, t.target, ErrCancelled))
}

// handleCancel переводит run в failed по запросу отмены. Только для владельца.
func (o *Orchestrator) handleCancel(st *runState) {
	if st.cancelHandled {
		return
	}
	st.cancelHandled = true

	by := st.cancelledBy()
	st.update(func(run *domain.Run) { run.MarkFailed("cancelled by " + by) })
	o.logLine(st, "Deployment cancelled by "+by)
	close(st.cancelAck)
}

// finalize выставляет финальный статус и закрывает поток.
//
// Success только если у каждого запланированного вызова есть явный
// успешный результат и все волны были запущены.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, scheduled []task) {
	if st.isCancelled() {
		o.handleCancel(st)
	}

	if st.status() != domain.RunStatusFailed {
		if reason := o.verifyResults(st, scheduled); reason != "" {
			o.logLine(st, "FAILED: "+reason)
			st.update(func(run *domain.Run) { run.MarkFailed(reason) })
		}
	}

	now := o.now()
	st.update(func(run *domain.Run) {
		if run.Status != domain.RunStatusFailed {
			run.MarkSuccess()
		}
		run.FinishedAt = &now
	})

	run := st.snapshot()
	succeeded := succeededSteps(run, st.tpl)
	o.logLine(st, fmt.Sprintf("Steps succeeded: %d/%d", succeeded, len(st.tpl.Steps)))
	if run.Error != "" {
		o.logLine(st, "Reason: "+run.Error)
	}
	o.logLine(st, fmt.Sprintf("Deployment finished with status %s in %s", run.Status, run.Duration().Round(time.Millisecond)))
	st.update(func(run *domain.Run) { run.LogComplete = true })

	o.persist(ctx, st)
	st.stream.SetStatus(run.Status)

	run = st.snapshot()
	o.publishRun(ctx, run)
	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	telemetry.RunsActive.Dec()

	telemetry.WithRunID(o.logger, run.ID.String()).Info("run finished",
		"status", run.Status,
		"steps_succeeded", succeeded,
		"steps_total", len(st.tpl.Steps),
		"duration", run.Duration(),
		"error", run.Error,
	)

	st.finishedAt.Store(&now)
	close(st.done)
}

// verifyResults возвращает причину провала или "".
func (o *Orchestrator) verifyResults(st *runState, scheduled []task) string {
	run := st.snapshot()

	dispatched := make(map[int]bool)
	for _, t := range scheduled {
		dispatched[t.step.Order] = true
		res, ok := run.Result(t.step.Order, t.target)
		if !ok {
			return fmt.Sprintf("step %d (%s) on %s: %s", t.step.Order, t.step.Type, t.target, ErrMissingResult)
		}
		if !res.IsSuccess() {
			return fmt.Sprintf("step %d (%s) failed on %s: %s", t.step.Order, t.step.Type, t.target, res.ExitDetail)
		}
	}

	for _, step := range st.tpl.Steps {
		if !dispatched[step.Order] {
			return fmt.Sprintf("step %d (%s) was never dispatched", step.Order, step.Type)
		}
	}
	return ""
}

// succeededSteps считает шаги, успешные на всех своих хостах.
func succeededSteps(run *domain.Run, tpl *domain.DeploymentTemplate) int {
	n := 0
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		ok := true
		for _, target := range executor.Targets(step) {
			res, found := run.Result(step.Order, target)
			if !found || !res.IsSuccess() {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return n
}

func (o *Orchestrator) logLine(st *runState, msg string) {
	st.appendLog(logstream.Format(o.now(), msg))
}

// persist сохраняет снимок run. Ошибка хранилища не влияет на run.
func (o *Orchestrator) persist(ctx context.Context, st *runState) {
	if o.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPersistTimeout)
	defer cancel()

	run := st.snapshot()
	if err := o.store.SaveRun(ctx, run); err != nil {
		telemetry.WithRunID(o.logger, run.ID.String()).Warn("failed to persist run snapshot", "error", err)
	}
}

func (o *Orchestrator) publishRun(ctx context.Context, run *domain.Run) {
	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPersistTimeout)
	defer cancel()

	err := o.publisher.PublishRunEvent(ctx, mq.RunEventPayload{
		RunID:        run.ID,
		TemplateName: run.TemplateName,
		FTNumber:     run.FTNumber,
		Status:       string(run.Status),
		InitiatedBy:  run.InitiatedBy,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	})
	if err != nil {
		telemetry.WithRunID(o.logger, run.ID.String()).Warn("failed to publish run event", "error", err)
	}
}

func (o *Orchestrator) publishStep(ctx context.Context, st *runState, res *domain.StepResult) {
	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPersistTimeout)
	defer cancel()

	err := o.publisher.PublishStepFinished(ctx, mq.StepFinishedPayload{
		RunID:      st.run.ID,
		Order:      res.Order,
		Type:       string(res.Type),
		Target:     res.Target,
		Status:     string(res.Status),
		ExitDetail: res.ExitDetail,
	})
	if err != nil {
		telemetry.WithRunID(o.logger, st.run.ID.String()).Warn("failed to publish step result", "error", err)
	}
}

func joinOrders(wave engine.Wave) string {
	parts := make([]string, len(wave))
	for i, order := range wave {
		parts[i] = fmt.Sprint(order)
	}
	return strings.Join(parts, ", ")
}
