package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/mq"
)

// requestedByScheduler — инициатор по умолчанию для запросов из очереди.
const requestedByScheduler = "scheduler"

// handleDeployRequested обрабатывает запрос на запуск сохранённого шаблона.
//
// Битый payload, неизвестный или невалидный шаблон отправляются в DLQ:
// повтор их не исправит. Остальные ошибки возвращают сообщение в очередь.
func (o *Orchestrator) handleDeployRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.DeployRequestedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse deploy.requested payload", "error", err)
		return mq.Permanent(err)
	}
	if payload.TemplateName == "" {
		return mq.Permanent(errors.New("deploy.requested without template_name"))
	}

	by := payload.RequestedBy
	if by == "" {
		by = requestedByScheduler
	}

	o.logger.Debug("received deploy.requested event",
		"template", payload.TemplateName,
		"schedule_id", payload.ScheduleID,
		"requested_by", by,
	)

	run, err := o.SubmitTemplate(ctx, payload.TemplateName, SubmitOptions{InitiatedBy: by})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) || engine.IsTemplateError(err) {
			o.logger.Warn("deploy request rejected", "template", payload.TemplateName, "error", err)
			return mq.Permanent(err)
		}
		o.logger.Error("failed to submit requested deploy", "template", payload.TemplateName, "error", err)
		return err
	}

	o.logger.Info("deploy request accepted",
		"template", payload.TemplateName,
		"run_id", run.ID,
	)
	return nil
}
