// Package scheduler запускает сохранённые шаблоны по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и вызывает Trigger: в rollout-scheduler это публикация
// deploy.requested в RabbitMQ, в сервере со встроенным планировщиком —
// прямой запуск через оркестратор.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, processSchedule), Trigger
//   - cron.go      — парсинг cron-выражений, вычисление следующего времени, валидация
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:   store,
//	    Trigger: scheduler.PublishTrigger(publisher),
//	    Logger:  logger,
//	})
//
//	// Тикает раз в секунду до отмены ctx
//	sched.Run(ctx)
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// В rollout-scheduler это делается в main.go через pg_try_advisory_lock.
package scheduler
