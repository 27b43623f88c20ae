package domain

// RunStatus — статус deployment run.
//
// Жизненный цикл:
//
//	IDLE → LOADING → RUNNING → SUCCESS
//	                         ↘ FAILED
//
// LOADING (валидация и разрешение графа) может завершиться ошибкой,
// тогда run не регистрируется и RUNNING не наступает.
type RunStatus string

const (
	// RunStatusIdle — run создан, шаблон ещё не загружен.
	RunStatusIdle RunStatus = "idle"

	// RunStatusLoading — валидация шаблона и построение волн.
	RunStatusLoading RunStatus = "loading"

	// RunStatusRunning — запущена первая волна.
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess — все запланированные (шаг, хост) завершились успешно.
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailed — хотя бы один хост упал, run отменён или результата нет.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Rank возвращает позицию статуса в жизненном цикле.
// Финальные статусы равны между собой.
func (s RunStatus) Rank() int {
	switch s {
	case RunStatusLoading:
		return 1
	case RunStatusRunning:
		return 2
	case RunStatusSuccess, RunStatusFailed:
		return 3
	default:
		return 0
	}
}

// ParseRunStatus парсит строку в RunStatus.
// Неизвестные значения трактуются как IDLE.
func ParseRunStatus(s string) RunStatus {
	switch s {
	case "loading":
		return RunStatusLoading
	case "running":
		return RunStatusRunning
	case "success":
		return RunStatusSuccess
	case "failed":
		return RunStatusFailed
	default:
		return RunStatusIdle
	}
}

// StepStatus — статус выполнения шага на одном хосте.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
type StepStatus string

const (
	// StepStatusPending — вызов запланирован, но ещё не начат.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning — вызов выполняется.
	StepStatusRunning StepStatus = "running"

	// StepStatusSuccess — вызов завершился успешно.
	StepStatusSuccess StepStatus = "success"

	// StepStatusFailed — вызов завершился с ошибкой или по таймауту.
	StepStatusFailed StepStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed:
		return true
	default:
		return false
	}
}
