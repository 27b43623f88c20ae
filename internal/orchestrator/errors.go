package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run нет ни в памяти, ни в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже в финальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrTemplateNotFound — сохранённый шаблон не найден.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMissingResult — executor не вернул результат вызова.
	ErrMissingResult = errors.New("no result reported")

	// ErrCancelled — run отменён до запуска вызова.
	ErrCancelled = errors.New("run cancelled")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
