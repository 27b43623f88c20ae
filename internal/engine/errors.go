package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Ошибки валидации шаблона.
var (
	// ErrInvalidTemplate — шаблон не удалось разобрать.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrEmptySteps — шаблон не содержит шагов.
	ErrEmptySteps = errors.New("template has no steps")

	// ErrMissingFTNumber — не задан идентификатор FT.
	ErrMissingFTNumber = errors.New("template has empty ft_number")

	// ErrInvalidOrder — order шага меньше 1.
	ErrInvalidOrder = errors.New("step order must be >= 1")

	// ErrDuplicateOrder — несколько шагов с одинаковым order.
	ErrDuplicateOrder = errors.New("duplicate step order")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrSpecMismatch — параметры шага от другого типа.
	ErrSpecMismatch = errors.New("step spec does not match step type")

	// ErrMissingTargets — шаг без targetVMs там, где хосты обязательны.
	ErrMissingTargets = errors.New("step has no target VMs")

	// ErrInvalidField — поле не прошло проверку.
	ErrInvalidField = errors.New("invalid field")

	// ErrDuplicateEdge — несколько записей зависимостей для одного шага.
	ErrDuplicateEdge = errors.New("duplicate dependency entry")
)

// Ошибки разрешения графа.
var (
	// ErrDanglingReference — зависимость ссылается на отсутствующий шаг.
	ErrDanglingReference = errors.New("dependency references unknown step")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Step    int    // order шага, 0 — ошибка уровня шаблона
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step > 0 {
		return "step " + strconv.Itoa(e.Step) + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(step int, field, message string, err error) *ValidationError {
	return &ValidationError{
		Step:    step,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CycleError — цикл в графе зависимостей.
//
// Cycle содержит order шагов цикла, первый элемент повторяется в конце:
// [2 3 2] означает 2 → 3 → 2.
type CycleError struct {
	Cycle []int
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, o := range e.Cycle {
		parts[i] = strconv.Itoa(o)
	}
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(parts, " -> "))
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// DanglingReferenceError — ребро ссылается на шаг, которого нет в шаблоне.
type DanglingReferenceError struct {
	Step    int // шаг, в записи которого найдена ссылка
	Missing int // отсутствующий order
}

// Error реализует интерфейс error.
func (e *DanglingReferenceError) Error() string {
	if e.Step == e.Missing {
		return fmt.Sprintf("%s: dependency entry for step %d", ErrDanglingReference, e.Missing)
	}
	return fmt.Sprintf("%s: step %d depends on %d", ErrDanglingReference, e.Step, e.Missing)
}

// Unwrap возвращает ErrDanglingReference.
func (e *DanglingReferenceError) Unwrap() error {
	return ErrDanglingReference
}

// IsTemplateError проверяет, что ошибка вызвана содержимым шаблона
// (разбор, валидация, граф), а не окружением.
func IsTemplateError(err error) bool {
	var (
		validation *ValidationError
		cycle      *CycleError
		dangling   *DanglingReferenceError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &cycle), errors.As(err, &dangling):
		return true
	default:
		return errors.Is(err, ErrInvalidTemplate) ||
			errors.Is(err, ErrEmptySteps) ||
			errors.Is(err, ErrMissingFTNumber) ||
			errors.Is(err, ErrDuplicateEdge)
	}
}
