package executor

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки исполнителя.
var (
	// ErrUnknownStepType — нет runner'а для данного типа шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrStepTimeout — вызов превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrUnexpectedSpec — параметры шага не соответствуют типу runner'а.
	ErrUnexpectedSpec = errors.New("unexpected step spec")
)

// ExecutionError — вызов шага на хосте завершился ошибкой.
type ExecutionError struct {
	Order  int    // order шага
	Target string // хост или "n/a"
	Err    error  // причина
}

// Error реализует интерфейс error.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %d on %s: %v", e.Order, e.Target, e.Err)
}

// Unwrap возвращает причину.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError — вызов не уложился в таймаут.
// Всегда приходит обёрнутым в ExecutionError.
type TimeoutError struct {
	Timeout time.Duration
}

// Error реализует интерфейс error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// Unwrap возвращает ErrStepTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrStepTimeout
}
