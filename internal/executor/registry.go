package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
)

// Emit принимает очередную строку вывода. Может вызываться из разных горутин.
type Emit func(line string)

// Invocation — один вызов шага на одном хосте.
type Invocation struct {
	// RunID — run, к которому относится вызов.
	RunID uuid.UUID

	// FTNumber — идентификатор FT шаблона (по умолчанию для файлов шага).
	FTNumber string

	// Step — шаг.
	Step *domain.Step

	// Target — хост или "n/a".
	Target string
}

// Runner выполняет шаги одного типа.
//
// Реализация обязана уважать ctx: при отмене или таймауте
// удалённая операция прерывается. Повторов внутри нет.
type Runner interface {
	Run(ctx context.Context, inv Invocation, emit Emit) (detail string, err error)
}

// RunnerFunc — адаптер функции к Runner.
type RunnerFunc func(ctx context.Context, inv Invocation, emit Emit) (string, error)

// Run реализует Runner.
func (f RunnerFunc) Run(ctx context.Context, inv Invocation, emit Emit) (string, error) {
	return f(ctx, inv, emit)
}

// Registry — реестр runner'ов по типу шага.
// Потокобезопасен.
type Registry struct {
	mu      sync.RWMutex
	runners map[domain.StepType]Runner
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[domain.StepType]Runner)}
}

// Register добавляет runner для типа шага.
// Если runner для типа уже есть, он будет перезаписан.
func (r *Registry) Register(stepType domain.StepType, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[stepType] = runner
}

// Get возвращает runner для типа шага.
func (r *Registry) Get(stepType domain.StepType) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, stepType)
	}
	return runner, nil
}

// Types возвращает список зарегистрированных типов.
func (r *Registry) Types() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StepType, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
