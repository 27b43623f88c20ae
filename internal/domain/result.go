package domain

import "time"

// TargetNone — target для шага, выполняемого без хоста.
const TargetNone = "n/a"

// StepResult — результат выполнения шага на одном хосте.
type StepResult struct {
	// Order — order шага.
	Order int `json:"order"`

	// Type — тип шага.
	Type StepType `json:"type"`

	// Target — имя хоста или "n/a".
	Target string `json:"target"`

	// Status — статус вызова.
	Status StepStatus `json:"status"`

	// ExitDetail — диагностика: код выхода, checksum, текст ошибки.
	ExitDetail string `json:"exit_detail,omitempty"`

	// StartedAt — начало вызова.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — окончание вызова.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewPendingResult создаёт результат в статусе PENDING.
func NewPendingResult(step *Step, target string) *StepResult {
	return &StepResult{
		Order:  step.Order,
		Type:   step.Type,
		Target: target,
		Status: StepStatusPending,
	}
}

// Duration возвращает длительность вызова.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsSuccess возвращает true для успешного вызова.
func (r *StepResult) IsSuccess() bool {
	return r.Status == StepStatusSuccess
}
