package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
)

// Template DTOs

// TemplateSummary — строка списка шаблонов.
type TemplateSummary struct {
	Name        string    `json:"name"`
	FTNumber    string    `json:"ft_number"`
	Description string    `json:"description,omitempty"`
	Steps       int       `json:"steps"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateResponse — ответ с шаблоном.
type TemplateResponse struct {
	Name      string                    `json:"name"`
	Template  domain.DeploymentTemplate `json:"template"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// TemplateSummaryFromDomain конвертирует domain.Template в TemplateSummary.
func TemplateSummaryFromDomain(t domain.Template) TemplateSummary {
	return TemplateSummary{
		Name:        t.Name,
		FTNumber:    t.Template.FTNumber(),
		Description: t.Template.Metadata.Description,
		Steps:       len(t.Template.Steps),
		UpdatedAt:   t.UpdatedAt,
	}
}

// TemplateFromDomain конвертирует domain.Template в TemplateResponse.
func TemplateFromDomain(t *domain.Template) TemplateResponse {
	return TemplateResponse{
		Name:      t.Name,
		Template:  t.Template,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// PlanResponse — волны шаблона без запуска.
type PlanResponse struct {
	FTNumber string  `json:"ft_number"`
	Steps    int     `json:"steps"`
	Waves    [][]int `json:"waves"`
}

// PlanFromWaves собирает PlanResponse.
func PlanFromWaves(tpl *domain.DeploymentTemplate, waves []engine.Wave) PlanResponse {
	resp := PlanResponse{
		FTNumber: tpl.FTNumber(),
		Steps:    len(tpl.Steps),
		Waves:    make([][]int, len(waves)),
	}
	for i, w := range waves {
		resp.Waves[i] = append([]int{}, w...)
	}
	return resp
}

// Deployment DTOs

// DeploymentAccepted — ответ на запуск развёртывания.
type DeploymentAccepted struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}

// DeploymentResponse — ответ с run.
//
// Status — состояние run: failed сразу после первого упавшего
// обязательного вызова, даже если волна ещё выполняется. Completed —
// run завершён и лог дописан, совпадает с completed в ответе /logs.
type DeploymentResponse struct {
	ID           uuid.UUID           `json:"id"`
	TemplateName string              `json:"template_name,omitempty"`
	FTNumber     string              `json:"ft_number"`
	InitiatedBy  string              `json:"initiated_by"`
	Status       domain.RunStatus    `json:"status"`
	Completed    bool                `json:"completed"`
	Waves        [][]int             `json:"waves,omitempty"`
	Results      []domain.StepResult `json:"results,omitempty"`
	Error        string              `json:"error,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	Duration     float64             `json:"duration_sec"`
	CreatedAt    time.Time           `json:"created_at"`
}

// DeploymentFromDomain конвертирует domain.Run в DeploymentResponse.
// Результаты включаются только при withResults.
func DeploymentFromDomain(r *domain.Run, withResults bool) DeploymentResponse {
	resp := DeploymentResponse{
		ID:           r.ID,
		TemplateName: r.TemplateName,
		FTNumber:     r.FTNumber,
		InitiatedBy:  r.InitiatedBy,
		Status:       r.Status,
		Completed:    r.LogComplete,
		Waves:        r.Waves,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Duration:     r.Duration().Seconds(),
		CreatedAt:    r.CreatedAt,
	}
	if withResults {
		resp.Results = r.ResultList()
	}
	return resp
}

// LogsResponse — pull-ответ с логом run.
//
// Status здесь — статус лога: он остаётся running, пока не записаны
// итоговые строки, и становится финальным вместе с completed.
type LogsResponse struct {
	DeploymentID uuid.UUID        `json:"deployment_id"`
	FTNumber     string           `json:"ft_number"`
	Status       domain.RunStatus `json:"status"`
	Logs         []string         `json:"logs"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	Duration     float64          `json:"duration"`
	Completed    bool             `json:"completed"`
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name         string `json:"name"`
	TemplateName string `json:"template_name"`
	CronExpr     string `json:"cron_expr,omitempty"`
	IntervalSec  int    `json:"interval_sec,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name         *string `json:"name,omitempty"`
	TemplateName *string `json:"template_name,omitempty"`
	CronExpr     *string `json:"cron_expr,omitempty"`
	IntervalSec  *int    `json:"interval_sec,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	TemplateName string     `json:"template_name"`
	CronExpr     string     `json:"cron_expr,omitempty"`
	IntervalSec  int        `json:"interval_sec,omitempty"`
	Timezone     string     `json:"timezone"`
	Enabled      bool       `json:"enabled"`
	NextDueAt    *time.Time `json:"next_due_at,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastRunID    *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:           s.ID,
		Name:         s.Name,
		TemplateName: s.TemplateName,
		CronExpr:     s.CronExpr,
		IntervalSec:  s.IntervalSec,
		Timezone:     s.Timezone,
		Enabled:      s.Enabled,
		NextDueAt:    s.NextDueAt,
		LastRunAt:    s.LastRunAt,
		LastRunID:    s.LastRunID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
