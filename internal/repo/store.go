package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
)

// TemplateStore — сохранённые шаблоны.
type TemplateStore interface {
	// SaveTemplate создаёт или заменяет шаблон с тем же именем.
	SaveTemplate(ctx context.Context, tpl *domain.Template) error
	GetTemplate(ctx context.Context, name string) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	DeleteTemplate(ctx context.Context, name string) error
}

// RunStore — снимки run.
type RunStore interface {
	// SaveRun создаёт или заменяет снимок run.
	SaveRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	// ListRuns возвращает run, новые первыми. limit <= 0 — без ограничения.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
}

// ScheduleStore — расписания.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *domain.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *domain.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// Store — всё хранилище сервера. Реализуется Postgres и sqlite.Store.
type Store interface {
	TemplateStore
	RunStore
	ScheduleStore
	Close() error
}

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	TemplateName string
	Enabled      *bool
	Limit        int
	Offset       int
}

// DefaultListLimit — размер страницы по умолчанию.
const DefaultListLimit = 100

// Normalize подставляет значения по умолчанию.
func (f ScheduleFilter) Normalize() ScheduleFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

var _ Store = (*Postgres)(nil)
