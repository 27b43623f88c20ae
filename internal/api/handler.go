package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/catalog"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/shaiso/Rollout/internal/logstream"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/repo"
)

const (
	// UserHeader — заголовок с именем инициатора.
	UserHeader = "X-Rollout-User"

	defaultUser = "anonymous"

	// defaultRefreshInterval — как часто SSE перечитывает снимок run из
	// хранилища, если run выполняется не в этом процессе.
	defaultRefreshInterval = time.Second

	maxBodySize = 4 << 20
)

// Deployments — операции оркестратора, нужные API.
type Deployments interface {
	Submit(ctx context.Context, tpl *domain.DeploymentTemplate, opts orchestrator.SubmitOptions) (*domain.Run, error)
	SubmitTemplate(ctx context.Context, name string, opts orchestrator.SubmitOptions) (*domain.Run, error)
	Plan(tpl *domain.DeploymentTemplate) ([]engine.Wave, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
	Cancel(ctx context.Context, id uuid.UUID, by string) (*domain.Run, error)
	Hub() *logstream.Hub
}

var _ Deployments = (*orchestrator.Orchestrator)(nil)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	deployments     Deployments
	templates       repo.TemplateStore
	schedules       repo.ScheduleStore
	inventory       *inventory.Inventory
	catalog         *catalog.Catalog
	refreshInterval time.Duration
	logger          *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Deployments Deployments
	Templates   repo.TemplateStore
	Schedules   repo.ScheduleStore

	// Inventory — справочник хостов (опционально).
	Inventory *inventory.Inventory

	// FilesRoot — каталог FT для /api/v1/fts (files.root).
	FilesRoot string

	// RefreshInterval — период опроса хранилища для SSE (default: 1s).
	RefreshInterval time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}

	inv := cfg.Inventory
	if inv == nil {
		inv = inventory.New(nil, nil, nil, nil)
	}

	return &Handler{
		deployments:     cfg.Deployments,
		templates:       cfg.Templates,
		schedules:       cfg.Schedules,
		inventory:       inv,
		catalog:         catalog.New(cfg.FilesRoot),
		refreshInterval: refresh,
		logger:          logger,
	}
}

// userFrom возвращает инициатора запроса.
func userFrom(r *http.Request) string {
	if user := r.Header.Get(UserHeader); user != "" {
		return user
	}
	return defaultUser
}
