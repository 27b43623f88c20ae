package logstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
)

// Archive — хранилище снимков завершённых или вытесненных run.
type Archive interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// Hub — реестр потоков по run id.
type Hub struct {
	mu      sync.RWMutex
	streams map[uuid.UUID]*Stream

	archive Archive
	logger  *slog.Logger
}

// HubConfig — конфигурация Hub.
type HubConfig struct {
	// Archive — откуда читать лог run, которого уже нет в памяти (опционально).
	Archive Archive

	Logger *slog.Logger
}

// NewHub создаёт новый Hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		streams: make(map[uuid.UUID]*Stream),
		archive: cfg.Archive,
		logger:  logger,
	}
}

// Open создаёт поток для run. Повторный вызов возвращает существующий.
func (h *Hub) Open(runID uuid.UUID) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.streams[runID]; ok {
		return s
	}

	s := NewStream(StreamConfig{
		ID:         runID.String(),
		CountLines: true,
		Logger:     h.logger,
	})
	h.streams[runID] = s
	return s
}

// Get возвращает поток run, если он в памяти.
func (h *Hub) Get(runID uuid.UUID) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[runID]
	return s, ok
}

// Remove удаляет поток из памяти.
func (h *Hub) Remove(runID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, runID)
}

// Len возвращает количество потоков в памяти.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// CurrentLog возвращает лог и статус run.
//
// Сначала смотрит в память, затем в архив.
func (h *Hub) CurrentLog(ctx context.Context, runID uuid.UUID) (Snapshot, error) {
	s, _, err := h.Resolve(ctx, runID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Resolve возвращает поток run.
//
// live = true, если run выполняется в этом процессе и поток пополняется
// напрямую. Иначе поток собран из архива, и читатель должен сам
// подтягивать новые снимки через Refresh, пока поток не закроется.
func (h *Hub) Resolve(ctx context.Context, runID uuid.UUID) (*Stream, bool, error) {
	if s, ok := h.Get(runID); ok {
		return s, true, nil
	}

	s := NewStream(StreamConfig{ID: runID.String(), Logger: h.logger})
	if err := h.Refresh(ctx, runID, s); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// Refresh объединяет в поток снимок run из архива.
func (h *Hub) Refresh(ctx context.Context, runID uuid.UUID, s *Stream) error {
	if h.archive == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	run, err := h.archive.GetRun(ctx, runID)
	if err != nil {
		return errors.Join(fmt.Errorf("%w: %s", ErrUnknownRun, runID), err)
	}

	// Снимок, сохранённый посреди волны, может уже нести failed;
	// поток закрывается только по дописанному логу.
	s.ApplySnapshot(run.Log, run.LogStatus())
	return nil
}
