package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// CreateDeployment запускает шаблон из тела запроса (JSON или YAML).
// POST /api/v1/deployments
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	tpl, ok := h.readTemplate(w, r)
	if !ok {
		return
	}

	run, err := h.deployments.Submit(r.Context(), tpl, orchestrator.SubmitOptions{
		InitiatedBy: userFrom(r),
	})
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Accepted(w, DeploymentAccepted{RunID: run.ID, Status: run.Status})
}

// ListDeployments возвращает список run, новые первыми.
// GET /api/v1/deployments?limit=...
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit = int(mustParseInt(limitStr, 50))
	}

	runs, err := h.deployments.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DeploymentResponse, len(runs))
	for i, run := range runs {
		result[i] = DeploymentFromDomain(run, false)
	}

	List(w, result, len(result))
}

// GetDeployment возвращает run с результатами по хостам.
// GET /api/v1/deployments/{id}
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}

	run, err := h.deployments.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "deployment not found") {
		return
	}

	Success(w, DeploymentFromDomain(run, true))
}

// CancelDeployment отменяет run.
// POST /api/v1/deployments/{id}/cancel
func (h *Handler) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}

	run, err := h.deployments.Cancel(r.Context(), id, userFrom(r))
	if HandleRepoError(w, h.logger, err, "deployment not found") {
		return
	}

	Success(w, DeploymentFromDomain(run, true))
}

// GetDeploymentLogs возвращает лог run.
// GET /api/v1/deployments/{id}/logs
//
// С заголовком Accept: text/event-stream отдаёт лог через SSE,
// как /events.
func (h *Handler) GetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.StreamDeploymentEvents(w, r)
		return
	}

	id, ok := deploymentID(w, r)
	if !ok {
		return
	}

	run, err := h.deployments.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "deployment not found") {
		return
	}

	snap, err := h.deployments.Hub().CurrentLog(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "deployment not found") {
		return
	}

	logs := snap.Lines
	if logs == nil {
		logs = []string{}
	}

	JSON(w, http.StatusOK, LogsResponse{
		DeploymentID: run.ID,
		FTNumber:     run.FTNumber,
		Status:       snap.Status,
		Logs:         logs,
		StartedAt:    run.StartedAt,
		Duration:     run.Duration().Seconds(),
		Completed:    snap.Closed,
	})
}

// sseEvent — тело события SSE.
type sseEvent struct {
	Status  domain.RunStatus `json:"status,omitempty"`
	Message string           `json:"message"`
}

// StreamDeploymentEvents отдаёт лог run через SSE.
// GET /api/v1/deployments/{id}/events
//
// Каждая строка лога — событие data: {"message": ...} с id: равным числу
// отданных строк. Last-Event-ID продолжает поток с этого места.
// Последнее событие несёт финальный статус, после него поток закрывается.
func (h *Handler) StreamDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := deploymentID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	hub := h.deployments.Hub()
	logger := telemetry.WithRunID(telemetry.FromContext(ctx), id.String())

	stream, live, err := hub.Resolve(ctx, id)
	if HandleRepoError(w, h.logger, err, "deployment not found") {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	// Run из другого процесса: снимок перечитывается из хранилища.
	var refresh <-chan time.Time
	if !live {
		ticker := time.NewTicker(h.refreshInterval)
		defer ticker.Stop()
		refresh = ticker.C
	}

	cursor := lastEventID(r)
	for {
		lines, next, status, wait := stream.Since(cursor)
		for i, line := range lines {
			if err := writeSSE(w, cursor+i+1, sseEvent{Message: line}); err != nil {
				return
			}
		}
		cursor = next

		if wait == nil {
			writeSSE(w, cursor, sseEvent{
				Status:  status,
				Message: fmt.Sprintf("Deployment %s.", status),
			})
			rc.Flush()
			return
		}

		if err := rc.Flush(); err != nil {
			logger.Debug("sse flush failed", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-wait:
		case <-refresh:
			if err := hub.Refresh(ctx, id, stream); err != nil {
				logger.Warn("failed to refresh run snapshot", "error", err)
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, id int, ev sseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", id, data)
	return err
}

// lastEventID возвращает cursor из Last-Event-ID (или ?cursor=).
func lastEventID(r *http.Request) int {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("cursor")
	}
	if raw == "" {
		return 0
	}
	return int(mustParseInt(raw, 0))
}

func deploymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid deployment id")
		return uuid.Nil, false
	}
	return id, true
}

// mustParseInt парсит строку в int64, возвращает default при ошибке.
func mustParseInt(s string, def int64) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
