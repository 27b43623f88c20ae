package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/orchestrator"
)

// ListTemplates возвращает список сохранённых шаблонов.
// GET /api/v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TemplateSummary, len(templates))
	for i := range templates {
		result[i] = TemplateSummaryFromDomain(templates[i])
	}

	List(w, result, len(result))
}

// GetTemplate возвращает шаблон по имени.
// GET /api/v1/templates/{name}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := templateName(w, r)
	if !ok {
		return
	}

	tpl, err := h.templates.GetTemplate(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "template not found") {
		return
	}

	Success(w, TemplateFromDomain(tpl))
}

// SaveTemplate сохраняет шаблон под именем (upsert).
// PUT /api/v1/templates/{name}
//
// Тело — шаблон в JSON или YAML. Шаблон проверяется целиком (включая граф)
// до сохранения, невалидный шаблон не сохраняется.
func (h *Handler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := templateName(w, r)
	if !ok {
		return
	}

	tpl, ok := h.readTemplate(w, r)
	if !ok {
		return
	}

	if _, err := h.deployments.Plan(tpl); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	stored := &domain.Template{Name: name, Template: *tpl}
	if err := h.templates.SaveTemplate(r.Context(), stored); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("template saved", "name", name, "ft_number", tpl.FTNumber())
	Success(w, TemplateFromDomain(stored))
}

// DeleteTemplate удаляет шаблон.
// DELETE /api/v1/templates/{name}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := templateName(w, r)
	if !ok {
		return
	}

	err := h.templates.DeleteTemplate(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "template not found") {
		return
	}

	NoContent(w)
}

// PlanTemplate возвращает волны шаблона без запуска.
// POST /api/v1/templates/plan
func (h *Handler) PlanTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := h.readTemplate(w, r)
	if !ok {
		return
	}

	waves, err := h.deployments.Plan(tpl)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, PlanFromWaves(tpl, waves))
}

// DeployTemplate запускает сохранённый шаблон.
// POST /api/v1/templates/{name}/deployments
func (h *Handler) DeployTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := templateName(w, r)
	if !ok {
		return
	}

	run, err := h.deployments.SubmitTemplate(r.Context(), name, orchestrator.SubmitOptions{
		InitiatedBy: userFrom(r),
	})
	if HandleRepoError(w, h.logger, err, "template not found") {
		return
	}

	Accepted(w, DeploymentAccepted{RunID: run.ID, Status: run.Status})
}

// readTemplate читает шаблон из тела запроса.
// При ошибке ответ уже отправлен.
func (h *Handler) readTemplate(w http.ResponseWriter, r *http.Request) (*domain.DeploymentTemplate, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			BadRequest(w, "request body too large")
			return nil, false
		}
		BadRequest(w, "failed to read request body")
		return nil, false
	}

	tpl, err := engine.ParseTemplate(data)
	if err != nil {
		InvalidTemplate(w, err.Error())
		return nil, false
	}
	return tpl, true
}

func templateName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" || strings.ContainsAny(name, "/\\") {
		BadRequest(w, "invalid template name")
		return "", false
	}
	return name, true
}
