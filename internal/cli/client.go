package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// UserHeader — заголовок с именем инициатора.
const UserHeader = "X-Rollout-User"

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TemplateSummary — строка списка шаблонов.
type TemplateSummary struct {
	Name        string `json:"name"`
	FTNumber    string `json:"ft_number"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	UpdatedAt   string `json:"updated_at"`
}

// TemplateResponse — сохранённый шаблон.
type TemplateResponse struct {
	Name      string          `json:"name"`
	Template  json.RawMessage `json:"template"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// PlanResponse — волны шаблона.
type PlanResponse struct {
	FTNumber string  `json:"ft_number"`
	Steps    int     `json:"steps"`
	Waves    [][]int `json:"waves"`
}

// DeploymentAccepted — ответ на запуск.
type DeploymentAccepted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// StepResult — результат шага на хосте.
type StepResult struct {
	Order      int    `json:"order"`
	Type       string `json:"type"`
	Target     string `json:"target"`
	Status     string `json:"status"`
	ExitDetail string `json:"exit_detail,omitempty"`
}

// DeploymentResponse — run из API.
type DeploymentResponse struct {
	ID           string       `json:"id"`
	TemplateName string       `json:"template_name,omitempty"`
	FTNumber     string       `json:"ft_number"`
	InitiatedBy  string       `json:"initiated_by"`
	Status       string       `json:"status"`
	Completed    bool         `json:"completed"`
	Waves        [][]int      `json:"waves,omitempty"`
	Results      []StepResult `json:"results,omitempty"`
	Error        string       `json:"error,omitempty"`
	StartedAt    string       `json:"started_at,omitempty"`
	FinishedAt   string       `json:"finished_at,omitempty"`
	Duration     float64      `json:"duration_sec"`
	CreatedAt    string       `json:"created_at"`
}

// LogsResponse — pull-ответ с логом.
type LogsResponse struct {
	DeploymentID string   `json:"deployment_id"`
	FTNumber     string   `json:"ft_number"`
	Status       string   `json:"status"`
	Logs         []string `json:"logs"`
	StartedAt    string   `json:"started_at,omitempty"`
	Duration     float64  `json:"duration"`
	Completed    bool     `json:"completed"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TemplateName string `json:"template_name"`
	CronExpr     string `json:"cron_expr,omitempty"`
	IntervalSec  int    `json:"interval_sec,omitempty"`
	Timezone     string `json:"timezone"`
	Enabled      bool   `json:"enabled"`
	NextDueAt    string `json:"next_due_at,omitempty"`
	LastRunAt    string `json:"last_run_at,omitempty"`
	LastRunID    string `json:"last_run_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// --- Request types ---

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name         string `json:"name"`
	TemplateName string `json:"template_name"`
	CronExpr     string `json:"cron_expr,omitempty"`
	IntervalSec  int    `json:"interval_sec,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Errors ---

// APIError — ответ API с кодом ошибки.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportError — запрос не дошёл до API или ответ оборвался.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError проверяет, что ошибка сетевая (её имеет смысл повторить).
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNotFound проверяет, что API ответил 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// --- Client ---

// Client — HTTP-клиент для Rollout API.
type Client struct {
	http *resty.Client

	// stream — клиент без общего таймаута для SSE.
	stream *resty.Client
}

// NewClient создаёт клиент для API.
// user передаётся в X-Rollout-User (пустой — anonymous на стороне API).
func NewClient(baseURL, user string) *Client {
	newResty := func() *resty.Client {
		c := resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json")
		if user != "" {
			c.SetHeader(UserHeader, user)
		}
		return c
	}

	return &Client{
		http:   newResty().SetTimeout(30 * time.Second),
		stream: newResty(),
	}
}

// --- Templates ---

// ListTemplates возвращает сохранённые шаблоны.
func (c *Client) ListTemplates(ctx context.Context) ([]TemplateSummary, error) {
	var templates []TemplateSummary
	err := c.list(ctx, "/api/v1/templates", nil, &templates)
	return templates, err
}

// GetTemplate возвращает шаблон по имени.
func (c *Client) GetTemplate(ctx context.Context, name string) (*TemplateResponse, error) {
	var tpl TemplateResponse
	err := c.data(c.request(ctx).SetPathParam("name", name), http.MethodGet, "/api/v1/templates/{name}", &tpl)
	return &tpl, err
}

// SaveTemplate сохраняет шаблон (JSON) под именем.
func (c *Client) SaveTemplate(ctx context.Context, name string, body []byte) (*TemplateResponse, error) {
	var tpl TemplateResponse
	req := c.request(ctx).SetPathParam("name", name).SetBody(body)
	err := c.data(req, http.MethodPut, "/api/v1/templates/{name}", &tpl)
	return &tpl, err
}

// DeleteTemplate удаляет шаблон.
func (c *Client) DeleteTemplate(ctx context.Context, name string) error {
	return c.data(c.request(ctx).SetPathParam("name", name), http.MethodDelete, "/api/v1/templates/{name}", nil)
}

// PlanTemplate возвращает волны шаблона без запуска.
func (c *Client) PlanTemplate(ctx context.Context, body []byte) (*PlanResponse, error) {
	var plan PlanResponse
	err := c.data(c.request(ctx).SetBody(body), http.MethodPost, "/api/v1/templates/plan", &plan)
	return &plan, err
}

// DeployTemplate запускает сохранённый шаблон.
func (c *Client) DeployTemplate(ctx context.Context, name string) (*DeploymentAccepted, error) {
	var accepted DeploymentAccepted
	req := c.request(ctx).SetPathParam("name", name)
	err := c.data(req, http.MethodPost, "/api/v1/templates/{name}/deployments", &accepted)
	return &accepted, err
}

// --- Deployments ---

// SubmitDeployment запускает шаблон (JSON).
func (c *Client) SubmitDeployment(ctx context.Context, body []byte) (*DeploymentAccepted, error) {
	var accepted DeploymentAccepted
	err := c.data(c.request(ctx).SetBody(body), http.MethodPost, "/api/v1/deployments", &accepted)
	return &accepted, err
}

// ListDeployments возвращает run, новые первыми.
func (c *Client) ListDeployments(ctx context.Context, limit int) ([]DeploymentResponse, error) {
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var runs []DeploymentResponse
	err := c.list(ctx, "/api/v1/deployments", params, &runs)
	return runs, err
}

// GetDeployment возвращает run с результатами.
func (c *Client) GetDeployment(ctx context.Context, id string) (*DeploymentResponse, error) {
	var run DeploymentResponse
	err := c.data(c.request(ctx).SetPathParam("id", id), http.MethodGet, "/api/v1/deployments/{id}", &run)
	return &run, err
}

// CancelDeployment отменяет run.
func (c *Client) CancelDeployment(ctx context.Context, id string) (*DeploymentResponse, error) {
	var run DeploymentResponse
	err := c.data(c.request(ctx).SetPathParam("id", id), http.MethodPost, "/api/v1/deployments/{id}/cancel", &run)
	return &run, err
}

// GetLogs возвращает полный лог run (pull).
func (c *Client) GetLogs(ctx context.Context, id string) (*LogsResponse, error) {
	var logs LogsResponse
	var apiErr errorResponse

	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetResult(&logs).
		SetError(&apiErr).
		Get("/api/v1/deployments/{id}/logs")
	if err != nil {
		return nil, &TransportError{Op: "get logs", Err: err}
	}
	if resp.IsError() {
		return nil, toAPIError(resp.StatusCode(), &apiErr)
	}
	return &logs, nil
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если template не пустой — фильтрует.
func (c *Client) ListSchedules(ctx context.Context, template string) ([]ScheduleResponse, error) {
	params := map[string]string{}
	if template != "" {
		params["template"] = template
	}

	var schedules []ScheduleResponse
	err := c.list(ctx, "/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.data(c.request(ctx).SetBody(req), http.MethodPost, "/api/v1/schedules", &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.data(c.request(ctx).SetPathParam("id", id), http.MethodDelete, "/api/v1/schedules/{id}", nil)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	req := c.request(ctx).SetPathParam("id", id).SetBody(map[string]bool{"enabled": enabled})
	err := c.data(req, http.MethodPut, "/api/v1/schedules/{id}/enabled", &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
}

func (c *Client) list(ctx context.Context, path string, params map[string]string, result any) error {
	var lr listResponse
	var apiErr errorResponse

	resp, err := c.request(ctx).
		SetQueryParams(params).
		SetResult(&lr).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return &TransportError{Op: "GET " + path, Err: err}
	}
	if resp.IsError() {
		return toAPIError(resp.StatusCode(), &apiErr)
	}

	if len(lr.Data) == 0 {
		return nil
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) data(req *resty.Request, method, path string, result any) error {
	var dr dataResponse
	var apiErr errorResponse

	resp, err := req.SetResult(&dr).SetError(&apiErr).Execute(method, path)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	if resp.IsError() {
		return toAPIError(resp.StatusCode(), &apiErr)
	}

	// 204 No Content
	if resp.StatusCode() == http.StatusNoContent || result == nil {
		return nil
	}
	if len(dr.Data) == 0 {
		return fmt.Errorf("empty response from %s %s", method, path)
	}
	return json.Unmarshal(dr.Data, result)
}

func toAPIError(status int, er *errorResponse) error {
	return &APIError{
		Status:  status,
		Code:    er.Error.Code,
		Message: er.Error.Message,
	}
}
