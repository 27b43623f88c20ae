package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/repo"
	"github.com/shaiso/Rollout/internal/repo/sqlite"
)

const restartTemplateJSON = `{
	"metadata": {"ft_number": "FT-1042"},
	"steps": [
		{"order": 1, "type": "service_restart", "targetVMs": ["vm-a"], "service": "app.service", "operation": "restart"}
	]
}`

const twoStepTemplateYAML = `
metadata:
  ft_number: FT-2001
  description: nightly
steps:
  - order: 1
    type: service_restart
    targetVMs: [vm-a]
    service: app.service
    operation: stop
  - order: 2
    type: service_restart
    targetVMs: [vm-a]
    service: app.service
    operation: start
dependencies:
  - step: 2
    dependsOn: [1]
`

const cyclicTemplateJSON = `{
	"metadata": {"ft_number": "FT-1"},
	"steps": [
		{"order": 1, "type": "service_restart", "targetVMs": ["vm-a"], "service": "a", "operation": "restart"},
		{"order": 2, "type": "service_restart", "targetVMs": ["vm-a"], "service": "b", "operation": "restart"}
	],
	"dependencies": [
		{"step": 1, "dependsOn": [2]},
		{"step": 2, "dependsOn": [1]}
	]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okRunner(_ context.Context, _ executor.Invocation, emit executor.Emit) (string, error) {
	emit("restarted")
	return "active", nil
}

type testEnv struct {
	server *httptest.Server
	orch   *orchestrator.Orchestrator
	store  *sqlite.Store
}

const inventoryJSON = `{
	"vms": [{"name": "vm-a", "ip": "10.0.0.1"}, {"name": "vm-b", "ip": "10.0.0.2", "port": 2222}],
	"playbooks": [{"name": "nginx", "path": "playbooks/nginx.yml"}],
	"systemd_services": ["hazelcast", "kafka", "zookeeper"]
}`

const dbInventoryYAML = `
db_connections:
  - db_connection: main
    hostname: db1
    port: 5432
    db_name: app
db_users: [deployer, postgres]
`

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()

	dir := t.TempDir()
	hosts := filepath.Join(dir, "inventory.json")
	db := filepath.Join(dir, "db_inventory.yaml")
	writeTestFile(t, hosts, inventoryJSON)
	writeTestFile(t, db, dbInventoryYAML)

	inv, err := inventory.Load(hosts, db)
	if err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return inv
}

// testFilesRoot: FT-1 с SQL и конфигом, FT-2 только с архивом.
func testFilesRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "FT-1", "01_schema.sql"), "create table t (id int);")
	writeTestFile(t, filepath.Join(root, "FT-1", "app.conf"), "port=8080")
	writeTestFile(t, filepath.Join(root, "FT-2", "app.jar"), "jar")
	return root
}

func newTestEnv(t *testing.T, runner executor.RunnerFunc) *testEnv {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := executor.NewRegistry()
	reg.Register(domain.StepTypeServiceRestart, runner)

	orch := orchestrator.New(orchestrator.Config{
		Executor: executor.New(executor.Config{
			Registry:       reg,
			DefaultTimeout: 5 * time.Second,
			Logger:         discardLogger(),
		}),
		Store:     store,
		Templates: store,
		Logger:    discardLogger(),
	})
	t.Cleanup(orch.Stop)

	h := NewHandler(Config{
		Deployments: orch,
		Templates:   store,
		Schedules:   store,
		Inventory:       testInventory(t),
		FilesRoot:       testFilesRoot(t),
		RefreshInterval: 20 * time.Millisecond,
		Logger:          discardLogger(),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, orch: orch, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()

	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, body)
	}
}

func (e *testEnv) submit(t *testing.T, body string) uuid.UUID {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/v1/deployments", body, UserHeader, "alice")
	expectStatus(t, resp, http.StatusAccepted)

	accepted := decode[struct {
		Data DeploymentAccepted `json:"data"`
	}](t, resp)
	if accepted.Data.RunID == uuid.Nil {
		t.Fatal("run_id should be set")
	}
	return accepted.Data.RunID
}

func (e *testEnv) wait(t *testing.T, id uuid.UUID) *domain.Run {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := e.orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait run: %v", err)
	}
	return run
}

// readSSE читает поток до закрытия и возвращает пары (id, data).
func readSSE(t *testing.T, body io.Reader) ([]int, []sseEvent) {
	t.Helper()

	var (
		ids    []int
		events []sseEvent
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			var id int
			fmt.Sscanf(line, "id: %d", &id)
			ids = append(ids, id)
		case strings.HasPrefix(line, "data: "):
			var ev sseEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad sse payload %q: %v", line, err)
			}
			events = append(events, ev)
		}
	}
	return ids, events
}

// --- Deployment Tests ---

func TestDeployment_SubmitAndPullLogs(t *testing.T) {
	env := newTestEnv(t, okRunner)

	id := env.submit(t, restartTemplateJSON)
	env.wait(t, id)

	resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+id.String()+"/logs", "")
	expectStatus(t, resp, http.StatusOK)

	logs := decode[LogsResponse](t, resp)
	if logs.DeploymentID != id {
		t.Errorf("expected deployment_id %s, got %s", id, logs.DeploymentID)
	}
	if logs.FTNumber != "FT-1042" {
		t.Errorf("expected FT-1042, got %q", logs.FTNumber)
	}
	if logs.Status != domain.RunStatusSuccess || !logs.Completed {
		t.Errorf("expected completed success, got %s completed=%v", logs.Status, logs.Completed)
	}
	if len(logs.Logs) == 0 || logs.StartedAt == nil {
		t.Errorf("expected log lines and started_at, got %+v", logs)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/deployments/"+id.String(), "")
	expectStatus(t, resp, http.StatusOK)

	got := decode[struct {
		Data DeploymentResponse `json:"data"`
	}](t, resp).Data
	if got.InitiatedBy != "alice" {
		t.Errorf("expected initiated_by alice, got %q", got.InitiatedBy)
	}
	if got.Status != domain.RunStatusSuccess || !got.Completed {
		t.Errorf("deployment and logs should agree, got %s completed=%v", got.Status, got.Completed)
	}
	if len(got.Results) != 1 || got.Results[0].Target != "vm-a" {
		t.Errorf("expected one result for vm-a, got %+v", got.Results)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/deployments?limit=10", "")
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Data  []DeploymentResponse `json:"data"`
		Total int                  `json:"total"`
	}](t, resp)
	if list.Total != 1 || list.Data[0].ID != id {
		t.Errorf("expected the run in the list, got %+v", list)
	}
}

func TestDeployment_DefaultUser(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodPost, "/api/v1/deployments", restartTemplateJSON)
	expectStatus(t, resp, http.StatusAccepted)
	accepted := decode[struct {
		Data DeploymentAccepted `json:"data"`
	}](t, resp)

	run := env.wait(t, accepted.Data.RunID)
	if run.InitiatedBy != "anonymous" {
		t.Errorf("expected anonymous, got %q", run.InitiatedBy)
	}
}

func TestDeployment_InvalidTemplateRejected(t *testing.T) {
	env := newTestEnv(t, okRunner)

	tests := []struct {
		name string
		body string
	}{
		{"cycle", cyclicTemplateJSON},
		{"malformed", `{"metadata":`},
		{"empty", ``},
		{"no steps", `{"metadata": {"ft_number": "FT-1"}, "steps": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/deployments", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)

			errResp := decode[ErrorResponse](t, resp)
			if errResp.Error.Code != ErrCodeInvalidTemplate {
				t.Errorf("expected %s, got %s", ErrCodeInvalidTemplate, errResp.Error.Code)
			}
		})
	}

	runs, err := env.orch.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("rejected templates must not register runs, got %d", len(runs))
	}
}

func TestDeployment_NotFound(t *testing.T) {
	env := newTestEnv(t, okRunner)

	missing := uuid.New().String()
	for _, path := range []string{
		"/api/v1/deployments/" + missing,
		"/api/v1/deployments/" + missing + "/logs",
		"/api/v1/deployments/" + missing + "/events",
	} {
		resp := env.do(t, http.MethodGet, path, "")
		expectStatus(t, resp, http.StatusNotFound)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/deployments/not-a-uuid", "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestDeployment_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	runner := func(_ context.Context, _ executor.Invocation, _ executor.Emit) (string, error) {
		started <- struct{}{}
		<-release
		return "ok", nil
	}
	env := newTestEnv(t, runner)

	id := env.submit(t, twoStepTemplateYAML)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first invocation never started")
	}

	resp := env.do(t, http.MethodPost, "/api/v1/deployments/"+id.String()+"/cancel", "", UserHeader, "bob")
	expectStatus(t, resp, http.StatusOK)

	cancelled := decode[struct {
		Data DeploymentResponse `json:"data"`
	}](t, resp).Data
	if cancelled.Status != domain.RunStatusFailed || cancelled.Error != "cancelled by bob" {
		t.Errorf("expected failed by bob, got %s %q", cancelled.Status, cancelled.Error)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/deployments/"+id.String()+"/cancel", "")
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	close(release)
	final := env.wait(t, id)
	if _, ok := final.Result(2, "vm-a"); ok {
		t.Error("step 2 should never be dispatched after cancel")
	}
}

// --- SSE Tests ---

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	release := make(chan struct{})
	runner := func(_ context.Context, _ executor.Invocation, emit executor.Emit) (string, error) {
		<-release
		emit("restarted")
		return "ok", nil
	}
	env := newTestEnv(t, runner)

	id := env.submit(t, restartTemplateJSON)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/deployments/"+id.String()+"/logs", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	close(release)
	ids, events := readSSE(t, resp.Body)

	if len(events) < 2 {
		t.Fatalf("expected log events and a final event, got %+v", events)
	}
	last := events[len(events)-1]
	if last.Status != domain.RunStatusSuccess || last.Message != "Deployment success." {
		t.Errorf("unexpected final event %+v", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Status != "" {
			t.Errorf("only the final event carries a status, got %+v", ev)
		}
	}
	for i := 1; i < len(ids)-1; i++ {
		if ids[i] != ids[i-1]+1 {
			t.Errorf("event ids should be consecutive, got %v", ids)
			break
		}
	}

	run := env.wait(t, id)
	if len(events)-1 != len(run.Log) {
		t.Errorf("expected %d log events, got %d", len(run.Log), len(events)-1)
	}
}

func TestEvents_ResumeFromLastEventID(t *testing.T) {
	env := newTestEnv(t, okRunner)

	id := env.submit(t, restartTemplateJSON)
	run := env.wait(t, id)
	if len(run.Log) < 2 {
		t.Fatalf("expected several log lines, got %v", run.Log)
	}

	cursor := len(run.Log) - 1
	resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+id.String()+"/events", "",
		"Last-Event-ID", fmt.Sprint(cursor))
	expectStatus(t, resp, http.StatusOK)

	ids, events := readSSE(t, resp.Body)
	if len(events) != 2 {
		t.Fatalf("expected one remaining line and the final event, got %+v", events)
	}
	if events[0].Message != run.Log[len(run.Log)-1] {
		t.Errorf("expected last log line, got %q", events[0].Message)
	}
	if ids[0] != len(run.Log) {
		t.Errorf("expected id %d, got %d", len(run.Log), ids[0])
	}
}

func TestEvents_FromStoredSnapshot(t *testing.T) {
	env := newTestEnv(t, okRunner)

	// Run завершён в другом процессе: в памяти его нет, только снимок.
	run := domain.NewRun("FT-7", "", "carol")
	run.MarkRunning()
	run.Log = []string{"[10:00:00] line one", "[10:00:01] line two"}
	run.MarkFailed("step 1 failed on vm-b")
	run.LogComplete = true
	if err := env.store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+run.ID.String()+"/events", "")
	expectStatus(t, resp, http.StatusOK)

	_, events := readSSE(t, resp.Body)
	if len(events) != 3 {
		t.Fatalf("expected 2 lines and the final event, got %+v", events)
	}
	if events[2].Status != domain.RunStatusFailed || events[2].Message != "Deployment failed." {
		t.Errorf("unexpected final event %+v", events[2])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/deployments/"+run.ID.String()+"/logs", "")
	expectStatus(t, resp, http.StatusOK)
	logs := decode[LogsResponse](t, resp)
	if !logs.Completed || len(logs.Logs) != 2 || logs.FTNumber != "FT-7" {
		t.Errorf("unexpected pull response %+v", logs)
	}
}

// --- Template Tests ---

func TestTemplates_CRUDAndDeploy(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodPut, "/api/v1/templates/nightly", twoStepTemplateYAML)
	expectStatus(t, resp, http.StatusOK)

	saved := decode[struct {
		Data TemplateResponse `json:"data"`
	}](t, resp).Data
	if saved.Name != "nightly" || saved.Template.FTNumber() != "FT-2001" {
		t.Errorf("unexpected saved template %+v", saved)
	}
	if saved.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}

	resp = env.do(t, http.MethodGet, "/api/v1/templates", "")
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Data  []TemplateSummary `json:"data"`
		Total int               `json:"total"`
	}](t, resp)
	if list.Total != 1 || list.Data[0].Steps != 2 || list.Data[0].Description != "nightly" {
		t.Errorf("unexpected list %+v", list)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/templates/nightly", "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[struct {
		Data TemplateResponse `json:"data"`
	}](t, resp).Data
	if ctl, ok := got.Template.Steps[0].Spec.(domain.ServiceControl); !ok || ctl.Operation != domain.ServiceStop {
		t.Errorf("expected stop ServiceControl, got %#v", got.Template.Steps[0].Spec)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/templates/nightly/deployments", "", UserHeader, "scheduler-bot")
	expectStatus(t, resp, http.StatusAccepted)
	accepted := decode[struct {
		Data DeploymentAccepted `json:"data"`
	}](t, resp)

	run := env.wait(t, accepted.Data.RunID)
	if run.TemplateName != "nightly" || run.InitiatedBy != "scheduler-bot" {
		t.Errorf("unexpected run origin %q by %q", run.TemplateName, run.InitiatedBy)
	}
	if run.Status != domain.RunStatusSuccess {
		t.Errorf("expected success, got %s: %s", run.Status, run.Error)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/templates/nightly", "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = env.do(t, http.MethodGet, "/api/v1/templates/nightly", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodDelete, "/api/v1/templates/nightly", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodPost, "/api/v1/templates/nightly/deployments", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestTemplates_InvalidNotSaved(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodPut, "/api/v1/templates/broken", cyclicTemplateJSON)
	expectStatus(t, resp, http.StatusBadRequest)

	if _, err := env.store.GetTemplate(context.Background(), "broken"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("invalid template must not be stored, got %v", err)
	}
}

func TestTemplates_Plan(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodPost, "/api/v1/templates/plan", twoStepTemplateYAML)
	expectStatus(t, resp, http.StatusOK)

	plan := decode[struct {
		Data PlanResponse `json:"data"`
	}](t, resp).Data
	if plan.FTNumber != "FT-2001" || plan.Steps != 2 {
		t.Errorf("unexpected plan header %+v", plan)
	}
	if len(plan.Waves) != 2 || plan.Waves[0][0] != 1 || plan.Waves[1][0] != 2 {
		t.Errorf("expected [[1] [2]], got %v", plan.Waves)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/templates/plan", cyclicTemplateJSON)
	expectStatus(t, resp, http.StatusBadRequest)
	if msg := decode[ErrorResponse](t, resp).Error.Message; !strings.Contains(msg, "cycl") {
		t.Errorf("expected cycle message, got %q", msg)
	}

	runs, _ := env.orch.List(context.Background(), 0)
	if len(runs) != 0 {
		t.Errorf("plan must not start runs, got %d", len(runs))
	}
}

// --- Schedule Tests ---

func TestSchedules_Lifecycle(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodPost, "/api/v1/schedules", `{"name":"nightly","template_name":"missing","interval_sec":60}`)
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodPut, "/api/v1/templates/nightly", twoStepTemplateYAML)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/api/v1/schedules", `{"name":"nightly","template_name":"nightly"}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/v1/schedules", `{"name":"nightly","template_name":"nightly","cron_expr":"not a cron"}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/v1/schedules", `{"name":"nightly","template_name":"nightly","cron_expr":"0 3 * * *","timezone":"Europe/Moscow"}`)
	expectStatus(t, resp, http.StatusCreated)

	created := decode[struct {
		Data ScheduleResponse `json:"data"`
	}](t, resp).Data
	if !created.Enabled || created.NextDueAt == nil || !created.NextDueAt.After(time.Now()) {
		t.Errorf("expected enabled schedule with future next_due_at, got %+v", created)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/schedules", `{"name":"nightly","template_name":"nightly","interval_sec":60}`)
	expectStatus(t, resp, http.StatusConflict)

	path := "/api/v1/schedules/" + created.ID.String()

	resp = env.do(t, http.MethodPut, path+"/enabled", `{"enabled":false}`)
	expectStatus(t, resp, http.StatusOK)
	disabled := decode[struct {
		Data ScheduleResponse `json:"data"`
	}](t, resp).Data
	if disabled.Enabled {
		t.Error("schedule should be disabled")
	}

	resp = env.do(t, http.MethodGet, "/api/v1/schedules?enabled=false", "")
	expectStatus(t, resp, http.StatusOK)
	if total := decode[ListResponse](t, resp).Total; total != 1 {
		t.Errorf("expected 1 disabled schedule, got %d", total)
	}

	resp = env.do(t, http.MethodPut, path, `{"cron_expr":"","interval_sec":300}`)
	expectStatus(t, resp, http.StatusOK)
	updated := decode[struct {
		Data ScheduleResponse `json:"data"`
	}](t, resp).Data
	if updated.IntervalSec != 300 || updated.CronExpr != "" {
		t.Errorf("expected interval schedule, got %+v", updated)
	}

	resp = env.do(t, http.MethodPut, path, `{"timezone":"Mars/Olympus"}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodDelete, path, "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = env.do(t, http.MethodGet, path, "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodGet, "/api/v1/schedules/nope", "")
	expectStatus(t, resp, http.StatusBadRequest)
}

// --- Inventory Tests ---

func TestInventory_Lists(t *testing.T) {
	env := newTestEnv(t, okRunner)

	tests := []struct {
		path  string
		total int
	}{
		{"/api/v1/inventory/vms", 2},
		{"/api/v1/inventory/playbooks", 1},
		{"/api/v1/inventory/db-connections", 1},
		{"/api/v1/inventory/helm-releases", 0},
		{"/api/v1/inventory/db-users", 2},
		{"/api/v1/inventory/services", 3},
	}

	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, tt.path, "")
		expectStatus(t, resp, http.StatusOK)
		if total := decode[ListResponse](t, resp).Total; total != tt.total {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.total, total)
		}
	}
}

func TestInventory_DBUsersAndServices(t *testing.T) {
	env := newTestEnv(t, okRunner)

	resp := env.do(t, http.MethodGet, "/api/v1/inventory/db-users", "")
	expectStatus(t, resp, http.StatusOK)
	users := decode[struct {
		Data []string `json:"data"`
	}](t, resp)
	if want := []string{"deployer", "postgres"}; !reflect.DeepEqual(users.Data, want) {
		t.Errorf("expected %v, got %v", want, users.Data)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/inventory/services", "")
	expectStatus(t, resp, http.StatusOK)
	services := decode[struct {
		Data []string `json:"data"`
	}](t, resp)
	if want := []string{"hazelcast", "kafka", "zookeeper"}; !reflect.DeepEqual(services.Data, want) {
		t.Errorf("expected %v, got %v", want, services.Data)
	}
}

// --- FT Tests ---

func TestFTs_List(t *testing.T) {
	env := newTestEnv(t, okRunner)

	tests := []struct {
		path string
		want []string
	}{
		{"/api/v1/fts", []string{"FT-1", "FT-2"}},
		{"/api/v1/fts?type=sql", []string{"FT-1"}},
		{"/api/v1/fts/FT-1/files", []string{"01_schema.sql", "app.conf"}},
		{"/api/v1/fts/FT-1/files?type=sql", []string{"01_schema.sql"}},
		{"/api/v1/fts/FT-2/files?type=sql", []string{}},
		{"/api/v1/fts/FT-404/files", []string{}},
	}

	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, tt.path, "")
		expectStatus(t, resp, http.StatusOK)
		got := decode[struct {
			Data  []string `json:"data"`
			Total int      `json:"total"`
		}](t, resp)
		if !reflect.DeepEqual(got.Data, tt.want) || got.Total != len(tt.want) {
			t.Errorf("%s: expected %v, got %v (total %d)", tt.path, tt.want, got.Data, got.Total)
		}
	}
}

func TestFTs_BadRequests(t *testing.T) {
	env := newTestEnv(t, okRunner)

	for _, path := range []string{
		"/api/v1/fts?type=jar",
		"/api/v1/fts/FT-1/files?type=exe",
		"/api/v1/fts/..%5C..%5Cetc/files",
	} {
		resp := env.do(t, http.MethodGet, path, "")
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

// --- Response Tests ---

func TestHandleRepoError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"not found", repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"exists", repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
		{"run not found", orchestrator.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"finished", orchestrator.ErrRunFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{"stopped", orchestrator.ErrOrchestratorStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"template", &engine.CycleError{Cycle: []int{1, 2, 1}}, http.StatusBadRequest, ErrCodeInvalidTemplate},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if !HandleRepoError(rec, discardLogger(), tt.err, "") {
				t.Fatal("expected error to be handled")
			}
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, resp.Error.Code)
			}
		})
	}

	if HandleRepoError(httptest.NewRecorder(), discardLogger(), nil, "") {
		t.Error("nil error should not be handled")
	}
}

// --- Middleware Tests ---

func TestRecovery(t *testing.T) {
	handler := Chain(Recovery(discardLogger()), Logging(discardLogger()))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)

	NotFound(rw, "nope")

	if rw.status != http.StatusNotFound {
		t.Errorf("expected captured 404, got %d", rw.status)
	}
	if wrap(rw) != rw {
		t.Error("wrap should reuse an existing wrapper")
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("NOT_FOUND")) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
