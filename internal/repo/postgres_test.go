package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres поднимает PostgreSQL в контейнере.
// Тест пропускается с -short и там, где Docker недоступен.
func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "rollout",
			"POSTGRES_PASSWORD": "rollout",
			"POSTGRES_DB":       "rollout_test",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("skipping postgres container test: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://rollout:rollout@%s:%s/rollout_test?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	store := NewPostgres(pool)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgres_Integration(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	// --- Templates ---
	tpl := &domain.Template{
		Name: "release",
		Template: domain.DeploymentTemplate{
			Metadata: domain.TemplateMetadata{FTNumber: "FT-1042"},
			Steps: []domain.Step{{
				Order:     1,
				Type:      domain.StepTypeServiceRestart,
				TargetVMs: []string{"vm-a"},
				Spec:      domain.ServiceControl{Service: "app.service", Operation: domain.ServiceRestart},
			}},
		},
	}
	if err := store.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	got, err := store.GetTemplate(ctx, "release")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if _, ok := got.Template.Steps[0].Spec.(domain.ServiceControl); !ok {
		t.Errorf("step variant lost: %#v", got.Template.Steps[0].Spec)
	}
	list, err := store.ListTemplates(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("expected 1 template, got %d (%v)", len(list), err)
	}

	// --- Runs ---
	run := domain.NewRun("FT-1042", "release", "alice")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run.MarkRunning()
	run.Log = []string{"[10:00:00] Deployment started"}
	run.MarkFailed("step 1 (service_restart) failed on vm-a: inactive")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}
	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != domain.RunStatusFailed || stored.Error != run.Error || len(stored.Log) != 1 {
		t.Errorf("unexpected stored run: %+v", stored)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("expected 1 run, got %d (%v)", len(runs), err)
	}

	// --- Schedules ---
	now := time.Now().UTC().Truncate(time.Microsecond)
	due := now.Add(-time.Minute)
	s := &domain.Schedule{
		ID:           uuid.New(),
		Name:         "nightly",
		TemplateName: "release",
		IntervalSec:  3600,
		Timezone:     "UTC",
		Enabled:      true,
		NextDueAt:    &due,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateSchedule(ctx, s); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	dup := *s
	dup.ID = uuid.New()
	if err := store.CreateSchedule(ctx, &dup); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	dueList, err := store.ListDueSchedules(ctx, now, 10)
	if err != nil || len(dueList) != 1 {
		t.Fatalf("expected 1 due schedule, got %d (%v)", len(dueList), err)
	}
	dueList[0].RecordRun(run.ID, now.Add(time.Hour))
	if err := store.UpdateSchedule(ctx, &dueList[0]); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if dueList, _ = store.ListDueSchedules(ctx, now, 10); len(dueList) != 0 {
		t.Errorf("schedule should no longer be due, got %d", len(dueList))
	}

	if err := store.DeleteSchedule(ctx, s.ID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if _, err := store.GetSchedule(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteTemplate(ctx, "release"); err != nil {
		t.Fatalf("delete template: %v", err)
	}
}

func TestScheduleFilter_Normalize(t *testing.T) {
	f := ScheduleFilter{Limit: 0, Offset: -5}.Normalize()
	if f.Limit != DefaultListLimit || f.Offset != 0 {
		t.Errorf("unexpected defaults: %+v", f)
	}

	f = ScheduleFilter{Limit: 7, Offset: 3}.Normalize()
	if f.Limit != 7 || f.Offset != 3 {
		t.Errorf("explicit values should be kept: %+v", f)
	}
}
