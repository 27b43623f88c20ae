package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func serviceStep(order int, targets ...string) *domain.Step {
	return &domain.Step{
		Order:     order,
		Type:      domain.StepTypeServiceRestart,
		TargetVMs: targets,
		Spec:      domain.ServiceControl{Service: "app", Operation: domain.ServiceRestart},
	}
}

func newExecutor(runner Runner, timeout time.Duration) *Executor {
	reg := NewRegistry()
	reg.Register(domain.StepTypeServiceRestart, runner)
	return New(Config{Registry: reg, DefaultTimeout: timeout})
}

// --- Targets Tests ---

func TestTargets(t *testing.T) {
	sql := &domain.Step{Order: 1, Type: domain.StepTypeSQLDeployment}
	if got := Targets(sql); len(got) != 1 || got[0] != domain.TargetNone {
		t.Errorf("hostless sql step should run once on n/a, got %v", got)
	}

	sql.TargetVMs = []string{"db-bastion"}
	if got := Targets(sql); len(got) != 1 || got[0] != "db-bastion" {
		t.Errorf("sql step with host should use it, got %v", got)
	}

	step := serviceStep(2, "vm-a", "vm-b")
	if got := Targets(step); len(got) != 2 {
		t.Errorf("expected one invocation per target, got %v", got)
	}
}

func TestTimeout_StepOverride(t *testing.T) {
	e := New(Config{})
	step := serviceStep(1, "vm-a")

	if e.Timeout(step) != 300*time.Second {
		t.Errorf("expected default 300s, got %s", e.Timeout(step))
	}

	step.TimeoutSec = 5
	if e.Timeout(step) != 5*time.Second {
		t.Errorf("expected 5s, got %s", e.Timeout(step))
	}
}

// --- Execute Tests ---

func TestExecute_Success(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, inv Invocation, emit Emit) (string, error) {
		emit("restarting app")
		return "app is active", nil
	})
	e := newExecutor(runner, time.Second)
	sink := &lineSink{}

	res, err := e.Execute(context.Background(), Invocation{RunID: uuid.New(), Step: serviceStep(1, "vm-a"), Target: "vm-a"}, sink.emit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != domain.StepStatusSuccess {
		t.Errorf("expected success, got %s", res.Status)
	}
	if res.ExitDetail != "app is active" {
		t.Errorf("unexpected detail %q", res.ExitDetail)
	}
	if res.StartedAt == nil || res.FinishedAt == nil {
		t.Error("timestamps should be set")
	}
	if lines := sink.all(); len(lines) != 1 || lines[0] != "vm-a: restarting app" {
		t.Errorf("unexpected lines %v", lines)
	}
}

func TestExecute_Failure(t *testing.T) {
	boom := errors.New("exit status 1")
	runner := RunnerFunc(func(context.Context, Invocation, Emit) (string, error) {
		return "systemctl restart app", boom
	})
	e := newExecutor(runner, time.Second)

	res, err := e.Execute(context.Background(), Invocation{Step: serviceStep(1, "vm-b"), Target: "vm-b"}, nil)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Order != 1 || execErr.Target != "vm-b" {
		t.Errorf("unexpected error fields %+v", execErr)
	}
	if !errors.Is(err, boom) {
		t.Error("ExecutionError should wrap runner error")
	}
	if res.Status != domain.StepStatusFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
	if !strings.Contains(res.ExitDetail, "exit status 1") {
		t.Errorf("detail should carry diagnostic, got %q", res.ExitDetail)
	}
}

func TestExecute_Timeout(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _ Invocation, _ Emit) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := newExecutor(runner, 20*time.Millisecond)

	res, err := e.Execute(context.Background(), Invocation{Step: serviceStep(1, "vm-a"), Target: "vm-a"}, nil)

	var tErr *TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrStepTimeout) {
		t.Error("expected errors.Is ErrStepTimeout")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Error("timeout should be reported as ExecutionError")
	}
	if res.Status != domain.StepStatusFailed {
		t.Errorf("timeout must be a failure, got %s", res.Status)
	}
}

func TestExecute_TimeoutWithStuckRunner(t *testing.T) {
	release := make(chan struct{})
	runner := RunnerFunc(func(_ context.Context, _ Invocation, emit Emit) (string, error) {
		// Runner игнорирует ctx.
		<-release
		emit("late line")
		return "late", nil
	})
	e := newExecutor(runner, 20*time.Millisecond)
	sink := &lineSink{}

	start := time.Now()
	_, err := e.Execute(context.Background(), Invocation{Step: serviceStep(1, "vm-a"), Target: "vm-a"}, sink.emit)
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Execute should return on timeout without waiting for runner")
	}

	close(release)
	time.Sleep(50 * time.Millisecond)

	if lines := sink.all(); len(lines) != 0 {
		t.Errorf("lines emitted after return must be dropped, got %v", lines)
	}
}

func TestExecute_UnknownType(t *testing.T) {
	e := New(Config{})
	step := &domain.Step{Order: 3, Type: domain.StepTypeHelmUpgrade, TargetVMs: []string{"k8s"}}

	res, err := e.Execute(context.Background(), Invocation{Step: step, Target: "k8s"}, nil)
	if !errors.Is(err, ErrUnknownStepType) {
		t.Errorf("expected ErrUnknownStepType, got %v", err)
	}
	if res.Status != domain.StepStatusFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
}

// --- Registry Tests ---

func TestRegistry_Types(t *testing.T) {
	reg := NewRegistry()
	noop := RunnerFunc(func(context.Context, Invocation, Emit) (string, error) { return "", nil })
	reg.Register(domain.StepTypeServiceRestart, noop)
	reg.Register(domain.StepTypeFileCopy, noop)

	types := reg.Types()
	if len(types) != 2 || types[0] != domain.StepTypeFileCopy {
		t.Errorf("unexpected types %v", types)
	}
	if _, err := reg.Get(domain.StepTypeHelmUpgrade); !errors.Is(err, ErrUnknownStepType) {
		t.Errorf("expected ErrUnknownStepType, got %v", err)
	}
}
