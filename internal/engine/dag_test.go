package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/Rollout/internal/domain"
)

func mkSteps(orders ...int) []domain.Step {
	steps := make([]domain.Step, 0, len(orders))
	for _, o := range orders {
		steps = append(steps, domain.Step{
			Order:     o,
			Type:      domain.StepTypeServiceRestart,
			TargetVMs: []string{"vm-a"},
			Spec:      domain.ServiceControl{Service: "app", Operation: domain.ServiceRestart},
		})
	}
	return steps
}

func dep(step int, on ...int) domain.DependencyEdge {
	return domain.DependencyEdge{Step: step, DependsOn: on}
}

// checkWaves проверяет, что каждый шаг встречается ровно один раз
// и лежит строго позже всех своих зависимостей.
func checkWaves(t *testing.T, steps []domain.Step, edges []domain.DependencyEdge, waves []Wave) {
	t.Helper()

	waveOf := make(map[int]int)
	for i, w := range waves {
		for _, o := range w {
			if _, dup := waveOf[o]; dup {
				t.Fatalf("step %d appears in more than one wave", o)
			}
			waveOf[o] = i
		}
	}
	if len(waveOf) != len(steps) {
		t.Fatalf("expected %d steps in waves, got %d", len(steps), len(waveOf))
	}
	for _, e := range edges {
		for _, d := range e.DependsOn {
			if waveOf[e.Step] <= waveOf[d] {
				t.Errorf("step %d (wave %d) must be after %d (wave %d)", e.Step, waveOf[e.Step], d, waveOf[d])
			}
		}
	}
}

// --- Resolve Tests ---

func TestResolve_Chain(t *testing.T) {
	steps := mkSteps(1, 2)
	edges := []domain.DependencyEdge{dep(2, 1)}

	waves, err := Resolve(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Wave{{1}, {2}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
}

func TestResolve_IndependentStepsShareWave(t *testing.T) {
	steps := mkSteps(3, 1, 2)

	waves, err := Resolve(steps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Wave{{1, 2, 3}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
}

func TestResolve_Diamond(t *testing.T) {
	// 1 → 2 → 4
	// 1 → 3 → 4
	steps := mkSteps(1, 2, 3, 4)
	edges := []domain.DependencyEdge{dep(2, 1), dep(3, 1), dep(4, 2, 3)}

	waves, err := Resolve(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Wave{{1}, {2, 3}, {4}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
	checkWaves(t, steps, edges, waves)
}

func TestResolve_LongestPathLayering(t *testing.T) {
	// 3 зависит от 1 напрямую и через 2 — должен оказаться после 2.
	steps := mkSteps(1, 2, 3)
	edges := []domain.DependencyEdge{dep(2, 1), dep(3, 1, 2)}

	waves, err := Resolve(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Wave{{1}, {2}, {3}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected %v, got %v", want, waves)
	}
}

func TestResolve_ParallelHintIgnored(t *testing.T) {
	steps := mkSteps(1, 2)
	edges := []domain.DependencyEdge{
		{Step: 1, Parallel: true},
		{Step: 2, DependsOn: []int{1}, Parallel: true},
	}

	waves, err := Resolve(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 2 {
		t.Errorf("parallel hint must not merge dependent steps, got %v", waves)
	}
}

func TestResolve_CoverageProperty(t *testing.T) {
	steps := mkSteps(1, 2, 3, 4, 5, 6, 7)
	edges := []domain.DependencyEdge{
		dep(2, 1),
		dep(3, 1),
		dep(5, 2, 4),
		dep(6, 5, 3),
		dep(7, 1, 6),
	}

	waves, err := Resolve(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkWaves(t, steps, edges, waves)
}

func TestResolve_DuplicateDependsOnCountedOnce(t *testing.T) {
	steps := mkSteps(1, 2)
	edges := []domain.DependencyEdge{dep(2, 1, 1)}

	dag, err := BuildDAG(steps, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dag.GetNode(2).InDegree != 1 {
		t.Errorf("expected inDegree 1, got %d", dag.GetNode(2).InDegree)
	}
}

// --- Cycle Tests ---

func TestResolve_Cycle(t *testing.T) {
	steps := mkSteps(1, 2, 3)
	edges := []domain.DependencyEdge{dep(1, 3), dep(2, 1), dep(3, 2)}

	waves, err := Resolve(steps, edges)
	if waves != nil {
		t.Errorf("expected no waves, got %v", waves)
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %T", err)
	}
	if len(cErr.Cycle) != 4 {
		t.Fatalf("expected cycle of 3 steps plus closing step, got %v", cErr.Cycle)
	}
	if cErr.Cycle[0] != cErr.Cycle[len(cErr.Cycle)-1] {
		t.Errorf("cycle must be closed, got %v", cErr.Cycle)
	}
}

func TestResolve_SelfDependency(t *testing.T) {
	steps := mkSteps(1, 2)
	edges := []domain.DependencyEdge{dep(2, 2)}

	_, err := Resolve(steps, edges)

	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if !reflect.DeepEqual(cErr.Cycle, []int{2, 2}) {
		t.Errorf("expected cycle [2 2], got %v", cErr.Cycle)
	}
}

func TestResolve_CycleNamesOnlyCycleSteps(t *testing.T) {
	// 4 зависит от цикла 2 ↔ 3, но сам в цикл не входит.
	steps := mkSteps(1, 2, 3, 4)
	edges := []domain.DependencyEdge{dep(2, 1, 3), dep(3, 2), dep(4, 3)}

	_, err := Resolve(steps, edges)

	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	for _, o := range cErr.Cycle {
		if o != 2 && o != 3 {
			t.Errorf("cycle should contain only steps 2 and 3, got %v", cErr.Cycle)
		}
	}
}

// --- Dangling Reference Tests ---

func TestResolve_DanglingDependsOn(t *testing.T) {
	steps := mkSteps(1, 2)
	edges := []domain.DependencyEdge{dep(2, 7)}

	_, err := Resolve(steps, edges)

	var dErr *DanglingReferenceError
	if !errors.As(err, &dErr) {
		t.Fatalf("expected DanglingReferenceError, got %v", err)
	}
	if dErr.Step != 2 || dErr.Missing != 7 {
		t.Errorf("unexpected error fields: %+v", dErr)
	}
	if !errors.Is(err, ErrDanglingReference) {
		t.Error("expected errors.Is ErrDanglingReference")
	}
}

func TestResolve_DanglingEdgeStep(t *testing.T) {
	steps := mkSteps(1)
	edges := []domain.DependencyEdge{dep(5, 1)}

	_, err := Resolve(steps, edges)

	var dErr *DanglingReferenceError
	if !errors.As(err, &dErr) {
		t.Fatalf("expected DanglingReferenceError, got %v", err)
	}
	if dErr.Missing != 5 {
		t.Errorf("expected missing 5, got %d", dErr.Missing)
	}
}
