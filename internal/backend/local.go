package backend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/shaiso/Rollout/internal/executor"
)

// Local запускает процессы на хосте оркестратора.
type Local interface {
	// Exec выполняет name с аргументами, передавая строки вывода в emit.
	Exec(ctx context.Context, name string, args []string, emit executor.Emit) error
}

// ExitError — локальный процесс завершился с ненулевым кодом.
type ExitError struct {
	Name     string
	ExitCode int
}

// Error реализует интерфейс error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
}

// LocalExec — Local поверх os/exec.
type LocalExec struct{}

// Exec реализует Local.
// При отмене ctx процесс получает SIGKILL.
func (LocalExec) Exec(ctx context.Context, name string, args []string, emit executor.Emit) error {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); streamLines(stdout, emit) }()
	go func() { defer wg.Done(); streamLines(stderr, emit) }()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Name: name, ExitCode: exitErr.ExitCode()}
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
