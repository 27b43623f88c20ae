package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
)

// ServiceRunner управляет systemd-сервисом на хосте.
type ServiceRunner struct {
	cfg Config
}

// NewServiceRunner создаёт ServiceRunner.
func NewServiceRunner(cfg Config) *ServiceRunner {
	return &ServiceRunner{cfg: cfg.withDefaults()}
}

// Run реализует executor.Runner.
//
// После start/restart/status сервис должен быть active, после stop — нет.
func (r *ServiceRunner) Run(ctx context.Context, inv executor.Invocation, emit executor.Emit) (string, error) {
	spec, ok := inv.Step.Spec.(domain.ServiceControl)
	if !ok {
		return "", fmt.Errorf("%w: %T", executor.ErrUnexpectedSpec, inv.Step.Spec)
	}

	vm, err := r.cfg.Inventory.VM(inv.Target)
	if err != nil {
		return "", err
	}

	op := spec.Operation
	if op == "" {
		op = domain.ServiceRestart
	}
	svc := shellQuote(spec.Service)

	if op == domain.ServiceStatus {
		// systemctl status возвращает ненулевой код для остановленного сервиса,
		// итог решает проверка is-active ниже.
		err := r.cfg.Remote.Run(ctx, vm, Command{Cmd: "systemctl status --no-pager " + svc}, emit)
		var remoteErr *RemoteError
		if err != nil && !errors.As(err, &remoteErr) {
			return "", err
		}
	} else {
		emit(fmt.Sprintf("systemctl %s %s", op, spec.Service))
		cmd := Command{Cmd: "sudo -n systemctl " + string(op) + " " + svc}
		if err := r.cfg.Remote.Run(ctx, vm, cmd, emit); err != nil {
			return "", fmt.Errorf("systemctl %s %s: %w", op, spec.Service, err)
		}
	}

	state, err := r.activeState(ctx, vm, svc)
	if err != nil {
		return "", err
	}
	emit(fmt.Sprintf("%s is %s", spec.Service, state))

	detail := fmt.Sprintf("%s %s: %s", spec.Service, op, state)
	if op == domain.ServiceStop {
		if state == "active" {
			return detail, fmt.Errorf("%s still active after stop", spec.Service)
		}
		return detail, nil
	}
	if state != "active" {
		return detail, fmt.Errorf("%w: %s is %s", ErrServiceInactive, spec.Service, state)
	}
	return detail, nil
}

// activeState возвращает вывод systemctl is-active.
func (r *ServiceRunner) activeState(ctx context.Context, vm inventory.VM, svc string) (string, error) {
	out := &capture{}
	err := r.cfg.Remote.Run(ctx, vm, Command{Cmd: "systemctl is-active " + svc}, out.emit)

	// is-active завершается с ненулевым кодом для неактивного сервиса.
	var remoteErr *RemoteError
	if err != nil && !errors.As(err, &remoteErr) {
		return "", fmt.Errorf("is-active: %w", err)
	}

	state := strings.TrimSpace(out.String())
	if state == "" {
		state = "unknown"
	}
	return state, nil
}
