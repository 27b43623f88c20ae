package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/tidwall/gjson"
)

const defaultNamespace = "default"

// HelmRunner выполняет helm upgrade --install на хосте с доступом к кластеру.
type HelmRunner struct {
	cfg Config
}

// NewHelmRunner создаёт HelmRunner.
func NewHelmRunner(cfg Config) *HelmRunner {
	return &HelmRunner{cfg: cfg.withDefaults()}
}

// Run реализует executor.Runner.
func (r *HelmRunner) Run(ctx context.Context, inv executor.Invocation, emit executor.Emit) (string, error) {
	spec, ok := inv.Step.Spec.(domain.HelmUpgrade)
	if !ok {
		return "", fmt.Errorf("%w: %T", executor.ErrUnexpectedSpec, inv.Step.Spec)
	}

	vm, err := r.cfg.Inventory.VM(inv.Target)
	if err != nil {
		return "", err
	}

	release, chart, namespace, err := r.resolveRelease(spec)
	if err != nil {
		return "", err
	}

	upgrade := []string{
		r.cfg.HelmBinary, "upgrade", "--install",
		shellQuote(release), shellQuote(chart),
		"-n", shellQuote(namespace), "--wait",
	}
	for _, kv := range sortedPairs(spec.Values) {
		upgrade = append(upgrade, "--set", shellQuote(kv))
	}

	emit(fmt.Sprintf("helm upgrade %s (%s) in %s", release, chart, namespace))
	if err := r.cfg.Remote.Run(ctx, vm, Command{Cmd: strings.Join(upgrade, " ")}, emit); err != nil {
		return "", fmt.Errorf("helm upgrade %s: %w", release, err)
	}

	out := &capture{}
	status := fmt.Sprintf("%s status %s -n %s -o json", r.cfg.HelmBinary, shellQuote(release), shellQuote(namespace))
	if err := r.cfg.Remote.Run(ctx, vm, Command{Cmd: status}, out.emit); err != nil {
		return "", fmt.Errorf("helm status %s: %w", release, err)
	}

	detail, err := ParseHelmStatus(out.String())
	if detail != "" {
		emit(detail)
	}
	return detail, err
}

// resolveRelease дополняет параметры шага записью из инвентаря.
func (r *HelmRunner) resolveRelease(spec domain.HelmUpgrade) (release, chart, namespace string, err error) {
	release, chart, namespace = spec.Release, spec.Chart, spec.Namespace

	entry, lookupErr := r.cfg.Inventory.HelmRelease(spec.Release)
	switch {
	case lookupErr == nil:
		if entry.Release != "" {
			release = entry.Release
		}
		if chart == "" {
			chart = entry.Chart
		}
		if namespace == "" {
			namespace = entry.Namespace
		}
	case !errors.Is(lookupErr, inventory.ErrUnknownRelease):
		return "", "", "", lookupErr
	}

	if chart == "" {
		return "", "", "", fmt.Errorf("%w: %s has no chart", inventory.ErrUnknownRelease, spec.Release)
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	return release, chart, namespace, nil
}

// ParseHelmStatus разбирает вывод helm status -o json.
func ParseHelmStatus(out string) (string, error) {
	if !gjson.Valid(out) {
		return "", errors.New("helm status: invalid json output")
	}

	res := gjson.GetMany(out, "name", "namespace", "version", "info.status")
	detail := fmt.Sprintf("release %s in %s revision %d: %s",
		res[0].String(), res[1].String(), res[2].Int(), res[3].String())

	if res[3].String() != "deployed" {
		return detail, fmt.Errorf("%w: %s", ErrReleaseNotDeployed, res[3].String())
	}
	return detail, nil
}
