package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"gopkg.in/yaml.v3"
)

// PlaybookRunner запускает ansible-playbook локально против одного хоста.
type PlaybookRunner struct {
	cfg Config
}

// NewPlaybookRunner создаёт PlaybookRunner.
func NewPlaybookRunner(cfg Config) *PlaybookRunner {
	return &PlaybookRunner{cfg: cfg.withDefaults()}
}

// Run реализует executor.Runner.
func (r *PlaybookRunner) Run(ctx context.Context, inv executor.Invocation, emit executor.Emit) (string, error) {
	spec, ok := inv.Step.Spec.(domain.AnsiblePlaybook)
	if !ok {
		return "", fmt.Errorf("%w: %T", executor.ErrUnexpectedSpec, inv.Step.Spec)
	}

	pb, err := r.cfg.Inventory.Playbook(spec.Playbook)
	if err != nil {
		return "", err
	}
	vm, err := r.cfg.Inventory.VM(inv.Target)
	if err != nil {
		return "", err
	}

	invPath, err := writeAnsibleInventory(vm, inv.Step.TargetUser)
	if err != nil {
		return "", err
	}
	defer os.Remove(invPath)

	args := PlaybookArgs(invPath, pb.Path, vm.Name, spec.ExtraVars)
	emit(fmt.Sprintf("ansible-playbook %s --limit %s", pb.Path, vm.Name))

	if err := r.cfg.Local.Exec(ctx, r.cfg.AnsibleBinary, args, emit); err != nil {
		return "", fmt.Errorf("playbook %s: %w", pb.Name, err)
	}
	return fmt.Sprintf("playbook %s completed on %s", pb.Name, vm.Name), nil
}

// PlaybookArgs собирает аргументы ansible-playbook.
func PlaybookArgs(inventoryPath, playbook, limit string, extraVars map[string]string) []string {
	args := []string{"-i", inventoryPath, playbook, "--limit", limit}
	for _, kv := range sortedPairs(extraVars) {
		args = append(args, "-e", kv)
	}
	return args
}

// ansibleHost — запись хоста во временном инвентаре.
type ansibleHost struct {
	Host string `yaml:"ansible_host"`
	Port int    `yaml:"ansible_port"`
	User string `yaml:"ansible_user,omitempty"`
}

// AnsibleInventory строит YAML-инвентарь с одним хостом.
func AnsibleInventory(vm inventory.VM, user string) ([]byte, error) {
	if user == "" {
		user = vm.User
	}
	port := int(vm.Port)
	if port == 0 {
		port = defaultSSHPort
	}

	doc := map[string]any{
		"all": map[string]any{
			"hosts": map[string]ansibleHost{
				vm.Name: {Host: vm.IP, Port: port, User: user},
			},
		},
	}
	return yaml.Marshal(doc)
}

func writeAnsibleInventory(vm inventory.VM, user string) (string, error) {
	data, err := AnsibleInventory(vm, user)
	if err != nil {
		return "", fmt.Errorf("build ansible inventory: %w", err)
	}

	f, err := os.CreateTemp("", "rollout-inventory-*.yml")
	if err != nil {
		return "", fmt.Errorf("create ansible inventory: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write ansible inventory: %w", err)
	}
	return f.Name(), nil
}
