package backend

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/shaiso/Rollout/internal/secrets"
)

// Default configuration values.
const (
	defaultAnsibleBinary = "ansible-playbook"
	defaultHelmBinary    = "helm"
	defaultSSHPort       = 22
)

// Config — общие зависимости runner'ов.
type Config struct {
	// Remote — транспорт к хостам.
	Remote Remote

	// Local — запуск локальных процессов (ansible). По умолчанию LocalExec.
	Local Local

	// Inventory — хосты, подключения к БД, playbook'и, helm-релизы.
	Inventory *inventory.Inventory

	// Secrets — разрешение ссылок на пароли БД.
	Secrets *secrets.Resolver

	// FilesRoot — каталог с файлами FT: <FilesRoot>/<ft>/<file>.
	FilesRoot string

	// AnsibleBinary — путь к ansible-playbook (default: "ansible-playbook").
	AnsibleBinary string

	// HelmBinary — путь к helm на хостах (default: "helm").
	HelmBinary string

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Local == nil {
		c.Local = LocalExec{}
	}
	if c.AnsibleBinary == "" {
		c.AnsibleBinary = defaultAnsibleBinary
	}
	if c.HelmBinary == "" {
		c.HelmBinary = defaultHelmBinary
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Register регистрирует runner'ы всех типов шагов.
func Register(reg *executor.Registry, cfg Config) {
	reg.Register(domain.StepTypeFileCopy, NewFileCopyRunner(cfg))
	reg.Register(domain.StepTypeSQLDeployment, NewSQLRunner(cfg))
	reg.Register(domain.StepTypeServiceRestart, NewServiceRunner(cfg))
	reg.Register(domain.StepTypeAnsiblePlaybook, NewPlaybookRunner(cfg))
	reg.Register(domain.StepTypeHelmUpgrade, NewHelmRunner(cfg))
}

// shellQuote экранирует строку для POSIX shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// asUser оборачивает скрипт в sh -c, при sudo — от имени user.
func asUser(script string, sudo bool, user string) string {
	cmd := "sh -c " + shellQuote(script)
	if !sudo {
		return cmd
	}
	if user == "" {
		user = "root"
	}
	return "sudo -n -u " + shellQuote(user) + " " + cmd
}

// sortedPairs возвращает "k=v" в порядке ключей.
func sortedPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return pairs
}

// capture собирает вывод команды и, если задан, пробрасывает его дальше.
type capture struct {
	mu    sync.Mutex
	lines []string
	next  executor.Emit
}

func (c *capture) emit(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()

	if c.next != nil {
		c.next(line)
	}
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}
