package inventory

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Ошибки инвентаря.
var (
	// ErrUnknownHost — VM нет в инвентаре.
	ErrUnknownHost = errors.New("unknown host")

	// ErrUnknownConnection — подключения к БД нет в инвентаре.
	ErrUnknownConnection = errors.New("unknown db connection")

	// ErrUnknownPlaybook — playbook нет в инвентаре.
	ErrUnknownPlaybook = errors.New("unknown playbook")

	// ErrUnknownRelease — helm-релиза нет в инвентаре.
	ErrUnknownRelease = errors.New("unknown helm release")
)

// Port — номер порта. В файлах встречается и числом, и строкой.
type Port int

// UnmarshalYAML принимает 5432 и "5432".
func (p *Port) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if value == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", node.Value, err)
	}
	*p = Port(n)
	return nil
}

// VM — целевой хост.
type VM struct {
	Name string `yaml:"name" json:"name"`
	IP   string `yaml:"ip" json:"ip"`
	Port Port   `yaml:"port,omitempty" json:"port,omitempty"`
	User string `yaml:"user,omitempty" json:"user,omitempty"`
}

// Address возвращает host:port для SSH (порт по умолчанию 22).
func (v VM) Address() string {
	port := int(v.Port)
	if port == 0 {
		port = 22
	}
	return v.IP + ":" + strconv.Itoa(port)
}

// Playbook — ansible playbook, доступный для шагов.
type Playbook struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// HelmRelease — helm-релиз, доступный для шагов.
type HelmRelease struct {
	Name      string `yaml:"name" json:"name"`
	Release   string `yaml:"release,omitempty" json:"release,omitempty"`
	Chart     string `yaml:"chart,omitempty" json:"chart,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// DBConnection — подключение к базе данных.
type DBConnection struct {
	Name     string `yaml:"db_connection" json:"db_connection"`
	Hostname string `yaml:"hostname" json:"hostname"`
	Port     Port   `yaml:"port" json:"port"`
	DBName   string `yaml:"db_name" json:"db_name"`
	SSLMode  string `yaml:"sslmode,omitempty" json:"sslmode,omitempty"`
}

// hostsFile — формат inventory.json / inventory.yaml.
type hostsFile struct {
	VMs          []VM          `yaml:"vms"`
	Playbooks    []Playbook    `yaml:"playbooks"`
	HelmUpgrades []HelmRelease `yaml:"helm_upgrades"`
	Services     []string      `yaml:"systemd_services"`
}

// dbFile — формат db_inventory.json / db_inventory.yaml.
type dbFile struct {
	Connections []DBConnection `yaml:"db_connections"`
	Users       []string       `yaml:"db_users"`
}

// Inventory — хосты, playbooks, helm-релизы и подключения к БД.
//
// Файлы читаются в JSON или YAML (JSON — подмножество YAML).
// Reload перечитывает их без остановки сервера.
type Inventory struct {
	hostsPath string
	dbPath    string

	mu          sync.RWMutex
	vms         map[string]VM
	vmOrder     []string
	playbooks   map[string]Playbook
	releases    map[string]HelmRelease
	connections map[string]DBConnection
	users       []string
	services    []string
}

// Load читает инвентарь из файлов. Пустой путь пропускается.
func Load(hostsPath, dbPath string) (*Inventory, error) {
	inv := &Inventory{hostsPath: hostsPath, dbPath: dbPath}
	if err := inv.Reload(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Reload перечитывает файлы инвентаря.
func (inv *Inventory) Reload() error {
	var hosts hostsFile
	if inv.hostsPath != "" {
		if err := readFile(inv.hostsPath, &hosts); err != nil {
			return err
		}
	}

	var db dbFile
	if inv.dbPath != "" {
		if err := readFile(inv.dbPath, &db); err != nil {
			return err
		}
	}

	inv.replace(hosts, db)
	return nil
}

// New создаёт инвентарь из значений (для тестов и встраивания).
func New(vms []VM, playbooks []Playbook, releases []HelmRelease, conns []DBConnection) *Inventory {
	inv := &Inventory{}
	inv.replace(hostsFile{VMs: vms, Playbooks: playbooks, HelmUpgrades: releases}, dbFile{Connections: conns})
	return inv
}

func (inv *Inventory) replace(hosts hostsFile, db dbFile) {
	vms := make(map[string]VM, len(hosts.VMs))
	order := make([]string, 0, len(hosts.VMs))
	for _, vm := range hosts.VMs {
		if _, dup := vms[vm.Name]; !dup {
			order = append(order, vm.Name)
		}
		vms[vm.Name] = vm
	}

	playbooks := make(map[string]Playbook, len(hosts.Playbooks))
	for _, pb := range hosts.Playbooks {
		playbooks[pb.Name] = pb
	}

	releases := make(map[string]HelmRelease, len(hosts.HelmUpgrades))
	for _, rel := range hosts.HelmUpgrades {
		releases[rel.Name] = rel
	}

	conns := make(map[string]DBConnection, len(db.Connections))
	for _, c := range db.Connections {
		conns[c.Name] = c
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.vms = vms
	inv.vmOrder = order
	inv.playbooks = playbooks
	inv.releases = releases
	inv.connections = conns
	inv.users = append([]string(nil), db.Users...)
	inv.services = append([]string(nil), hosts.Services...)
}

func readFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read inventory %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return nil
}

// VM возвращает хост по имени.
func (inv *Inventory) VM(name string) (VM, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	vm, ok := inv.vms[name]
	if !ok {
		return VM{}, fmt.Errorf("%w: %s", ErrUnknownHost, name)
	}
	return vm, nil
}

// VMs возвращает все хосты в порядке файла.
func (inv *Inventory) VMs() []VM {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	list := make([]VM, 0, len(inv.vmOrder))
	for _, name := range inv.vmOrder {
		list = append(list, inv.vms[name])
	}
	return list
}

// Playbook возвращает playbook по имени.
func (inv *Inventory) Playbook(name string) (Playbook, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	pb, ok := inv.playbooks[name]
	if !ok {
		return Playbook{}, fmt.Errorf("%w: %s", ErrUnknownPlaybook, name)
	}
	return pb, nil
}

// Playbooks возвращает все playbooks.
func (inv *Inventory) Playbooks() []Playbook {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	list := make([]Playbook, 0, len(inv.playbooks))
	for _, pb := range inv.playbooks {
		list = append(list, pb)
	}
	sortByName(list, func(p Playbook) string { return p.Name })
	return list
}

// HelmRelease возвращает helm-релиз по имени.
func (inv *Inventory) HelmRelease(name string) (HelmRelease, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	rel, ok := inv.releases[name]
	if !ok {
		return HelmRelease{}, fmt.Errorf("%w: %s", ErrUnknownRelease, name)
	}
	return rel, nil
}

// HelmReleases возвращает все helm-релизы.
func (inv *Inventory) HelmReleases() []HelmRelease {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	list := make([]HelmRelease, 0, len(inv.releases))
	for _, rel := range inv.releases {
		list = append(list, rel)
	}
	sortByName(list, func(r HelmRelease) string { return r.Name })
	return list
}

// DBConnection возвращает подключение к БД по имени.
func (inv *Inventory) DBConnection(name string) (DBConnection, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	c, ok := inv.connections[name]
	if !ok {
		return DBConnection{}, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	return c, nil
}

// DBConnections возвращает все подключения к БД.
func (inv *Inventory) DBConnections() []DBConnection {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	list := make([]DBConnection, 0, len(inv.connections))
	for _, c := range inv.connections {
		list = append(list, c)
	}
	sortByName(list, func(c DBConnection) string { return c.Name })
	return list
}

// DBUsers возвращает известных пользователей БД.
func (inv *Inventory) DBUsers() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]string(nil), inv.users...)
}

// Services возвращает systemd-сервисы, доступные шагам service_restart.
func (inv *Inventory) Services() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]string(nil), inv.services...)
}

func sortByName[T any](list []T, name func(T) string) {
	sort.Slice(list, func(i, j int) bool { return name(list[i]) < name(list[j]) })
}
