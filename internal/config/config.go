// Package config загружает конфигурацию Rollout.
//
// Порядок (последний выигрывает): значения по умолчанию → YAML-файл
// (--config или ROLLOUT_CONFIG) → переменные окружения с префиксом
// ROLLOUT_ ("store.driver" → ROLLOUT_STORE_DRIVER).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "ROLLOUT"

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config — конфигурация сервера и планировщика.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	MQ        MQConfig        `mapstructure:"mq"`
	Run       RunConfig       `mapstructure:"run"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Files     FilesConfig     `mapstructure:"files"`
	Ansible   BinaryConfig    `mapstructure:"ansible"`
	Helm      BinaryConfig    `mapstructure:"helm"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	PostgresURL string `mapstructure:"postgres_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// MQConfig — RabbitMQ. Пустой URL — работа без шины.
type MQConfig struct {
	URL string `mapstructure:"url"`
}

type RunConfig struct {
	MaxFanout   int           `mapstructure:"max_fanout" validate:"gte=1"`
	StepTimeout time.Duration `mapstructure:"step_timeout" validate:"gt=0"`
	Retention   time.Duration `mapstructure:"retention" validate:"gt=0"`
}

type SSHConfig struct {
	User                  string        `mapstructure:"user"`
	KeyPath               string        `mapstructure:"key_path"`
	KnownHosts            string        `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	Port                  int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
}

type InventoryConfig struct {
	Path   string `mapstructure:"path" validate:"required"`
	DBPath string `mapstructure:"db_path"`
}

type FilesConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}

type BinaryConfig struct {
	Binary string `mapstructure:"binary"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type SchedulerConfig struct {
	InProcess    bool          `mapstructure:"in_process"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// defaults — значения по умолчанию. Каждый ключ должен быть здесь,
// иначе viper не сопоставит его с переменной окружения при Unmarshal.
var defaults = map[string]any{
	"http.addr":                    ":8080",
	"store.driver":                 DriverSQLite,
	"store.postgres_url":           "",
	"store.sqlite_path":            "rollout.db",
	"mq.url":                       "",
	"run.max_fanout":               10,
	"run.step_timeout":             300 * time.Second,
	"run.retention":                30 * time.Minute,
	"ssh.user":                     "root",
	"ssh.key_path":                 "",
	"ssh.known_hosts":              "",
	"ssh.insecure_ignore_host_key": false,
	"ssh.port":                     22,
	"ssh.dial_timeout":             10 * time.Second,
	"inventory.path":               "inventory/hosts.yaml",
	"inventory.db_path":            "",
	"files.root":                   "files",
	"ansible.binary":               "ansible-playbook",
	"helm.binary":                  "helm",
	"vault.address":                "",
	"vault.token":                  "",
	"vault.mount":                  "secret",
	"log.level":                    "info",
	"log.format":                   "json",
	"scheduler.in_process":         false,
	"scheduler.tick_interval":      time.Second,
}

// New возвращает viper с умолчаниями и окружением, без файла.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load читает конфигурацию. path пустой — берётся ROLLOUT_CONFIG,
// если и он пуст, файл не читается.
func Load(path string) (*Config, error) {
	v := New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper собирает и проверяет Config.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет теги и связи между полями.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Driver == DriverPostgres && c.Store.PostgresURL == "" {
		return errors.New("invalid config: store.postgres_url is required for the postgres driver")
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		return errors.New("invalid config: store.sqlite_path is required for the sqlite driver")
	}
	return nil
}
