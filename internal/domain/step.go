package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// StepType — вид операции шага.
type StepType string

const (
	// StepTypeFileCopy — копирование файлов релиза на хосты.
	StepTypeFileCopy StepType = "file_copy"

	// StepTypeSQLDeployment — выполнение SQL-скриптов на базе данных.
	StepTypeSQLDeployment StepType = "sql_deployment"

	// StepTypeServiceRestart — управление systemd-сервисом.
	StepTypeServiceRestart StepType = "service_restart"

	// StepTypeAnsiblePlaybook — запуск ansible playbook.
	StepTypeAnsiblePlaybook StepType = "ansible_playbook"

	// StepTypeHelmUpgrade — helm upgrade релиза.
	StepTypeHelmUpgrade StepType = "helm_upgrade"
)

// stepTypeAliases — старые имена типов, которые встречаются в сохранённых шаблонах.
var stepTypeAliases = map[string]StepType{
	"file_deployment": StepTypeFileCopy,
}

// StepTypes возвращает все поддерживаемые типы шагов.
func StepTypes() []StepType {
	return []StepType{
		StepTypeFileCopy,
		StepTypeSQLDeployment,
		StepTypeServiceRestart,
		StepTypeAnsiblePlaybook,
		StepTypeHelmUpgrade,
	}
}

// ParseStepType парсит строку в StepType с учётом алиасов.
func ParseStepType(s string) (StepType, bool) {
	if t, ok := stepTypeAliases[s]; ok {
		return t, true
	}
	for _, t := range StepTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// RequiresHosts возвращает true, если шаг обязан иметь targetVMs.
// SQL-шаг может выполняться без хоста (один вызов с target "n/a").
func (t StepType) RequiresHosts() bool {
	return t != StepTypeSQLDeployment
}

// StepSpec — параметры конкретного вида шага.
//
// Каждая реализация хранит только свои поля, общие поля живут в Step.
type StepSpec interface {
	StepType() StepType
}

// Step — один шаг шаблона развёртывания.
//
// В JSON шаг плоский: общие поля и поля варианта лежат на одном уровне,
// поле "type" выбирает вариант.
type Step struct {
	// Order — номер шага, уникальный в рамках шаблона, >= 1.
	Order int `json:"order" validate:"gte=1"`

	// Type — вид операции.
	Type StepType `json:"type" validate:"required"`

	// Description — человекочитаемое описание.
	Description string `json:"description,omitempty"`

	// TargetVMs — имена хостов из инвентаря.
	TargetVMs []string `json:"targetVMs,omitempty" validate:"omitempty,unique,dive,required"`

	// TargetUser — пользователь на целевом хосте.
	TargetUser string `json:"targetUser,omitempty"`

	// Optional — ошибка шага не останавливает запуск следующих волн.
	Optional bool `json:"optional,omitempty"`

	// TimeoutSec — таймаут одного вызова. 0 — таймаут по умолчанию.
	TimeoutSec int `json:"timeoutSec,omitempty" validate:"gte=0"`

	// Spec — параметры варианта.
	Spec StepSpec `json:"-" validate:"-"`
}

// Name возвращает короткое имя шага для логов.
func (s *Step) Name() string {
	if s.Description != "" {
		return fmt.Sprintf("step %d (%s)", s.Order, s.Description)
	}
	return fmt.Sprintf("step %d (%s)", s.Order, s.Type)
}

// FileCopy — копирование файлов FT на хосты.
type FileCopy struct {
	Files      []string `json:"files" validate:"min=1,dive,required"`
	TargetPath string   `json:"targetPath" validate:"required"`
	FTNumber   string   `json:"ftNumber,omitempty"`
	Sudo       bool     `json:"sudo,omitempty"`
	Backup     bool     `json:"backup,omitempty"`
}

// StepType реализует StepSpec.
func (FileCopy) StepType() StepType { return StepTypeFileCopy }

// SQLDeployment — выполнение SQL-файлов FT.
//
// DBPassword — ссылка на секрет, а не сам пароль.
type SQLDeployment struct {
	Files        []string `json:"files" validate:"min=1,dive,required"`
	FTNumber     string   `json:"ftNumber,omitempty"`
	DBConnection string   `json:"dbConnection" validate:"required"`
	DBUser       string   `json:"dbUser" validate:"required"`
	DBPassword   string   `json:"dbPassword,omitempty"`
}

// StepType реализует StepSpec.
func (SQLDeployment) StepType() StepType { return StepTypeSQLDeployment }

// ServiceOperation — операция над systemd-сервисом.
type ServiceOperation string

const (
	ServiceStart   ServiceOperation = "start"
	ServiceStop    ServiceOperation = "stop"
	ServiceRestart ServiceOperation = "restart"
	ServiceStatus  ServiceOperation = "status"
)

// ServiceControl — start/stop/restart/status сервиса.
type ServiceControl struct {
	Service   string           `json:"service" validate:"required"`
	Operation ServiceOperation `json:"operation" validate:"oneof=start stop restart status"`
}

// StepType реализует StepSpec.
func (ServiceControl) StepType() StepType { return StepTypeServiceRestart }

// AnsiblePlaybook — запуск playbook из инвентаря.
type AnsiblePlaybook struct {
	Playbook  string            `json:"playbook" validate:"required"`
	ExtraVars map[string]string `json:"extraVars,omitempty"`
}

// StepType реализует StepSpec.
func (AnsiblePlaybook) StepType() StepType { return StepTypeAnsiblePlaybook }

// HelmUpgrade — upgrade helm-релиза.
//
// Chart и Namespace можно не указывать, тогда они берутся из инвентаря.
type HelmUpgrade struct {
	Release   string            `json:"release" validate:"required"`
	Chart     string            `json:"chart,omitempty"`
	Namespace string            `json:"namespace,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
}

// StepType реализует StepSpec.
func (HelmUpgrade) StepType() StepType { return StepTypeHelmUpgrade }

// commonStepKeys — ключи общих полей, которые не передаются в вариант.
var commonStepKeys = []string{"order", "type", "description", "targetVMs", "targetUser", "optional", "timeoutSec"}

// stepHeader — общие поля шага без варианта (для json).
type stepHeader struct {
	Order       int      `json:"order"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	TargetVMs   []string `json:"targetVMs,omitempty"`
	TargetUser  string   `json:"targetUser,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	TimeoutSec  int      `json:"timeoutSec,omitempty"`
}

// newStepSpec создаёт пустой вариант для типа.
func newStepSpec(t StepType) StepSpec {
	switch t {
	case StepTypeFileCopy:
		return &FileCopy{}
	case StepTypeSQLDeployment:
		return &SQLDeployment{}
	case StepTypeServiceRestart:
		return &ServiceControl{Operation: ServiceRestart}
	case StepTypeAnsiblePlaybook:
		return &AnsiblePlaybook{}
	case StepTypeHelmUpgrade:
		return &HelmUpgrade{}
	default:
		return nil
	}
}

// UnmarshalJSON декодирует плоский шаг: общие поля через json,
// поля варианта через mapstructure по json-тегам.
func (s *Step) UnmarshalJSON(data []byte) error {
	var hdr stepHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range commonStepKeys {
		delete(raw, k)
	}

	*s = Step{
		Order:       hdr.Order,
		Type:        StepType(hdr.Type),
		Description: hdr.Description,
		TargetVMs:   hdr.TargetVMs,
		TargetUser:  hdr.TargetUser,
		Optional:    hdr.Optional,
		TimeoutSec:  hdr.TimeoutSec,
	}

	t, ok := ParseStepType(hdr.Type)
	if !ok {
		// Неизвестный тип отклоняется при валидации, здесь сохраняем как есть.
		return nil
	}
	s.Type = t

	spec := newStepSpec(t)
	if err := DecodeStepSpec(raw, spec); err != nil {
		return fmt.Errorf("step %d: decode %s: %w", hdr.Order, t, err)
	}
	s.Spec = derefSpec(spec)
	return nil
}

// MarshalJSON кодирует шаг обратно в плоский объект.
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if s.Spec != nil {
		b, err := json.Marshal(s.Spec)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
	}

	hdr := stepHeader{
		Order:       s.Order,
		Type:        string(s.Type),
		Description: s.Description,
		TargetVMs:   s.TargetVMs,
		TargetUser:  s.TargetUser,
		Optional:    s.Optional,
		TimeoutSec:  s.TimeoutSec,
	}
	b, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	var common map[string]any
	if err := json.Unmarshal(b, &common); err != nil {
		return nil, err
	}
	for k, v := range common {
		out[k] = v
	}
	return json.Marshal(out)
}

// DecodeStepSpec раскладывает произвольную map в структуру варианта.
// Допускает слабую типизацию ("true" → true, 5 → "5"), как в YAML-шаблонах.
func DecodeStepSpec(raw map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// derefSpec возвращает значение варианта вместо указателя.
func derefSpec(spec StepSpec) StepSpec {
	switch v := spec.(type) {
	case *FileCopy:
		return *v
	case *SQLDeployment:
		return *v
	case *ServiceControl:
		return *v
	case *AnsiblePlaybook:
		return *v
	case *HelmUpgrade:
		return *v
	default:
		return spec
	}
}
