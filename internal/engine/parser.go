package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Rollout/internal/domain"
	"gopkg.in/yaml.v3"
)

// ParseTemplate разбирает шаблон из JSON или YAML.
//
// YAML сначала приводится к JSON, чтобы шаги декодировались
// одним и тем же кодом (domain.Step.UnmarshalJSON).
func ParseTemplate(data []byte) (*domain.DeploymentTemplate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
	}

	if trimmed[0] != '{' {
		converted, err := yamlToJSON(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		trimmed = converted
	}

	var tpl domain.DeploymentTemplate
	if err := json.Unmarshal(trimmed, &tpl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return &tpl, nil
}

// yamlToJSON перекодирует YAML-документ в JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Plan валидирует шаблон и раскладывает его по волнам.
//
// Возвращает *ValidationError, *DanglingReferenceError или *CycleError.
// Ничего не выполняет, поэтому используется и координатором на старте run,
// и для dry-run из API.
func Plan(tpl *domain.DeploymentTemplate) ([]Wave, error) {
	if err := Validate(tpl); err != nil {
		return nil, err
	}
	return Resolve(tpl.Steps, tpl.Dependencies)
}
