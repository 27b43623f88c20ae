package domain

import (
	"sort"
	"time"
)

// DeploymentTemplate — шаблон развёртывания FT.
//
// Шаблон неизменяем после отправки на выполнение: координатор работает
// с собственной копией, разрешённой в волны на старте run.
type DeploymentTemplate struct {
	// Metadata — идентификатор FT и служебные поля.
	Metadata TemplateMetadata `json:"metadata" validate:"required"`

	// Steps — шаги шаблона. Order уникален и >= 1.
	Steps []Step `json:"steps" validate:"min=1,dive"`

	// Dependencies — зависимости шагов, не более одной записи на шаг.
	Dependencies []DependencyEdge `json:"dependencies,omitempty" validate:"dive"`
}

// TemplateMetadata — метаданные шаблона.
type TemplateMetadata struct {
	// FTNumber — идентификатор FT (feature/fix ticket), обязателен.
	FTNumber string `json:"ft_number" validate:"required"`

	// Description — описание развёртывания.
	Description string `json:"description,omitempty"`

	// GeneratedAt — когда шаблон был сформирован.
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// DependencyEdge — зависимости одного шага.
type DependencyEdge struct {
	// Step — order шага, к которому относится запись.
	Step int `json:"step" validate:"gte=1"`

	// DependsOn — order шагов, которые должны завершиться раньше.
	DependsOn []int `json:"dependsOn,omitempty"`

	// Parallel — подсказка, что шаг можно выполнять параллельно с соседями.
	// На планирование не влияет: параллелизм определяется волнами.
	Parallel bool `json:"parallel,omitempty"`
}

// FTNumber возвращает идентификатор FT шаблона.
func (t *DeploymentTemplate) FTNumber() string {
	return t.Metadata.FTNumber
}

// StepByOrder возвращает шаг по order.
func (t *DeploymentTemplate) StepByOrder(order int) (*Step, bool) {
	for i := range t.Steps {
		if t.Steps[i].Order == order {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// Orders возвращает order всех шагов по возрастанию.
func (t *DeploymentTemplate) Orders() []int {
	orders := make([]int, 0, len(t.Steps))
	for i := range t.Steps {
		orders = append(orders, t.Steps[i].Order)
	}
	sort.Ints(orders)
	return orders
}

// Template — шаблон, сохранённый под именем.
type Template struct {
	// Name — уникальное имя шаблона (без расширения).
	Name string `json:"name"`

	// Template — содержимое шаблона.
	Template DeploymentTemplate `json:"template"`

	// CreatedAt — время первого сохранения.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего сохранения.
	UpdatedAt time.Time `json:"updated_at"`
}
