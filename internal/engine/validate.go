package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shaiso/Rollout/internal/domain"
)

// validate — общий валидатор, безопасен для конкурентного использования.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// В сообщениях используем имена полей из JSON, как их видит пользователь.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate выполняет полную валидацию шаблона, кроме проверки графа.
//
// Проверяет:
// - Наличие ft_number и шагов
// - Уникальность и корректность order
// - Известность типа и параметры варианта
// - Наличие targetVMs у шагов, которым нужны хосты
// - Не более одной записи зависимостей на шаг
func Validate(tpl *domain.DeploymentTemplate) error {
	if tpl == nil || len(tpl.Steps) == 0 {
		return NewValidationError(0, "steps", "template has no steps", ErrEmptySteps)
	}

	if strings.TrimSpace(tpl.Metadata.FTNumber) == "" {
		return NewValidationError(0, "ft_number", "template has empty ft_number", ErrMissingFTNumber)
	}

	orders := make(map[int]bool, len(tpl.Steps))
	for i := range tpl.Steps {
		if err := ValidateStep(&tpl.Steps[i], orders); err != nil {
			return err
		}
	}

	return validateEdges(tpl.Dependencies)
}

// ValidateStep валидирует один шаг.
// orders — уже встреченные order (для проверки уникальности).
func ValidateStep(step *domain.Step, orders map[int]bool) error {
	if step.Order < 1 {
		return NewValidationError(step.Order, "order",
			fmt.Sprintf("step order must be >= 1, got %d", step.Order), ErrInvalidOrder)
	}

	if orders[step.Order] {
		return NewValidationError(step.Order, "order",
			fmt.Sprintf("duplicate step order: %d", step.Order), ErrDuplicateOrder)
	}
	orders[step.Order] = true

	stepType, ok := domain.ParseStepType(string(step.Type))
	if !ok || step.Spec == nil {
		return NewValidationError(step.Order, "type",
			fmt.Sprintf("unknown step type: %q", step.Type), ErrUnknownStepType)
	}
	if specType := step.Spec.StepType(); specType != stepType {
		return NewValidationError(step.Order, "type",
			fmt.Sprintf("step type %q has %s parameters", step.Type, specType), ErrSpecMismatch)
	}

	if step.Type.RequiresHosts() && len(step.TargetVMs) == 0 {
		return NewValidationError(step.Order, "targetVMs",
			fmt.Sprintf("%s step requires at least one target VM", step.Type), ErrMissingTargets)
	}

	if err := validate.Struct(step); err != nil {
		return translate(step.Order, err)
	}
	if err := validate.Struct(step.Spec); err != nil {
		return translate(step.Order, err)
	}

	return nil
}

// validateEdges проверяет, что на каждый шаг не больше одной записи.
// Ссылки на несуществующие шаги проверяет BuildDAG.
func validateEdges(edges []domain.DependencyEdge) error {
	seen := make(map[int]bool, len(edges))
	for _, edge := range edges {
		if seen[edge.Step] {
			return NewValidationError(edge.Step, "dependencies",
				fmt.Sprintf("more than one dependency entry for step %d", edge.Step), ErrDuplicateEdge)
		}
		seen[edge.Step] = true
	}
	return nil
}

// translate превращает первую ошибку validator в ValidationError.
func translate(order int, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError(order, "", err.Error(), ErrInvalidField)
	}

	fe := fieldErrs[0]
	field := fe.Field()

	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "min":
		msg = fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	case "gte":
		msg = fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "unique":
		msg = field + " must not contain duplicates"
	default:
		msg = fmt.Sprintf("%s failed %q check", field, fe.Tag())
	}

	return NewValidationError(order, field, msg, ErrInvalidField)
}
