package entity

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Type тип кэшируемой сущности
type Type string

const (
	TypeProperty  Type = "property"
	TypeUnit      Type = "unit"
	TypeWorkOrder Type = "workOrder"
	TypeTask      Type = "task"
	TypeNote      Type = "note"
)

// Types все поддерживаемые типы в фиксированном порядке.
var Types = []Type{TypeProperty, TypeUnit, TypeWorkOrder, TypeTask, TypeNote}

func (Type) Schema(_ huma.Registry) *huma.Schema {
	enum := make([]any, 0, len(Types))
	for _, t := range Types {
		enum = append(enum, string(t))
	}
	return &huma.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Тип кэшируемой сущности",
		Examples:    []any{TypeProperty},
	}
}

// Validate проверяет, что тип входит в закрытый набор.
func (t Type) Validate() error {
	switch t {
	case TypeProperty, TypeUnit, TypeWorkOrder, TypeTask, TypeNote:
		return nil
	}
	return fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntity, t)
}

// String возвращает строковое представление типа.
func (t Type) String() string {
	return string(t)
}

// ParseType разбирает строку в тип сущности.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}
