package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Variant — вид синтезированной схемы.
type Variant int

const (
	VariantFlat Variant = iota
	VariantFull
	VariantWrite
	VariantValidating
)

func (v Variant) String() string {
	switch v {
	case VariantFlat:
		return "flat"
	case VariantFull:
		return "full"
	case VariantWrite:
		return "write"
	case VariantValidating:
		return "validating"
	default:
		return "unknown"
	}
}

func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat":
		return VariantFlat, nil
	case "", "full":
		return VariantFull, nil
	case "write", "put":
		return VariantWrite, nil
	case "validating", "schema":
		return VariantValidating, nil
	default:
		return 0, fmt.Errorf("unknown schema variant %q", s)
	}
}

var ErrDuplicateField = errors.New("schema: duplicate field")

// Model — синтезированный тип схемы: упорядоченный набор полей.
type Model struct {
	name    string
	entity  string
	variant Variant
	ns      *Namespace

	fields []Field
	index  map[string]int
}

func NewModel(name, entity string, variant Variant, ns *Namespace) *Model {
	return &Model{
		name:    name,
		entity:  entity,
		variant: variant,
		ns:      ns,
		index:   make(map[string]int),
	}
}

func (m *Model) Name() string          { return m.name }
func (m *Model) Entity() string        { return m.entity }
func (m *Model) Variant() Variant      { return m.variant }
func (m *Model) Namespace() *Namespace { return m.ns }
func (m *Model) Len() int              { return len(m.fields) }

// Add добавляет поле; повтор имени — ошибка, поле не перезаписывается.
func (m *Model) Add(f Field) error {
	if _, exists := m.index[f.Name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateField, m.name, f.Name)
	}
	m.index[f.Name] = len(m.fields)
	m.fields = append(m.fields, f)
	return nil
}

func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// Fields возвращает копию полей в порядке сборки.
func (m *Model) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

func (m *Model) FieldNames() []string {
	out := make([]string, len(m.fields))
	for i, f := range m.fields {
		out[i] = f.Name
	}
	return out
}

func (m *Model) String() string {
	var b strings.Builder
	b.WriteString(m.name)
	b.WriteString("{")
	for i, f := range m.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", f.Name, f.Type)
	}
	b.WriteString("}")
	return b.String()
}

// Set — артефакты одной сущности после синтеза.
type Set struct {
	Flat       *Model
	Full       *Model
	Write      *Model
	Validating *Validating
}

// Complete: все четыре артефакта на месте.
func (s Set) Complete() bool {
	return s.Flat != nil && s.Full != nil && s.Write != nil && s.Validating != nil
}

// Model выбирает артефакт по виду.
func (s Set) Model(v Variant) (*Model, bool) {
	switch v {
	case VariantFlat:
		return s.Flat, s.Flat != nil
	case VariantFull:
		return s.Full, s.Full != nil
	case VariantWrite:
		return s.Write, s.Write != nil
	case VariantValidating:
		if s.Validating == nil {
			return nil, false
		}
		return s.Validating.Model, true
	default:
		return nil, false
	}
}
