package synth

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// Synthesizer собирает модели одной сущности из категорий полей.
// Порядок полей: простые, затем вычисляемые, затем связи.
type Synthesizer struct {
	cls *Classifier
	ns  *schema.Namespace
}

func NewSynthesizer(cls *Classifier, ns *schema.Namespace) *Synthesizer {
	return &Synthesizer{cls: cls, ns: ns}
}

// CheckName отклоняет имена сущностей, занятые validating-схемами.
func CheckName(e *dsl.Entity) error {
	if strings.HasSuffix(e.Name, schema.SchemaSuffix) {
		return configErr(e.Name, "", ErrReservedName)
	}
	return nil
}

// Synthesize строит flat, full или write модель сущности.
func (s *Synthesizer) Synthesize(e *dsl.Entity, v schema.Variant, exclude map[string]bool) (*schema.Model, error) {
	var (
		name  string
		parts []iter.Seq2[schema.Field, error]
	)
	switch v {
	case schema.VariantFlat:
		name = schema.FlatName(e.Name)
		parts = append(parts, s.cls.SimpleFields(e, exclude, true))
	case schema.VariantFull:
		name = schema.ModelName(e.Name)
		parts = append(parts,
			s.cls.SimpleFields(e, exclude, false),
			s.cls.ComputedFields(e, exclude),
			s.cls.RelationshipFields(e, exclude),
		)
	case schema.VariantWrite:
		name = schema.ModelName(e.Name)
		parts = append(parts,
			s.cls.SimpleFields(e, exclude, true),
			s.cls.RelationshipFields(e, exclude),
		)
	default:
		return nil, fmt.Errorf("synthesize %s: variant %s is built by Validating", e.Name, v)
	}

	m := schema.NewModel(name, e.Name, v, s.ns)
	if err := collect(e, m, parts...); err != nil {
		return nil, err
	}
	return m, nil
}

// Validating строит схему, привязанную к сессии: связи принимают первичные ключи
// целей, вычисляемые свойства только отдаются. FK-колонки остаются колонками и
// проверяются на существование цели; колонка и её belongs_to образуют пару, так что
// запись принимает значения flat-модели как есть.
func (s *Synthesizer) Validating(e *dsl.Entity, session schema.Session, exclude map[string]bool) (*schema.Validating, error) {
	if err := CheckName(e); err != nil {
		return nil, err
	}
	pairs := map[string]string{}
	for _, a := range e.Relationships() {
		if a.Inverse || a.ForeignKey == "" || exclude[a.Name] || exclude[a.ForeignKey] {
			continue
		}
		pairs[a.ForeignKey] = a.Name
		pairs[a.Name] = a.ForeignKey
	}

	m := schema.NewModel(schema.SchemaName(e.Name), e.Name, schema.VariantValidating, s.ns)
	err := collect(e, m,
		paired(s.cls.SimpleFields(e, exclude, true), pairs),
		s.cls.ComputedFields(e, exclude),
		paired(s.cls.ReferenceFields(e, exclude), pairs),
	)
	if err != nil {
		return nil, err
	}
	return schema.NewValidating(m, session)
}

func paired(seq iter.Seq2[schema.Field, error], pairs map[string]string) iter.Seq2[schema.Field, error] {
	return func(yield func(schema.Field, error) bool) {
		for f, err := range seq {
			if err == nil {
				f.Pair = pairs[f.Name]
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

func collect(e *dsl.Entity, m *schema.Model, parts ...iter.Seq2[schema.Field, error]) error {
	for _, seq := range parts {
		for f, err := range seq {
			if err != nil {
				return err
			}
			if err := m.Add(f); err != nil {
				if errors.Is(err, schema.ErrDuplicateField) {
					return configErr(e.Name, f.Name, fmt.Errorf("%w in %s", ErrFieldCollision, m.Name()))
				}
				return err
			}
		}
	}
	return nil
}
