package schema

import (
	"sort"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const defsPrefix = "#/$defs/"

// JSONSchema рендерит модель как объектную JSON Schema.
// Forward-ссылки остаются $ref на #/$defs/<Name>.
func (m *Model) JSONSchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string

	for _, f := range m.fields {
		s := typeSchema(f.Type)
		switch f.Default {
		case Required:
			if m.variant != VariantValidating || (!f.AutoKey && f.Pair == "") {
				required = append(required, f.Name)
			}
		case DefaultEmptyList:
			s.Default = []any{}
		}
		if f.ReadOnly {
			s.ReadOnly = true
		}
		props.Set(f.Name, s)
	}

	return &jsonschema.Schema{
		Title:                m.name,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.TrueSchema,
	}
}

// Document — самодостаточный документ: схема модели плюс $defs со всеми
// транзитивно достижимыми моделями пространства имён.
func (m *Model) Document() (*jsonschema.Schema, error) {
	doc := m.JSONSchema()
	doc.Version = jsonschema.Version

	defs := jsonschema.Definitions{}
	pending := m.refNames()
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		if _, done := defs[name]; done {
			continue
		}
		target, err := m.ns.Lookup(name)
		if err != nil {
			return nil, err
		}
		defs[name] = target.JSONSchema()
		pending = append(pending, target.refNames()...)
	}
	if len(defs) > 0 {
		doc.Definitions = defs
	}
	return doc, nil
}

// refNames — имена forward-ссылок полей модели, отсортированы.
func (m *Model) refNames() []string {
	set := map[string]struct{}{}
	for _, f := range m.fields {
		f.Type.refs(set)
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func typeSchema(t Type) *jsonschema.Schema {
	switch t.Kind {
	case KindNullable:
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{typeSchema(*t.Elem), {Type: "null"}}}
	case KindList:
		return &jsonschema.Schema{Type: "array", Items: typeSchema(*t.Elem)}
	case KindRef:
		return &jsonschema.Schema{Ref: defsPrefix + t.Ref}
	case KindString:
		s := &jsonschema.Schema{Type: "string"}
		for _, ev := range t.Enum {
			s.Enum = append(s.Enum, ev)
		}
		return s
	case KindInt:
		return &jsonschema.Schema{Type: "integer"}
	case KindFloat:
		return &jsonschema.Schema{Type: "number"}
	case KindBool:
		return &jsonschema.Schema{Type: "boolean"}
	case KindDate:
		return &jsonschema.Schema{Type: "string", Format: "date"}
	case KindDateTime:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case KindUUID:
		return &jsonschema.Schema{Type: "string", Format: "uuid"}
	default:
		// json: любое значение
		return &jsonschema.Schema{}
	}
}
