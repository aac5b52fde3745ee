package api

import (
	"fmt"
	"strings"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// applyDefaults подставляет default= из DSL для отсутствующих колонок.
func applyDefaults(e *dsl.Entity, obj map[string]any) error {
	for _, a := range e.Columns() {
		if _, ok := obj[a.Name]; ok {
			continue
		}
		dv := strings.TrimSpace(a.Option("default"))
		if dv == "" {
			continue
		}
		t, ok := dsl.PrimitiveType(a)
		if !ok {
			continue
		}
		v, err := schema.Coerce(t, dv)
		if err != nil {
			return fmt.Errorf("%s.%s: bad default %q: %w", e.Name, a.Name, dv, err)
		}
		obj[a.Name] = v
	}
	return nil
}

// checkReadonly: computed-поля клиент не передаёт.
func checkReadonly(e *dsl.Entity, obj map[string]any) []schema.FieldError {
	var errs []schema.FieldError
	for _, a := range e.Attrs {
		if _, ok := obj[a.Name]; ok && !a.Writable() {
			errs = append(errs, schema.FieldError{Code: schema.ErrReadOnly, Field: a.Name,
				Message: "Field '" + a.Name + "' is read-only"})
		}
	}
	return errs
}

// checkPathID: ключ в теле, если есть, совпадает с ключом из URL.
func checkPathID(e *dsl.Entity, obj map[string]any, id any) []schema.FieldError {
	pk := e.PrimaryKey()
	v, ok := obj[pk.Name]
	if !ok || v == nil {
		return nil
	}
	t, _ := dsl.PrimitiveType(pk)
	norm, err := schema.Coerce(t, v)
	if err != nil || key(norm) != key(id) {
		return []schema.FieldError{{Code: schema.ErrTypeMismatch, Field: pk.Name,
			Message: "Field '" + pk.Name + "' does not match the record id"}}
	}
	return nil
}

// resolveNested заменяет вложенные объекты связей write-схемы ключами целей:
// belongs_to — значением FK-колонки, has_one/has_many — списком ключей.
func resolveNested(reg *dsl.Registry, e *dsl.Entity, obj map[string]any) (map[string]any, []schema.FieldError) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	var errs []schema.FieldError
	for _, a := range e.Relationships() {
		v, ok := out[a.Name]
		if !ok {
			continue
		}
		target, ok := reg.Get(a.Target)
		if !ok {
			continue
		}
		tpk := target.PrimaryKey().Name
		idOf := func(x any) any {
			if m, ok := x.(map[string]any); ok {
				return m[tpk]
			}
			return nil
		}

		if a.Kind == dsl.AttrToMany {
			items, _ := v.([]any)
			ids := make([]any, 0, len(items))
			for _, it := range items {
				ids = append(ids, idOf(it))
			}
			out[a.Name] = ids
			continue
		}
		if v == nil {
			if !a.Inverse {
				// belongs_to без объекта: решает сама FK-колонка
				delete(out, a.Name)
			}
			continue
		}
		id := idOf(v)
		if !a.Inverse {
			if fk, has := out[a.ForeignKey]; has && fk != nil && key(fk) != key(id) {
				errs = append(errs, schema.FieldError{Code: schema.ErrTypeMismatch, Field: a.Name,
					Message: fmt.Sprintf("Field '%s' disagrees with '%s'", a.Name, a.ForeignKey)})
				continue
			}
		}
		out[a.Name] = id
	}
	return out, errs
}
