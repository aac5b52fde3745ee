package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
	"crudkit/internal/store"
)

func key(v any) string { return fmt.Sprint(v) }

// expand собирает полное представление записи: связи как flat-записи целей
// и значения computed (getter видит уже подставленные связи).
func (s *Server) expand(ctx context.Context, reg *dsl.Registry, e *dsl.Entity, row store.Row) (map[string]any, error) {
	out := make(map[string]any, len(e.Attrs))
	for k, v := range row {
		out[k] = v
	}
	pk := row[e.PrimaryKey().Name]

	for _, a := range e.Relationships() {
		target, ok := reg.Get(a.Target)
		if !ok {
			continue
		}
		switch {
		case a.Kind == dsl.AttrToOne && !a.Inverse:
			fk := row[a.ForeignKey]
			if fk == nil {
				out[a.Name] = nil
				continue
			}
			rec, err := s.store.Get(ctx, target, fk)
			if errors.Is(err, store.ErrNotFound) {
				out[a.Name] = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			out[a.Name] = map[string]any(rec)

		case a.Kind == dsl.AttrToOne:
			rows, _, err := s.store.List(ctx, target, store.Query{Limit: 1, Filters: map[string]any{a.ForeignKey: pk}})
			if err != nil {
				return nil, err
			}
			out[a.Name] = nil
			if len(rows) > 0 {
				out[a.Name] = map[string]any(rows[0])
			}

		default:
			rows, _, err := s.store.List(ctx, target, store.Query{Filters: map[string]any{a.ForeignKey: pk}})
			if err != nil {
				return nil, err
			}
			items := make([]any, len(rows))
			for i, r := range rows {
				items[i] = map[string]any(r)
			}
			out[a.Name] = items
		}
	}

	for _, a := range e.Attrs {
		if a.Kind != dsl.AttrComputed || a.Getter == nil {
			continue
		}
		v, err := a.Getter(out)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Name, a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

// render отдаёт запись по full-схеме сущности.
func (s *Server) render(ctx context.Context, reg *dsl.Registry, e *dsl.Entity, row store.Row) (map[string]any, error) {
	full := e.Schemas().Full
	if full == nil {
		return nil, fmt.Errorf("%s: schemas are not synthesized", e.Name)
	}
	obj, err := s.expand(ctx, reg, e, row)
	if err != nil {
		return nil, err
	}
	return full.Validate(obj)
}

// link — связь, FK которой лежит в цели: has_one / has_many.
type link struct {
	attr   *dsl.Attribute
	target *dsl.Entity
	ids    []any
}

// split раскладывает проверенный вход на колонки записи и связи на стороне цели.
// belongs_to превращается в значение своей FK-колонки.
func split(reg *dsl.Registry, e *dsl.Entity, loaded map[string]any) (store.Row, []link) {
	row := store.Row{}
	var links []link
	for _, a := range e.Attrs {
		v, ok := loaded[a.Name]
		if !ok {
			continue
		}
		switch {
		case a.Physical():
			row[a.Name] = v
		case a.Kind == dsl.AttrToOne && !a.Inverse:
			row[a.ForeignKey] = v
		case a.Relationship():
			target, ok := reg.Get(a.Target)
			if !ok {
				continue
			}
			var ids []any
			if a.Kind == dsl.AttrToMany {
				ids, _ = v.([]any)
			} else if v != nil {
				ids = []any{v}
			}
			links = append(links, link{attr: a, target: target, ids: ids})
		}
	}
	return row, links
}

// applyLinks направляет FK перечисленных записей цели на id. При replace
// записи, которые больше не перечислены, отвязываются (FK обязан допускать null).
func (s *Server) applyLinks(ctx context.Context, id any, links []link, replace bool) error {
	for _, l := range links {
		fk, ok := l.target.Attr(l.attr.ForeignKey)
		if !ok {
			return fmt.Errorf("%s: unknown foreign key %s.%s", l.attr.Name, l.target.Name, l.attr.ForeignKey)
		}
		want := make(map[string]bool, len(l.ids))
		for _, tid := range l.ids {
			want[key(tid)] = true
			if _, err := s.store.Update(ctx, l.target, tid, store.Row{fk.Name: id}); err != nil {
				return err
			}
		}
		if !replace {
			continue
		}
		rows, _, err := s.store.List(ctx, l.target, store.Query{Filters: map[string]any{fk.Name: id}})
		if err != nil {
			return err
		}
		tpk := l.target.PrimaryKey().Name
		for _, r := range rows {
			if want[key(r[tpk])] {
				continue
			}
			if !fk.Nullable() {
				return fmt.Errorf("%w: %s %v cannot be unlinked from %s (non-null %s)",
					store.ErrConflict, l.target.Name, r[tpk], l.attr.Name, fk.Name)
			}
			if _, err := s.store.Update(ctx, l.target, r[tpk], store.Row{fk.Name: nil}); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkRefs: FK-колонки и связи из входа write-схемы указывают на существующие записи.
func (s *Server) checkRefs(ctx context.Context, reg *dsl.Registry, e *dsl.Entity, row store.Row, links []link) error {
	var errs []schema.FieldError
	for _, a := range e.Columns() {
		if a.Kind != dsl.AttrForeignKey || row[a.Name] == nil {
			continue
		}
		target, ok := reg.Get(a.Target)
		if !ok {
			continue
		}
		found, err := s.store.Exists(ctx, target.Table, row[a.Name])
		if err != nil {
			return err
		}
		if !found {
			errs = append(errs, schema.FieldError{Code: schema.ErrRefNotFound, Field: a.Name,
				Message: fmt.Sprintf("Referenced '%s' %v not found", target.Name, row[a.Name])})
		}
	}
	for _, l := range links {
		for _, id := range l.ids {
			found, err := s.store.Exists(ctx, l.target.Table, id)
			if err != nil {
				return err
			}
			if !found {
				errs = append(errs, schema.FieldError{Code: schema.ErrRefNotFound, Field: l.attr.Name,
					Message: fmt.Sprintf("Referenced '%s' %v not found", l.target.Name, id)})
				break
			}
		}
	}
	if len(errs) > 0 {
		return &schema.ValidationError{Model: e.Name, Errors: errs}
	}
	return nil
}

// fail переводит ошибку в HTTP-ответ.
func (s *Server) fail(c *gin.Context, err error) {
	if ve, ok := schema.AsValidation(err); ok {
		status := http.StatusBadRequest
		if ve.Has(schema.ErrRefNotFound) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"errors": ve.Errors})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found", "details": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
