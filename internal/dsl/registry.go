package dsl

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"crudkit/internal/schema"
)

var (
	ErrDuplicateEntity = errors.New("dsl: duplicate entity")
	ErrUnknownEntity   = errors.New("dsl: unknown entity")
	ErrInvalidEntity   = errors.New("dsl: invalid entity")
	ErrFinalized       = errors.New("dsl: registry is finalized")
)

// Registry — реестр сущностей. После Finalize структура не меняется,
// меняются только привязанные артефакты синтеза.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	byName   map[string]*Entity
	byTable  map[string]*Entity
	catalogs map[string][]string
	final    bool

	runMu sync.Mutex // сериализует прогоны синтеза
}

func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Entity),
		byTable: make(map[string]*Entity),
	}
}

// TableName — имя таблицы по умолчанию: BlogPost -> blog_posts.
func TableName(entity string) string {
	return inflect.Pluralize(inflect.Underscore(entity))
}

func (r *Registry) Register(entities ...*Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final {
		return ErrFinalized
	}
	for _, e := range entities {
		if e == nil || strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("%w: empty entity name", ErrInvalidEntity)
		}
		if e.Table == "" {
			e.Table = TableName(e.Name)
		}
		if _, exists := r.byName[e.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, e.Name)
		}
		if other, exists := r.byTable[e.Table]; exists {
			return fmt.Errorf("%w: table %q used by %s and %s", ErrDuplicateEntity, e.Table, other.Name, e.Name)
		}
		r.order = append(r.order, e.Name)
		r.byName[e.Name] = e
		r.byTable[e.Table] = e
	}
	return nil
}

func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) ByTable(table string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTable[table]
	return e, ok
}

// Entities — сущности в порядке регистрации.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Tables — отображение имя таблицы -> сущность.
func (r *Registry) Tables() map[string]*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Entity, len(r.byTable))
	for t, e := range r.byTable {
		out[t] = e
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// UseCatalogs подключает enum-справочники для опции catalog=.
func (r *Registry) UseCatalogs(c map[string][]string) {
	r.mu.Lock()
	r.catalogs = c
	r.mu.Unlock()
}

// BindComputed привязывает getter к вычисляемому свойству.
func (r *Registry) BindComputed(entity, attr string, g Getter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	a, ok := e.Attr(attr)
	if !ok || a.Kind != AttrComputed {
		return fmt.Errorf("%w: %s.%s is not a computed property", ErrInvalidEntity, entity, attr)
	}
	a.Getter = g
	return nil
}

func (r *Registry) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.final
}

// Finalize проверяет структуру сущностей и достраивает выводимые части:
// типы FK по первичному ключу цели, FK связей, значения enum из справочников,
// getter'ы выражений computed. Отсутствующую цель связи не проверяет:
// это ошибка конфигурации синтеза.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final {
		return nil
	}

	for _, name := range r.order {
		if err := r.checkEntity(r.byName[name]); err != nil {
			return err
		}
	}
	for _, name := range r.order {
		if err := r.resolveEntity(r.byName[name]); err != nil {
			return err
		}
	}
	r.final = true
	return nil
}

func invalid(e *Entity, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEntity, e.Name, fmt.Sprintf(format, args...))
}

func (r *Registry) checkEntity(e *Entity) error {
	seen := map[string]bool{}
	var pk *Attribute
	for _, a := range e.Attrs {
		if a.Name == "" {
			return invalid(e, "attribute without name")
		}
		if seen[a.Name] {
			return invalid(e, "duplicate attribute %q", a.Name)
		}
		seen[a.Name] = true

		if a.Primary {
			if pk != nil {
				return invalid(e, "multiple primary keys (%s, %s)", pk.Name, a.Name)
			}
			pk = a
		}
		if a.Kind == AttrColumn && !a.Type.Primitive() {
			return invalid(e, "column %q has non-primitive type %q", a.Name, a.Type.Name)
		}
	}
	if pk == nil {
		return invalid(e, "no primary key")
	}
	if pk.Kind != AttrColumn || pk.Type.Nullable || strings.EqualFold(pk.Type.Name, "enum") {
		return invalid(e, "primary key %q must be a non-null primitive column", pk.Name)
	}
	for _, set := range e.Constraints.Unique {
		for _, f := range set {
			if !seen[f] {
				return invalid(e, "unique constraint references unknown field %q", f)
			}
		}
	}
	return nil
}

func (r *Registry) resolveEntity(e *Entity) error {
	for _, a := range e.Attrs {
		switch a.Kind {
		case AttrForeignKey:
			target, ok := r.byName[a.Target]
			if !ok {
				return fmt.Errorf("%w: %s.%s references %s", ErrUnknownEntity, e.Name, a.Name, a.Target)
			}
			a.Type.Name = target.PrimaryKey().Type.Name
			switch a.OnDelete() {
			case OnDeleteRestrict, OnDeleteCascade:
			case OnDeleteSetNull:
				if !a.Type.Nullable {
					return invalid(e, "non-null %q cannot use on_delete=set_null", a.Name)
				}
			default:
				return invalid(e, "unknown on_delete policy %q on %q", a.OnDelete(), a.Name)
			}

		case AttrToOne, AttrToMany:
			if err := r.inferForeignKey(e, a); err != nil {
				return err
			}

		case AttrComputed:
			if a.Getter == nil {
				if strings.TrimSpace(a.Expr) == "" {
					return invalid(e, "computed %q has neither expression nor getter", a.Name)
				}
				g, err := CompileExpr(a.Expr)
				if err != nil {
					return invalid(e, "computed %q: %v", a.Name, err)
				}
				a.Getter = g
			}

		case AttrColumn:
			if catalog := a.Option("catalog"); catalog != "" {
				vals, ok := r.catalogs[catalog]
				if !ok {
					return invalid(e, "%q references unknown catalog %q", a.Name, catalog)
				}
				a.Type.Name = "enum"
				a.Enum = append([]string(nil), vals...)
			}
			if strings.EqualFold(a.Type.Name, "enum") && len(a.Enum) == 0 {
				return invalid(e, "enum %q has no values", a.Name)
			}
		}
	}
	return nil
}

// inferForeignKey находит FK-колонку связи. Опция fk= задаёт её явно.
func (r *Registry) inferForeignKey(e *Entity, a *Attribute) error {
	target, ok := r.byName[a.Target]
	if !ok {
		return nil
	}
	// belongs_to: FK в этой сущности; has_one/has_many: в цели, указывает сюда
	holder, points := e, target.Name
	if a.Inverse {
		holder, points = target, e.Name
	}

	if fk := a.Option("fk"); fk != "" {
		col, ok := holder.Attr(fk)
		if !ok || col.Kind != AttrForeignKey || col.Target != points {
			return invalid(e, "relationship %q: %s.%s is not a foreign key to %s", a.Name, holder.Name, fk, points)
		}
		a.ForeignKey = fk
		return nil
	}

	var found []string
	for _, c := range holder.Attrs {
		if c.Kind == AttrForeignKey && c.Target == points {
			found = append(found, c.Name)
		}
	}
	switch len(found) {
	case 1:
		a.ForeignKey = found[0]
		return nil
	case 0:
		return invalid(e, "relationship %q: %s has no foreign key to %s", a.Name, holder.Name, points)
	default:
		return invalid(e, "relationship %q: ambiguous foreign keys %v, use fk=", a.Name, found)
	}
}

// Backref — FK-колонка, ссылающаяся на сущность.
type Backref struct {
	Entity *Entity
	Attr   *Attribute
	Policy string
}

// Referencing — все FK-колонки реестра, указывающие на target.
func (r *Registry) Referencing(target string) []Backref {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Backref
	for _, name := range r.order {
		e := r.byName[name]
		for _, a := range e.Attrs {
			if a.Kind == AttrForeignKey && a.Target == target {
				out = append(out, Backref{Entity: e, Attr: a, Policy: a.OnDelete()})
			}
		}
	}
	return out
}

// Exclusive выполняет fn, не пересекаясь с другими прогонами синтеза этого реестра.
func (r *Registry) Exclusive(fn func() error) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return fn()
}

// PrimitiveType переводит примитивный TypeExpr (без nullable) в тип схемы.
func PrimitiveType(a *Attribute) (schema.Type, bool) {
	if strings.EqualFold(a.Type.Name, "enum") {
		return schema.Enum(a.Enum...), true
	}
	k, ok := schema.ParseKind(a.Type.Name)
	if !ok {
		return schema.Type{}, false
	}
	return schema.Prim(k), true
}
