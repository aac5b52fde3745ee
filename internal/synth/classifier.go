package synth

import (
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// Classifier раскладывает атрибуты сущности по категориям полей схемы.
// Каждая категория — отдельная ленивая последовательность; ошибка конфигурации
// отдаётся вторым значением и останавливает последовательность.
type Classifier struct {
	res *Resolver
	reg *dsl.Registry
	log *zap.Logger
}

func NewClassifier(reg *dsl.Registry, res *Resolver, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{res: res, reg: reg, log: log}
}

func known(k dsl.AttrKind) bool {
	switch k {
	case dsl.AttrColumn, dsl.AttrForeignKey, dsl.AttrToOne, dsl.AttrToMany, dsl.AttrComputed:
		return true
	}
	return false
}

// autoKey: первичный ключ, который хранилище умеет выдать само.
func autoKey(a *dsl.Attribute, t schema.Type) bool {
	if !a.Primary || len(t.Enum) > 0 {
		return false
	}
	switch t.Kind {
	case schema.KindInt, schema.KindString, schema.KindUUID:
		return true
	}
	return false
}

// WarnUnsupported логирует атрибуты неизвестного вида; все категории их пропускают.
// Возвращает их число.
func (c *Classifier) WarnUnsupported(e *dsl.Entity) int {
	n := 0
	for _, a := range e.Attrs {
		if known(a.Kind) {
			continue
		}
		n++
		c.log.Warn("unsupported attribute kind, skipped",
			zap.String("entity", e.Name), zap.String("field", a.Name), zap.Int("kind", int(a.Kind)))
	}
	return n
}

// SimpleFields — физические колонки в порядке объявления.
// FK-колонки включаются только при includeFK.
func (c *Classifier) SimpleFields(e *dsl.Entity, exclude map[string]bool, includeFK bool) iter.Seq2[schema.Field, error] {
	return func(yield func(schema.Field, error) bool) {
		for _, a := range e.Attrs {
			if !known(a.Kind) || !a.Physical() || exclude[a.Name] {
				continue
			}
			if a.Kind == dsl.AttrForeignKey && !includeFK {
				continue
			}
			t, ok := dsl.PrimitiveType(a)
			if !ok {
				yield(schema.Field{}, configErr(e.Name, a.Name, fmt.Errorf("%w: column type %q", ErrUnsupportedField, a.Type.Name)))
				return
			}
			f := schema.Field{Name: a.Name, FieldDecl: schema.Decl(t, a.Nullable()), AutoKey: autoKey(a, t)}
			if a.Kind == dsl.AttrForeignKey {
				if target, ok := c.reg.Get(a.Target); ok {
					f.Ref = &schema.RefTarget{Entity: target.Name, Table: target.Table}
				}
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// RelationshipFields — связи как вложенные flat-модели: to-many списком,
// to-one nullable по объявлению.
func (c *Classifier) RelationshipFields(e *dsl.Entity, exclude map[string]bool) iter.Seq2[schema.Field, error] {
	return func(yield func(schema.Field, error) bool) {
		for _, a := range e.Attrs {
			if !a.Relationship() || exclude[a.Name] {
				continue
			}
			t, nullable, err := c.res.Resolve(dsl.TypeExpr{Name: a.Target, Nullable: a.Nullable()})
			if err == nil && t.Kind != schema.KindRef {
				err = fmt.Errorf("%w: %q is not an entity", ErrUnknownTarget, a.Target)
			}
			if err != nil {
				yield(schema.Field{}, configErr(e.Name, a.Name, err))
				return
			}
			decl := schema.Decl(t, nullable)
			if a.Kind == dsl.AttrToMany {
				decl = schema.Decl(schema.List(t), false)
			}
			if !yield(schema.Field{Name: a.Name, FieldDecl: decl}, nil) {
				return
			}
		}
	}
}

// ReferenceFields — связи для validating-схемы: значения — первичные ключи целей.
func (c *Classifier) ReferenceFields(e *dsl.Entity, exclude map[string]bool) iter.Seq2[schema.Field, error] {
	return func(yield func(schema.Field, error) bool) {
		for _, a := range e.Attrs {
			if !a.Relationship() || exclude[a.Name] {
				continue
			}
			target, ok := c.reg.Get(a.Target)
			if !ok {
				yield(schema.Field{}, configErr(e.Name, a.Name, fmt.Errorf("%w: %q", ErrUnknownTarget, a.Target)))
				return
			}
			pk, _ := dsl.PrimitiveType(target.PrimaryKey())
			ref := &schema.RefTarget{Entity: target.Name, Table: target.Table}
			decl := schema.Decl(pk, a.Nullable())
			if a.Kind == dsl.AttrToMany {
				ref.Many = true
				decl = schema.Decl(schema.List(pk), false)
			}
			if !yield(schema.Field{Name: a.Name, FieldDecl: decl, Ref: ref}, nil) {
				return
			}
		}
	}
}

// ComputedFields — вычисляемые свойства, только чтение. Тип — примитив или
// сущность; всё прочее — ошибка конфигурации.
func (c *Classifier) ComputedFields(e *dsl.Entity, exclude map[string]bool) iter.Seq2[schema.Field, error] {
	return func(yield func(schema.Field, error) bool) {
		for _, a := range e.Attrs {
			if a.Kind != dsl.AttrComputed || exclude[a.Name] {
				continue
			}
			t, nullable, err := c.res.Resolve(a.Type)
			if errors.Is(err, ErrUnknownTarget) {
				err = fmt.Errorf("%w: computed type %q", ErrUnsupportedField, a.Type.Name)
			}
			if err != nil {
				yield(schema.Field{}, configErr(e.Name, a.Name, err))
				return
			}
			if a.Type.List {
				t = schema.List(t)
			}
			f := schema.Field{Name: a.Name, FieldDecl: schema.Decl(t, nullable), ReadOnly: true}
			if !yield(f, nil) {
				return
			}
		}
	}
}
