package dsl

import (
	"strings"
	"sync"

	"crudkit/internal/schema"
)

// AttrKind — вид атрибута сущности.
type AttrKind int

const (
	AttrColumn     AttrKind = iota // обычная колонка
	AttrForeignKey                 // колонка-ссылка на первичный ключ другой сущности
	AttrToOne                      // связь belongs_to / has_one
	AttrToMany                     // связь has_many
	AttrComputed                   // вычисляемое свойство, только чтение
)

func (k AttrKind) String() string {
	switch k {
	case AttrColumn:
		return "column"
	case AttrForeignKey:
		return "foreign_key"
	case AttrToOne:
		return "to_one"
	case AttrToMany:
		return "to_many"
	case AttrComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Политики on_delete для внешних ключей
const (
	OnDeleteRestrict = "restrict"
	OnDeleteSetNull  = "set_null"
	OnDeleteCascade  = "cascade"
)

// TypeExpr — объявленный тип атрибута: примитив или имя сущности.
type TypeExpr struct {
	Name     string
	Nullable bool
	List     bool
}

// T — обязательный тип по имени.
func T(name string) TypeExpr { return TypeExpr{Name: name} }

// Null — тот же тип, допускающий null.
func (t TypeExpr) Null() TypeExpr {
	t.Nullable = true
	return t
}

// Primitive: имя — примитив DSL (включая enum).
func (t TypeExpr) Primitive() bool {
	if strings.EqualFold(t.Name, "enum") {
		return true
	}
	_, ok := schema.ParseKind(t.Name)
	return ok
}

func (t TypeExpr) String() string {
	s := t.Name
	if t.List {
		s = "[]" + s
	}
	if t.Nullable {
		s += "?"
	}
	return s
}

// Getter вычисляет значение computed-свойства по собранной записи
// (колонки плюс связи в flat-виде).
type Getter func(row map[string]any) (any, error)

// Attribute описывает атрибут сущности
type Attribute struct {
	Name    string
	Kind    AttrKind
	Type    TypeExpr
	Primary bool

	// Target — целевая сущность FK-колонки или связи.
	Target string
	// ForeignKey — для связи: FK-колонка, через которую она хранится.
	ForeignKey string
	// Inverse: FK хранится в целевой сущности (has_one, has_many), иначе в этой (belongs_to).
	Inverse bool

	Enum    []string          // значения enum
	Options map[string]string // unique, default, on_delete, catalog и прочие опции

	Expr   string // выражение computed из DSL
	Getter Getter
}

// Physical: атрибут хранится колонкой.
func (a *Attribute) Physical() bool {
	return a.Kind == AttrColumn || a.Kind == AttrForeignKey
}

// Writable: участвует в схемах записи.
func (a *Attribute) Writable() bool { return a.Kind != AttrComputed }

func (a *Attribute) Nullable() bool { return a.Type.Nullable }

func (a *Attribute) Relationship() bool {
	return a.Kind == AttrToOne || a.Kind == AttrToMany
}

func (a *Attribute) Option(name string) string {
	if a.Options == nil {
		return ""
	}
	return a.Options[name]
}

// OnDelete — политика удаления для FK, по умолчанию restrict.
func (a *Attribute) OnDelete() string {
	if p := strings.ToLower(strings.TrimSpace(a.Option("on_delete"))); p != "" {
		return p
	}
	return OnDeleteRestrict
}

// AttrOption настраивает атрибут в билдерах Entity.
type AttrOption func(*Attribute)

// Primary помечает первичный ключ.
func Primary() AttrOption { return func(a *Attribute) { a.Primary = true } }

// Opt задаёт произвольную опцию атрибута.
func Opt(key, value string) AttrOption {
	return func(a *Attribute) {
		if a.Options == nil {
			a.Options = map[string]string{}
		}
		a.Options[strings.ToLower(key)] = value
	}
}

// Values задаёт значения enum.
func Values(vals ...string) AttrOption {
	return func(a *Attribute) { a.Enum = append([]string(nil), vals...) }
}

// Constraints — ограничения уровня сущности.
type Constraints struct {
	Unique [][]string // списки полей для составной уникальности
}

// Entity описывает структуру сущности из DSL
type Entity struct {
	Name        string
	Table       string
	Attrs       []*Attribute
	Constraints Constraints

	mu      sync.RWMutex
	schemas schema.Set
}

// NewEntity — пустая сущность; имя таблицы выводится при регистрации, если не задано.
func NewEntity(name string) *Entity {
	return &Entity{Name: name}
}

func (e *Entity) add(a *Attribute, opts []AttrOption) *Entity {
	for _, o := range opts {
		o(a)
	}
	e.Attrs = append(e.Attrs, a)
	return e
}

// Column добавляет колонку примитивного типа.
func (e *Entity) Column(name string, t TypeExpr, opts ...AttrOption) *Entity {
	return e.add(&Attribute{Name: name, Kind: AttrColumn, Type: t}, opts)
}

// ForeignKey добавляет FK-колонку; её тип берётся из первичного ключа цели при Finalize.
func (e *Entity) ForeignKey(name, target string, nullable bool, opts ...AttrOption) *Entity {
	return e.add(&Attribute{
		Name:   name,
		Kind:   AttrForeignKey,
		Type:   TypeExpr{Nullable: nullable},
		Target: target,
	}, opts)
}

// BelongsTo — связь к одной записи через FK этой сущности.
func (e *Entity) BelongsTo(name, target string, nullable bool, opts ...AttrOption) *Entity {
	return e.add(&Attribute{
		Name:   name,
		Kind:   AttrToOne,
		Type:   TypeExpr{Name: target, Nullable: nullable},
		Target: target,
	}, opts)
}

// HasOne — обратная связь к одной записи; всегда допускает отсутствие.
func (e *Entity) HasOne(name, target string, opts ...AttrOption) *Entity {
	return e.add(&Attribute{
		Name:    name,
		Kind:    AttrToOne,
		Type:    TypeExpr{Name: target, Nullable: true},
		Target:  target,
		Inverse: true,
	}, opts)
}

// HasMany — связь к списку записей через FK цели.
func (e *Entity) HasMany(name, target string, opts ...AttrOption) *Entity {
	return e.add(&Attribute{
		Name:    name,
		Kind:    AttrToMany,
		Type:    TypeExpr{Name: target, List: true},
		Target:  target,
		Inverse: true,
	}, opts)
}

// Computed добавляет вычисляемое свойство. g может быть nil, если getter
// привяжут позже через Registry.BindComputed.
func (e *Entity) Computed(name string, t TypeExpr, g Getter) *Entity {
	return e.add(&Attribute{Name: name, Kind: AttrComputed, Type: t, Getter: g}, nil)
}

// ComputedExpr — вычисляемое свойство из выражения DSL (count, present, concat, upper, lower).
func (e *Entity) ComputedExpr(name string, t TypeExpr, expr string) *Entity {
	return e.add(&Attribute{Name: name, Kind: AttrComputed, Type: t, Expr: expr}, nil)
}

// Unique добавляет составное ограничение уникальности.
func (e *Entity) Unique(fields ...string) *Entity {
	e.Constraints.Unique = append(e.Constraints.Unique, append([]string(nil), fields...))
	return e
}

func (e *Entity) Attr(name string) (*Attribute, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (e *Entity) PrimaryKey() *Attribute {
	for _, a := range e.Attrs {
		if a.Primary {
			return a
		}
	}
	return nil
}

// Columns — физические колонки в порядке объявления.
func (e *Entity) Columns() []*Attribute {
	var out []*Attribute
	for _, a := range e.Attrs {
		if a.Physical() {
			out = append(out, a)
		}
	}
	return out
}

func (e *Entity) Relationships() []*Attribute {
	var out []*Attribute
	for _, a := range e.Attrs {
		if a.Relationship() {
			out = append(out, a)
		}
	}
	return out
}

// Schemas — артефакты последнего успешного синтеза.
func (e *Entity) Schemas() schema.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemas
}

// Attach заменяет артефакты целиком.
func (e *Entity) Attach(set schema.Set) {
	e.mu.Lock()
	e.schemas = set
	e.mu.Unlock()
}
