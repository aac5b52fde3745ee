// Package schema описывает синтезированные схемы сущностей: таксономию типов полей,
// политику значений по умолчанию, модели (flat/full/write/validating) и пространство
// имён forward-ссылок, через которое модели ссылаются друг на друга.
package schema

import (
	"strings"
)

// Kind — вид типа поля.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
	KindDateTime
	KindUUID
	KindJSON

	// составные
	KindNullable
	KindList
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "json"
	case KindNullable:
		return "nullable"
	case KindList:
		return "list"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// ParseKind сопоставляет имя примитива из DSL виду типа.
// enum здесь не примитив: значения перечисления несёт сам Type.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "text":
		return KindString, true
	case "int", "integer", "bigint":
		return KindInt, true
	case "float", "decimal", "money":
		return KindFloat, true
	case "bool", "boolean":
		return KindBool, true
	case "date":
		return KindDate, true
	case "datetime", "timestamp":
		return KindDateTime, true
	case "uuid":
		return KindUUID, true
	case "json", "jsonb":
		return KindJSON, true
	default:
		return 0, false
	}
}

// Type — тип значения поля схемы.
type Type struct {
	Kind Kind
	Elem *Type  // для KindNullable и KindList
	Ref  string // для KindRef: имя модели в пространстве имён
	Enum []string
}

func Prim(k Kind) Type { return Type{Kind: k} }

// Enum — строка, ограниченная набором значений.
func Enum(values ...string) Type {
	return Type{Kind: KindString, Enum: append([]string(nil), values...)}
}

// Nullable оборачивает тип в «T или null». Повторная обёртка не меняет тип.
func Nullable(t Type) Type {
	if t.Kind == KindNullable {
		return t
	}
	return Type{Kind: KindNullable, Elem: &t}
}

func List(t Type) Type { return Type{Kind: KindList, Elem: &t} }

// Ref — именованная forward-ссылка. Разрешается лениво, через пространство имён модели.
func Ref(name string) Type { return Type{Kind: KindRef, Ref: name} }

func (t Type) IsNullable() bool { return t.Kind == KindNullable }

func (t Type) IsList() bool { return t.Base().Kind == KindList }

// Base снимает обёртку nullable.
func (t Type) Base() Type {
	if t.Kind == KindNullable && t.Elem != nil {
		return *t.Elem
	}
	return t
}

func (t Type) String() string {
	switch t.Kind {
	case KindNullable:
		return t.Elem.String() + "?"
	case KindList:
		return "[]" + t.Elem.String()
	case KindRef:
		return t.Ref
	default:
		if len(t.Enum) > 0 {
			return "enum[" + strings.Join(t.Enum, ",") + "]"
		}
		return t.Kind.String()
	}
}

// refs собирает имена forward-ссылок внутри типа.
func (t Type) refs(out map[string]struct{}) {
	switch t.Kind {
	case KindRef:
		out[t.Ref] = struct{}{}
	case KindNullable, KindList:
		t.Elem.refs(out)
	}
}

// DefaultPolicy — что подставлять, если поле не передано.
type DefaultPolicy int

const (
	Required DefaultPolicy = iota
	DefaultNull
	DefaultEmptyList
)

func (p DefaultPolicy) String() string {
	switch p {
	case Required:
		return "required"
	case DefaultNull:
		return "default-null"
	case DefaultEmptyList:
		return "default-empty-collection"
	default:
		return "unknown"
	}
}

// PolicyFor: nullable -> null, иначе список -> пустой список, иначе обязательно.
func PolicyFor(t Type) DefaultPolicy {
	if t.IsNullable() {
		return DefaultNull
	}
	if t.Kind == KindList {
		return DefaultEmptyList
	}
	return Required
}

// FieldDecl — пара (тип, политика умолчания), из которой собирается модель.
type FieldDecl struct {
	Type    Type
	Default DefaultPolicy
}

// Decl строит объявление поля; nullable оборачивает тип.
func Decl(t Type, nullable bool) FieldDecl {
	if nullable {
		t = Nullable(t)
	}
	return FieldDecl{Type: t, Default: PolicyFor(t)}
}

// RefTarget — куда указывает поле-ссылка validating-схемы.
type RefTarget struct {
	Entity string
	Table  string
	Many   bool
}

// Field — именованное поле модели.
type Field struct {
	Name string
	FieldDecl

	// ReadOnly: поле только отдаётся (computed в validating-схеме).
	ReadOnly bool
	// AutoKey: первичный ключ, который хранилище может выдать само.
	AutoKey bool
	Ref     *RefTarget
	// Pair — поле, несущее ту же ссылку (FK-колонка и её belongs_to).
	// Если передано парное поле, это можно опустить; переданные оба должны совпадать.
	Pair string
}
