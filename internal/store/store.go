// Package store — доступ к данным сущностей: хранилище в памяти и SQL
// (sqlite, postgres). Хранилище же служит сессией validating-схем.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: conflict")
)

// Row — запись: имя колонки -> значение.
type Row map[string]any

type SortKey struct {
	Field string
	Desc  bool
}

// Query — выборка списка: равенства по колонкам, сортировка, страница.
type Query struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters map[string]any // nil означает IS NULL
}

type Store interface {
	schema.Session

	// Use привязывает реестр: хранилище узнаёт таблицы, ключи и связи.
	Use(reg *dsl.Registry)
	// Migrate создаёт таблицы привязанного реестра.
	Migrate(ctx context.Context) error

	Insert(ctx context.Context, e *dsl.Entity, row Row) (Row, error)
	Get(ctx context.Context, e *dsl.Entity, id any) (Row, error)
	List(ctx context.Context, e *dsl.Entity, q Query) ([]Row, int, error)
	// Update меняет только переданные колонки.
	Update(ctx context.Context, e *dsl.Entity, id any, patch Row) (Row, error)
	// Delete применяет on_delete политики ссылающихся таблиц.
	Delete(ctx context.Context, e *dsl.Entity, id any) error
	Close() error
}

// ParseID приводит идентификатор из URL к типу первичного ключа.
func ParseID(e *dsl.Entity, raw string) (any, error) {
	t, ok := dsl.PrimitiveType(e.PrimaryKey())
	if !ok {
		return nil, fmt.Errorf("%s: unsupported primary key type", e.Name)
	}
	id, err := schema.Coerce(t, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id %q: %v", ErrNotFound, raw, err)
	}
	return id, nil
}

// columns — значения физических колонок сущности из row (только переданные).
func columns(e *dsl.Entity, row Row) ([]string, []any) {
	var names []string
	var vals []any
	for _, a := range e.Columns() {
		if v, ok := row[a.Name]; ok {
			names = append(names, a.Name)
			vals = append(vals, v)
		}
	}
	return names, vals
}

func isColumn(e *dsl.Entity, name string) bool {
	a, ok := e.Attr(name)
	return ok && a.Physical()
}

// New открывает хранилище по имени драйвера: memory, sqlite, postgres.
func New(ctx context.Context, driver, url string, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "postgres":
		d := Postgres
		if strings.EqualFold(driver, "sqlite") {
			d = SQLite
		}
		db, err := Open(ctx, d, url)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		return NewSQL(db, d, log), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q (memory|sqlite|postgres)", driver)
	}
}
