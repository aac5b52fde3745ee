package store

import (
	"fmt"
	"strings"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// Dialect — диалект SQL-хранилища.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// placeholder n-го параметра (с 1)
func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func sqlLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func (d Dialect) columnType(a *dsl.Attribute) (string, error) {
	t, ok := dsl.PrimitiveType(a)
	if !ok {
		return "", fmt.Errorf("unknown type: %s", a.Type.Name)
	}
	if d == SQLite {
		switch t.Kind {
		case schema.KindInt, schema.KindBool:
			return "integer", nil
		case schema.KindFloat:
			return "real", nil
		default:
			return "text", nil
		}
	}
	switch t.Kind {
	case schema.KindInt:
		return "bigint", nil
	case schema.KindFloat:
		return "double precision", nil
	case schema.KindBool:
		return "boolean", nil
	case schema.KindDate:
		return "date", nil
	case schema.KindDateTime:
		return "timestamp with time zone", nil
	case schema.KindUUID:
		return "uuid", nil
	case schema.KindJSON:
		return "jsonb", nil
	default:
		// string, text, enum
		return "text", nil
	}
}

func onDeleteSQL(a *dsl.Attribute) string {
	switch a.OnDelete() {
	case dsl.OnDeleteSetNull:
		return "SET NULL"
	case dsl.OnDeleteCascade:
		return "CASCADE"
	default:
		return "RESTRICT"
	}
}

func (d Dialect) columnDef(reg *dsl.Registry, e *dsl.Entity, a *dsl.Attribute) (string, error) {
	typ, err := d.columnType(a)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", e.Name, a.Name, err)
	}
	if a.Primary {
		pt, _ := dsl.PrimitiveType(a)
		if pt.Kind == schema.KindInt {
			if d == SQLite {
				return fmt.Sprintf("%s integer primary key", sqlIdent(a.Name)), nil
			}
			return fmt.Sprintf("%s bigint generated by default as identity primary key", sqlIdent(a.Name)), nil
		}
		return fmt.Sprintf("%s %s primary key", sqlIdent(a.Name), typ), nil
	}

	null := "not null"
	if a.Nullable() {
		null = "null"
	}
	def := ""
	if dv := strings.TrimSpace(a.Option("default")); dv != "" {
		def = " default " + sqlLiteral(dv)
	}
	col := fmt.Sprintf("%s %s %s%s", sqlIdent(a.Name), typ, null, def)

	// sqlite не умеет добавлять FK после создания таблицы
	if d == SQLite && a.Kind == dsl.AttrForeignKey {
		ref, ok := reg.Get(a.Target)
		if !ok {
			return "", fmt.Errorf("%s.%s: unknown target %s", e.Name, a.Name, a.Target)
		}
		col += fmt.Sprintf(" references %s(%s) on delete %s",
			sqlIdent(ref.Table), sqlIdent(ref.PrimaryKey().Name), onDeleteSQL(a))
	}
	return col, nil
}

// GenerateDDL возвращает упорядоченные DDL-операторы: сначала таблицы и
// уникальные индексы всех сущностей, затем (postgres) внешние ключи,
// когда все таблицы уже существуют.
func GenerateDDL(reg *dsl.Registry, d Dialect) ([]string, error) {
	var tables, fks []string

	for _, e := range reg.Entities() {
		var cols []string
		for _, a := range e.Columns() {
			col, err := d.columnDef(reg, e, a)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		tables = append(tables, fmt.Sprintf("create table if not exists %s (\n  %s\n)",
			sqlIdent(e.Table), strings.Join(cols, ",\n  ")))

		// UNIQUE по полям и составные
		for _, set := range uniqueSets(e) {
			idx := strings.ToLower(e.Table + "_" + strings.Join(set, "_") + "_uq")
			parts := make([]string, 0, len(set))
			for _, p := range set {
				parts = append(parts, sqlIdent(p))
			}
			tables = append(tables, fmt.Sprintf("create unique index if not exists %s on %s(%s)",
				sqlIdent(idx), sqlIdent(e.Table), strings.Join(parts, ", ")))
		}

		if d == SQLite {
			continue
		}
		for _, a := range e.Columns() {
			if a.Kind != dsl.AttrForeignKey {
				continue
			}
			ref, ok := reg.Get(a.Target)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown target %s", e.Name, a.Name, a.Target)
			}
			fks = append(fks, fmt.Sprintf(
				"alter table %s add constraint %s foreign key (%s) references %s(%s) on delete %s",
				sqlIdent(e.Table),
				sqlIdent(strings.ToLower(e.Table+"_"+a.Name+"_fk")),
				sqlIdent(a.Name),
				sqlIdent(ref.Table), sqlIdent(ref.PrimaryKey().Name),
				onDeleteSQL(a),
			))
		}
	}
	return append(tables, fks...), nil
}
