// api/schema_lint.go
package api

import (
	"fmt"

	"crudkit/internal/dsl"
	"crudkit/internal/synth"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

type SchemaIssue struct {
	Entity   string `json:"entity"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Blocking: есть ли среди замечаний ошибки (не только предупреждения).
func Blocking(issues []SchemaIssue) bool {
	for _, it := range issues {
		if it.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Lint проверяет финализированный реестр на то, что помешает синтезу схем
// или удивит клиента API.
func Lint(reg *dsl.Registry) []SchemaIssue {
	var issues []SchemaIssue
	add := func(e *dsl.Entity, field, code, sev, format string, args ...any) {
		issues = append(issues, SchemaIssue{
			Entity: e.Name, Field: field, Code: code, Severity: sev,
			Message: fmt.Sprintf(format, args...),
		})
	}

	for _, e := range reg.Entities() {
		if err := synth.CheckName(e); err != nil {
			add(e, "", "reserved_name", SeverityError, "%v", err)
		}

		backed := map[string]bool{}
		for _, a := range e.Relationships() {
			if _, ok := reg.Get(a.Target); !ok {
				add(e, a.Name, "relationship_target_unknown", SeverityError,
					"relationship targets unknown entity %q", a.Target)
				continue
			}
			if !a.Inverse {
				backed[a.ForeignKey] = true
			}
		}

		for _, a := range e.Attrs {
			switch a.Kind {
			case dsl.AttrComputed:
				if !a.Type.Primitive() {
					add(e, a.Name, "computed_unsupported", SeverityError,
						"computed return type %q is not a primitive", a.Type.Name)
				}
			case dsl.AttrForeignKey:
				if !backed[a.Name] {
					add(e, a.Name, "fk_without_relationship", SeverityWarning,
						"foreign key has no belongs_to; clients write it as a raw id")
				}
			}
		}

		for _, set := range e.Constraints.Unique {
			for _, f := range set {
				if a, ok := e.Attr(f); ok && a.Nullable() {
					add(e, f, "unique_on_nullable", SeverityWarning,
						"unique(%v) includes nullable %q; rows with null never collide", set, f)
				}
			}
		}
	}
	return issues
}
