package dsl

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var exprRe = regexp.MustCompile(`^(\w+)\s*\(\s*([^)]*)\)$`)

// CompileExpr строит getter из выражения DSL:
//
//	count(rel)          — число элементов списка (связь has_many)
//	present(field)      — поле задано и не null
//	concat(f1, f2, ...) — непустые строковые значения через пробел
//	upper(field), lower(field)
func CompileExpr(expr string) (Getter, error) {
	m := exprRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("malformed expression %q", expr)
	}
	fn := strings.ToLower(m[1])
	var args []string
	for _, p := range strings.Split(m[2], ",") {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}

	unary := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s expects one argument, got %d", fn, len(args))
		}
		return args[0], nil
	}

	switch fn {
	case "count":
		f, err := unary()
		if err != nil {
			return nil, err
		}
		return func(row map[string]any) (any, error) {
			v := row[f]
			if v == nil {
				return int64(0), nil
			}
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Slice {
				return nil, fmt.Errorf("count(%s): not a list", f)
			}
			return int64(rv.Len()), nil
		}, nil

	case "present":
		f, err := unary()
		if err != nil {
			return nil, err
		}
		return func(row map[string]any) (any, error) {
			v, ok := row[f]
			return ok && v != nil, nil
		}, nil

	case "upper", "lower":
		f, err := unary()
		if err != nil {
			return nil, err
		}
		conv := strings.ToUpper
		if fn == "lower" {
			conv = strings.ToLower
		}
		return func(row map[string]any) (any, error) {
			v := row[f]
			if v == nil {
				return nil, nil
			}
			return conv(fmt.Sprint(v)), nil
		}, nil

	case "concat":
		if len(args) == 0 {
			return nil, fmt.Errorf("concat expects at least one argument")
		}
		return func(row map[string]any) (any, error) {
			parts := make([]string, 0, len(args))
			for _, f := range args {
				if v := row[f]; v != nil {
					if s := fmt.Sprint(v); s != "" {
						parts = append(parts, s)
					}
				}
			}
			return strings.Join(parts, " "), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown function %q", m[1])
	}
}
