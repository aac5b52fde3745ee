package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+)(?:\s+table=([\w.]+))?\s*:$`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[(\w+)\]$`)
	relRe              = regexp.MustCompile(`^(belongs_to|has_one|has_many)\[(\w+)\]$`)
	computedRe         = regexp.MustCompile(`^computed\[(\w+)\]$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// splitOptionTokens делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены,
// не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
		case ' ', '\t':
			if !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
		}
		buf = append(buf, r)
	}
	flush()
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.Trim(strings.TrimSpace(p), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseOptions: флаг без значения -> "true", кавычки у значений снимаются.
func parseOptions(raw string) map[string]string {
	opts := map[string]string{}
	for _, tok := range splitOptionTokens(strings.ReplaceAll(raw, ",", " ")) {
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

// Parse читает сущности из DSL. source используется в сообщениях об ошибках.
func Parse(r io.Reader, source string) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	inConstraints := false
	lineNo := 0

	fail := func(format string, args ...any) error {
		return fmt.Errorf("%s:%d: %s", source, lineNo, fmt.Sprintf(format, args...))
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// entity <Name> [table=<name>]:
		if m := entityRe.FindStringSubmatch(line); m != nil {
			current = &Entity{Name: m[1], Table: m[2]}
			entities = append(entities, current)
			inConstraints = false
			continue
		}
		if current == nil {
			// игнорируем всё вне сущности
			continue
		}

		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			m := reUniqueLine.FindStringSubmatch(line)
			if m == nil {
				return nil, fail("unexpected constraint %q", line)
			}
			if set := splitList(m[1]); len(set) > 0 {
				current.Constraints.Unique = append(current.Constraints.Unique, set)
			}
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fail("cannot parse %q", line)
		}
		a, err := parseAttribute(m[1], m[2], m[3])
		if err != nil {
			return nil, fail("%s: %v", m[1], err)
		}
		current.Attrs = append(current.Attrs, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func parseAttribute(name, rawType, tail string) (*Attribute, error) {
	// склейка оборванных типов со скобками: enum[a, b]
	if strings.HasPrefix(rawType, "enum[") && !strings.Contains(rawType, "]") {
		if idx := strings.Index(tail, "]"); idx >= 0 {
			rawType += tail[:idx+1]
			tail = tail[idx+1:]
		}
	}
	// срезать комментарий
	if i := strings.IndexByte(tail, '#'); i >= 0 {
		tail = tail[:i]
	}
	tail = strings.TrimSpace(tail)

	nullable := strings.HasSuffix(rawType, "?")
	rawType = strings.TrimSuffix(rawType, "?")

	a := &Attribute{Name: name, Type: TypeExpr{Name: rawType, Nullable: nullable}}

	if mm := computedRe.FindStringSubmatch(rawType); mm != nil {
		if !strings.HasPrefix(tail, "=") {
			return nil, fmt.Errorf("computed property needs '= <expression>'")
		}
		a.Kind = AttrComputed
		a.Type.Name = mm[1]
		a.Expr = strings.TrimSpace(tail[1:])
		return a, nil
	}

	// убрать необязательный префикс "options:"
	if strings.HasPrefix(strings.ToLower(tail), "options:") {
		tail = strings.TrimSpace(tail[len("options:"):])
	}
	a.Options = parseOptions(tail)
	if a.Options["primary"] == "true" {
		a.Primary = true
		delete(a.Options, "primary")
	}

	switch {
	case enumRe.MatchString(rawType):
		a.Kind = AttrColumn
		a.Type.Name = "enum"
		a.Enum = splitList(enumRe.FindStringSubmatch(rawType)[1])
	case refRe.MatchString(rawType):
		a.Kind = AttrForeignKey
		a.Type.Name = ""
		a.Target = refRe.FindStringSubmatch(rawType)[1]
	case relRe.MatchString(rawType):
		mm := relRe.FindStringSubmatch(rawType)
		a.Target = mm[2]
		a.Type.Name = mm[2]
		switch mm[1] {
		case "belongs_to":
			a.Kind = AttrToOne
		case "has_one":
			a.Kind = AttrToOne
			a.Inverse = true
			a.Type.Nullable = true
		case "has_many":
			if nullable {
				return nil, fmt.Errorf("has_many cannot be nullable")
			}
			a.Kind = AttrToMany
			a.Inverse = true
			a.Type.List = true
		}
	default:
		if !a.Type.Primitive() {
			return nil, fmt.Errorf("unknown type %q", rawType)
		}
		a.Kind = AttrColumn
	}
	return a, nil
}

// LoadFile читает один .dsl файл
func LoadFile(path string) ([]*Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// LoadDir читает все .dsl файлы дерева в лексическом порядке путей.
func LoadDir(root string) ([]*Entity, error) {
	var out []*Entity
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		ents, err := LoadFile(path)
		if err != nil {
			return err
		}
		out = append(out, ents...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRegistry: DSL из каталога + справочники -> финализированный реестр.
func LoadRegistry(root string, catalogs map[string][]string) (*Registry, error) {
	ents, err := LoadDir(root)
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, fmt.Errorf("no entities found in %s", root)
	}
	reg := NewRegistry()
	reg.UseCatalogs(catalogs)
	if err := reg.Register(ents...); err != nil {
		return nil, err
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}
