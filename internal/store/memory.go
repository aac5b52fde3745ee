package store

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

type memTable struct {
	seq   int64
	rows  map[string]Row
	order []string // порядок вставки
}

// Memory — хранилище в памяти. Ограничения (PK, unique, FK, on_delete)
// проверяет само, как это делала бы база.
type Memory struct {
	mu      sync.RWMutex
	reg     *dsl.Registry
	tables  map[string]*memTable
	entropy io.Reader
}

func NewMemory() *Memory {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Memory{
		tables:  make(map[string]*memTable),
		entropy: ulid.Monotonic(src, 0),
	}
}

func key(id any) string { return fmt.Sprint(id) }

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Use привязывает реестр; данные уже существующих таблиц сохраняются.
func (m *Memory) Use(reg *dsl.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = reg
	for _, e := range reg.Entities() {
		if _, ok := m.tables[e.Table]; !ok {
			m.tables[e.Table] = &memTable{rows: make(map[string]Row)}
		}
	}
}

func (m *Memory) Migrate(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reg == nil {
		return fmt.Errorf("store: no registry bound")
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) table(name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("store: unknown table %q", name)
	}
	return t, nil
}

func (m *Memory) Exists(_ context.Context, table string, id any) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return false, err
	}
	_, ok := t.rows[key(id)]
	return ok, nil
}

func (m *Memory) newID(t *memTable, pk *dsl.Attribute) (any, error) {
	typ, _ := dsl.PrimitiveType(pk)
	switch typ.Kind {
	case schema.KindInt:
		// счётчик сдвигается только успешной вставкой
		return t.seq + 1, nil
	case schema.KindUUID:
		return uuid.NewString(), nil
	case schema.KindString:
		return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String(), nil
	default:
		return nil, fmt.Errorf("store: cannot generate %s primary key", pk.Type.Name)
	}
}

func (m *Memory) Insert(_ context.Context, e *dsl.Entity, row Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(e.Table)
	if err != nil {
		return nil, err
	}

	pk := e.PrimaryKey()
	rec := Row{}
	for _, a := range e.Columns() {
		rec[a.Name] = row[a.Name]
	}
	if rec[pk.Name] == nil {
		id, err := m.newID(t, pk)
		if err != nil {
			return nil, err
		}
		rec[pk.Name] = id
	}

	k := key(rec[pk.Name])
	if _, exists := t.rows[k]; exists {
		return nil, fmt.Errorf("%w: %s %s already exists", ErrConflict, e.Name, k)
	}
	if err := m.checkRefs(e, rec); err != nil {
		return nil, err
	}
	if err := checkUnique(e, t, rec, ""); err != nil {
		return nil, err
	}
	if n, ok := rec[pk.Name].(int64); ok && n > t.seq {
		t.seq = n
	}
	t.rows[k] = rec
	t.order = append(t.order, k)
	return copyRow(rec), nil
}

func (m *Memory) Get(_ context.Context, e *dsl.Entity, id any) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(e.Table)
	if err != nil {
		return nil, err
	}
	rec, ok := t.rows[key(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}
	return copyRow(rec), nil
}

func (m *Memory) List(_ context.Context, e *dsl.Entity, q Query) ([]Row, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(e.Table)
	if err != nil {
		return nil, 0, err
	}
	for f := range q.Filters {
		if !isColumn(e, f) {
			return nil, 0, fmt.Errorf("store: unknown filter field %q", f)
		}
	}
	for _, s := range q.Sort {
		if !isColumn(e, s.Field) {
			return nil, 0, fmt.Errorf("store: unknown sort field %q", s.Field)
		}
	}

	var out []Row
	for _, k := range t.order {
		rec := t.rows[k]
		if matches(rec, q.Filters) {
			out = append(out, copyRow(rec))
		}
	}
	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compareValues(out[i][s.Field], out[j][s.Field])
				if c == 0 {
					continue
				}
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	total := len(out)
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Row{}, total, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []Row{}
	}
	return out, total, nil
}

func matches(rec Row, filters map[string]any) bool {
	for f, want := range filters {
		got := rec[f]
		if want == nil || got == nil {
			if want != got {
				return false
			}
			continue
		}
		if key(got) != key(want) {
			return false
		}
	}
	return true
}

// compareValues: nil в конце, числа как числа, остальное как строки.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (m *Memory) Update(_ context.Context, e *dsl.Entity, id any, patch Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(e.Table)
	if err != nil {
		return nil, err
	}
	k := key(id)
	old, ok := t.rows[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}

	pk := e.PrimaryKey()
	rec := copyRow(old)
	for _, a := range e.Columns() {
		v, ok := patch[a.Name]
		if !ok {
			continue
		}
		if a.Primary {
			if v != nil && key(v) != k {
				return nil, fmt.Errorf("%w: primary key %s is immutable", ErrConflict, pk.Name)
			}
			continue
		}
		rec[a.Name] = v
	}
	if err := m.checkRefs(e, rec); err != nil {
		return nil, err
	}
	if err := checkUnique(e, t, rec, k); err != nil {
		return nil, err
	}
	t.rows[k] = rec
	return copyRow(rec), nil
}

type deleteOp struct {
	table string
	key   string
	null  string // непусто: обнулить колонку вместо удаления
}

// Delete удаляет запись, применяя on_delete ссылающихся FK: restrict — конфликт,
// set_null — обнуление, cascade — удаление ссылающихся записей.
// Сначала строится план целиком, потом он применяется.
func (m *Memory) Delete(_ context.Context, e *dsl.Entity, id any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(e.Table)
	if err != nil {
		return err
	}
	k := key(id)
	if _, ok := t.rows[k]; !ok {
		return fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}

	var ops []deleteOp
	if err := m.planDelete(e, k, map[string]bool{}, &ops); err != nil {
		return err
	}
	for _, op := range ops {
		ct := m.tables[op.table]
		if op.null != "" {
			if rec, ok := ct.rows[op.key]; ok {
				rec[op.null] = nil
			}
			continue
		}
		delete(ct.rows, op.key)
		for i, ck := range ct.order {
			if ck == op.key {
				ct.order = append(ct.order[:i], ct.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *Memory) planDelete(e *dsl.Entity, k string, seen map[string]bool, ops *[]deleteOp) error {
	seen[e.Table+"/"+k] = true
	for _, br := range m.reg.Referencing(e.Name) {
		ct, err := m.table(br.Entity.Table)
		if err != nil {
			return err
		}
		for _, ck := range ct.order {
			v := ct.rows[ck][br.Attr.Name]
			if v == nil || key(v) != k || seen[br.Entity.Table+"/"+ck] {
				continue
			}
			switch br.Policy {
			case dsl.OnDeleteSetNull:
				*ops = append(*ops, deleteOp{table: br.Entity.Table, key: ck, null: br.Attr.Name})
			case dsl.OnDeleteCascade:
				if err := m.planDelete(br.Entity, ck, seen, ops); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: %s %s is referenced by %s.%s", ErrConflict, e.Name, k, br.Entity.Name, br.Attr.Name)
			}
		}
	}
	*ops = append(*ops, deleteOp{table: e.Table, key: k})
	return nil
}

// checkRefs: каждая заданная FK указывает на существующую запись.
func (m *Memory) checkRefs(e *dsl.Entity, rec Row) error {
	for _, a := range e.Columns() {
		if a.Kind != dsl.AttrForeignKey || rec[a.Name] == nil {
			continue
		}
		target, ok := m.reg.Get(a.Target)
		if !ok {
			return fmt.Errorf("store: %s.%s: unknown target %s", e.Name, a.Name, a.Target)
		}
		tt, err := m.table(target.Table)
		if err != nil {
			return err
		}
		if _, ok := tt.rows[key(rec[a.Name])]; !ok {
			return fmt.Errorf("%w: %s.%s: %s %v not found", ErrConflict, e.Name, a.Name, target.Name, rec[a.Name])
		}
	}
	return nil
}

func uniqueSets(e *dsl.Entity) [][]string {
	var sets [][]string
	for _, a := range e.Columns() {
		if a.Option("unique") == "true" && !a.Primary {
			sets = append(sets, []string{a.Name})
		}
	}
	return append(sets, e.Constraints.Unique...)
}

func checkUnique(e *dsl.Entity, t *memTable, rec Row, self string) error {
	for _, set := range uniqueSets(e) {
		if anyNil(rec, set) {
			continue
		}
		for k, other := range t.rows {
			if k == self {
				continue
			}
			same := true
			for _, f := range set {
				if other[f] == nil || key(other[f]) != key(rec[f]) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: %s unique (%s) violated", ErrConflict, e.Name, strings.Join(set, ", "))
			}
		}
	}
	return nil
}

func anyNil(rec Row, fields []string) bool {
	for _, f := range fields {
		if rec[f] == nil {
			return true
		}
	}
	return false
}
