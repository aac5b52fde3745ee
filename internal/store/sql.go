package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// SQL — хранилище поверх database/sql (pgx или sqlite). Ограничения и
// on_delete исполняет сама база.
type SQL struct {
	db  *sql.DB
	d   Dialect
	log *zap.Logger

	mu  sync.RWMutex
	reg *dsl.Registry

	entMu   sync.Mutex
	entropy io.Reader
}

func NewSQL(db *sql.DB, d Dialect, log *zap.Logger) *SQL {
	if log == nil {
		log = zap.NewNop()
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &SQL{db: db, d: d, log: log, entropy: ulid.Monotonic(src, 0)}
}

func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Dialect() Dialect { return s.d }

func (s *SQL) Use(reg *dsl.Registry) {
	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()
}

func (s *SQL) registry() (*dsl.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reg == nil {
		return nil, fmt.Errorf("store: no registry bound")
	}
	return s.reg, nil
}

func (s *SQL) Migrate(ctx context.Context) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	stmts, err := GenerateDDL(reg, s.d)
	if err != nil {
		return err
	}
	if err := ApplyDDL(ctx, s.db, stmts, s.log); err != nil {
		return err
	}
	s.log.Info("schema migrated", zap.String("dialect", s.d.String()), zap.Int("statements", len(stmts)))
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Exists(ctx context.Context, table string, id any) (bool, error) {
	reg, err := s.registry()
	if err != nil {
		return false, err
	}
	e, ok := reg.ByTable(table)
	if !ok {
		return false, fmt.Errorf("store: unknown table %q", table)
	}
	q := fmt.Sprintf("select 1 from %s where %s = %s", sqlIdent(e.Table), sqlIdent(e.PrimaryKey().Name), s.d.placeholder(1))
	var one int
	err = s.db.QueryRowContext(ctx, q, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func selectList(e *dsl.Entity) string {
	cols := e.Columns()
	parts := make([]string, len(cols))
	for i, a := range cols {
		parts[i] = sqlIdent(a.Name)
	}
	return strings.Join(parts, ", ")
}

func (s *SQL) newKey(pk *dsl.Attribute) (any, bool) {
	t, _ := dsl.PrimitiveType(pk)
	switch t.Kind {
	case schema.KindUUID:
		return uuid.NewString(), true
	case schema.KindString:
		s.entMu.Lock()
		defer s.entMu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String(), true
	default:
		// int: выдаёт база
		return nil, false
	}
}

func (s *SQL) Insert(ctx context.Context, e *dsl.Entity, row Row) (Row, error) {
	pk := e.PrimaryKey()
	row = copyRow(row)
	if row[pk.Name] == nil {
		delete(row, pk.Name)
		if id, ok := s.newKey(pk); ok {
			row[pk.Name] = id
		}
	}

	names, vals := columns(e, row)
	var q string
	if len(names) == 0 {
		q = fmt.Sprintf("insert into %s default values returning %s", sqlIdent(e.Table), selectList(e))
	} else {
		ph := make([]string, len(names))
		quoted := make([]string, len(names))
		for i, n := range names {
			ph[i] = s.d.placeholder(i + 1)
			quoted[i] = sqlIdent(n)
		}
		q = fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
			sqlIdent(e.Table), strings.Join(quoted, ", "), strings.Join(ph, ", "), selectList(e))
	}
	args, err := encodeArgs(e, names, vals)
	if err != nil {
		return nil, err
	}
	out, err := s.queryRow(ctx, e, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", e.Name, err)
	}
	return out, nil
}

func (s *SQL) Get(ctx context.Context, e *dsl.Entity, id any) (Row, error) {
	q := fmt.Sprintf("select %s from %s where %s = %s",
		selectList(e), sqlIdent(e.Table), sqlIdent(e.PrimaryKey().Name), s.d.placeholder(1))
	out, err := s.queryRow(ctx, e, q, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}
	return out, err
}

// where строит условие по фильтрам; ключи в отсортированном порядке.
func (s *SQL) where(e *dsl.Entity, filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if !isColumn(e, k) {
			return "", nil, fmt.Errorf("store: unknown filter field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	for _, k := range keys {
		v := filters[k]
		if v == nil {
			conds = append(conds, sqlIdent(k)+" is null")
			continue
		}
		enc, err := encodeArgs(e, []string{k}, []any{v})
		if err != nil {
			return "", nil, err
		}
		args = append(args, enc...)
		conds = append(conds, fmt.Sprintf("%s = %s", sqlIdent(k), s.d.placeholder(len(args))))
	}
	return " where " + strings.Join(conds, " and "), args, nil
}

func (s *SQL) List(ctx context.Context, e *dsl.Entity, q Query) ([]Row, int, error) {
	where, args, err := s.where(e, q.Filters)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countQ := fmt.Sprintf("select count(*) from %s%s", sqlIdent(e.Table), where)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", e.Name, err)
	}

	var order []string
	for _, k := range q.Sort {
		if !isColumn(e, k.Field) {
			return nil, 0, fmt.Errorf("store: unknown sort field %q", k.Field)
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		order = append(order, sqlIdent(k.Field)+" "+dir)
	}
	order = append(order, sqlIdent(e.PrimaryKey().Name)+" asc")

	var b strings.Builder
	fmt.Fprintf(&b, "select %s from %s%s order by %s", selectList(e), sqlIdent(e.Table), where, strings.Join(order, ", "))
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && s.d == SQLite {
			b.WriteString(" limit -1")
		}
		fmt.Fprintf(&b, " offset %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", e.Name, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(e, rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *SQL) Update(ctx context.Context, e *dsl.Entity, id any, patch Row) (Row, error) {
	pk := e.PrimaryKey()
	if v, ok := patch[pk.Name]; ok && v != nil && key(v) != key(id) {
		return nil, fmt.Errorf("%w: primary key %s is immutable", ErrConflict, pk.Name)
	}
	patch = copyRow(patch)
	delete(patch, pk.Name)

	names, vals := columns(e, patch)
	if len(names) == 0 {
		return s.Get(ctx, e, id)
	}
	args, err := encodeArgs(e, names, vals)
	if err != nil {
		return nil, err
	}
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = fmt.Sprintf("%s = %s", sqlIdent(n), s.d.placeholder(i+1))
	}
	args = append(args, id)
	q := fmt.Sprintf("update %s set %s where %s = %s returning %s",
		sqlIdent(e.Table), strings.Join(sets, ", "), sqlIdent(pk.Name), s.d.placeholder(len(args)), selectList(e))

	out, err := s.queryRow(ctx, e, q, args...)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", e.Name, err)
	}
	return out, nil
}

func (s *SQL) Delete(ctx context.Context, e *dsl.Entity, id any) error {
	q := fmt.Sprintf("delete from %s where %s = %s", sqlIdent(e.Table), sqlIdent(e.PrimaryKey().Name), s.d.placeholder(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.Name, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, e.Name, id)
	}
	return nil
}

func (s *SQL) queryRow(ctx context.Context, e *dsl.Entity, q string, args ...any) (Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapErr(err)
		}
		return nil, ErrNotFound
	}
	return scanRow(e, rows)
}

func scanRow(e *dsl.Entity, rows *sql.Rows) (Row, error) {
	cols := e.Columns()
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(Row, len(cols))
	for i, a := range cols {
		v, err := normalize(a, dest[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Name, a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

// normalize приводит значение из драйвера к каноническому виду схемы.
func normalize(a *dsl.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, _ := dsl.PrimitiveType(a)
	t.Enum = nil
	if t.Kind == schema.KindJSON {
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			raw = []byte(x)
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	return schema.Coerce(t, v)
}

func encodeArgs(e *dsl.Entity, names []string, vals []any) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
		a, _ := e.Attr(names[i])
		if v == nil || a == nil || !strings.EqualFold(a.Type.Name, "json") && !strings.EqualFold(a.Type.Name, "jsonb") {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Name, names[i], err)
		}
		out[i] = string(b)
	}
	return out, nil
}

// mapErr: нарушения ограничений базы -> ErrConflict.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23505": // foreign_key_violation, unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
	}
	return err
}
