package synth

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

type mockSession struct {
	rows map[string]map[any]bool
}

func (m *mockSession) Exists(_ context.Context, table string, id any) (bool, error) {
	return m.rows[table][id], nil
}

func newSession() *mockSession {
	return &mockSession{rows: map[string]map[any]bool{
		"authors": {int64(1): true},
		"books":   {int64(7): true},
	}}
}

// library: Author <-> Book, взаимные ссылки
func library(t *testing.T) *dsl.Registry {
	t.Helper()
	author := dsl.NewEntity("Author").
		Column("id", dsl.T("int"), dsl.Primary()).
		Column("name", dsl.T("string")).
		Column("bio", dsl.T("text").Null()).
		HasMany("books", "Book").
		ComputedExpr("book_count", dsl.T("int"), "count(books)")
	book := dsl.NewEntity("Book").
		Column("id", dsl.T("int"), dsl.Primary()).
		Column("name", dsl.T("string")).
		ForeignKey("author_id", "Author", false).
		BelongsTo("author", "Author", false)

	reg := dsl.NewRegistry()
	require.NoError(t, reg.Register(author, book))
	return reg
}

func TestInitializeArtifacts(t *testing.T) {
	reg := library(t)
	tables, err := Initialize(reg, newSession())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	for _, e := range reg.Entities() {
		t.Run(e.Name, func(t *testing.T) {
			s := e.Schemas()
			require.True(t, s.Complete())
			assert.Equal(t, e.Name+"FlatModel", s.Flat.Name())
			assert.Equal(t, e.Name+"Model", s.Full.Name())
			assert.Equal(t, e.Name+"Model", s.Write.Name())
			assert.Equal(t, e.Name+"Schema", s.Validating.Name())
			assert.NotSame(t, s.Full, s.Write)
			assert.Equal(t, schema.VariantWrite, s.Write.Variant())
			assert.Same(t, s.Flat.Namespace(), s.Full.Namespace())
		})
	}
}

func TestFieldTaxonomy(t *testing.T) {
	reg := library(t)
	_, err := Initialize(reg, newSession())
	require.NoError(t, err)
	author, _ := reg.Get("Author")
	book, _ := reg.Get("Book")

	t.Run("foreign key in flat, not in full", func(t *testing.T) {
		assert.Equal(t, []string{"id", "name", "author_id"}, book.Schemas().Flat.FieldNames())
		assert.Equal(t, []string{"id", "name", "author"}, book.Schemas().Full.FieldNames())
		assert.Equal(t, []string{"id", "name", "author_id", "author"}, book.Schemas().Write.FieldNames())
	})

	t.Run("category order simple computed relationships", func(t *testing.T) {
		assert.Equal(t, []string{"id", "name", "bio", "book_count", "books"}, author.Schemas().Full.FieldNames())
		assert.Equal(t, []string{"id", "name", "bio", "books"}, author.Schemas().Write.FieldNames())
	})

	t.Run("policies", func(t *testing.T) {
		full := author.Schemas().Full
		bio, _ := full.Field("bio")
		assert.Equal(t, schema.DefaultNull, bio.Default)
		books, _ := full.Field("books")
		assert.Equal(t, schema.DefaultEmptyList, books.Default)
		assert.Equal(t, "[]BookFlatModel", books.Type.String())
		name, _ := full.Field("name")
		assert.Equal(t, schema.Required, name.Default)

		rel, _ := book.Schemas().Full.Field("author")
		assert.Equal(t, "AuthorFlatModel", rel.Type.String())
		assert.Equal(t, schema.Required, rel.Default)
	})

	t.Run("validating references", func(t *testing.T) {
		v := book.Schemas().Validating
		assert.Equal(t, []string{"id", "name", "author_id", "author"}, v.FieldNames())
		rel, _ := v.Field("author")
		require.NotNil(t, rel.Ref)
		assert.Equal(t, "authors", rel.Ref.Table)
		assert.Equal(t, "int", rel.Type.String())
		assert.Equal(t, "author_id", rel.Pair)
		fk, _ := v.Field("author_id")
		require.NotNil(t, fk.Ref)
		assert.Equal(t, "author", fk.Pair)
		assert.Equal(t, []string{"name"}, v.JSONSchema().Required)

		count, _ := author.Schemas().Validating.Field("book_count")
		assert.True(t, count.ReadOnly)
		books, _ := author.Schemas().Validating.Field("books")
		assert.True(t, books.Ref.Many)
		assert.Equal(t, "[]int", books.Type.String())
	})
}

func TestMutualReferences(t *testing.T) {
	reg := library(t)
	_, err := Initialize(reg, newSession())
	require.NoError(t, err)
	author, _ := reg.Get("Author")
	book, _ := reg.Get("Book")

	out, err := author.Schemas().Full.Validate(map[string]any{
		"id":         1,
		"name":       "Le Guin",
		"book_count": 1,
		"books":      []any{map[string]any{"id": 7, "name": "Earthsea", "author_id": 1}},
	})
	require.NoError(t, err)
	nested := out["books"].([]any)[0].(map[string]any)
	assert.Equal(t, int64(1), nested["author_id"])
	assert.NotContains(t, nested, "author")

	out, err = book.Schemas().Full.Validate(map[string]any{
		"id": 7, "name": "Earthsea",
		"author": map[string]any{"id": 1, "name": "Le Guin", "bio": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "Le Guin", out["author"].(map[string]any)["name"])

	doc, err := book.Schemas().Full.Document()
	require.NoError(t, err)
	assert.Contains(t, doc.Definitions, "AuthorFlatModel")
	assert.NotContains(t, doc.Definitions, "BookFlatModel")
}

func TestValidatingRoundTrip(t *testing.T) {
	reg := library(t)
	_, err := Initialize(reg, newSession())
	require.NoError(t, err)
	author, _ := reg.Get("Author")
	book, _ := reg.Get("Book")
	ctx := context.Background()

	in := map[string]any{"name": "Le Guin", "bio": "wrote books"}
	loaded, err := author.Schemas().Validating.Load(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Le Guin", "bio": "wrote books", "books": []any{}}, loaded)

	row := map[string]any{"id": int64(1), "name": "Le Guin", "bio": "wrote books", "book_count": int64(0), "books": []any{}}
	dumped, err := author.Schemas().Validating.Dump(row)
	require.NoError(t, err)
	for k, v := range in {
		assert.Equal(t, v, dumped[k])
	}

	_, err = book.Schemas().Validating.Load(ctx, map[string]any{"name": "X", "author": 99})
	ve, ok := schema.AsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Has(schema.ErrRefNotFound))

	t.Run("belongs_to entity from flat values", func(t *testing.T) {
		flat, err := book.Schemas().Flat.Validate(map[string]any{"id": 7, "name": "Earthsea", "author_id": 1})
		require.NoError(t, err)

		loaded, err := book.Schemas().Validating.Load(ctx, flat)
		require.NoError(t, err)
		for k, v := range flat {
			assert.Equal(t, v, loaded[k], k)
		}
		assert.NotContains(t, loaded, "author")

		dumped, err := book.Schemas().Validating.Dump(loaded)
		require.NoError(t, err)
		for k, v := range flat {
			assert.Equal(t, v, dumped[k], k)
		}
	})

	t.Run("foreign key and relationship together", func(t *testing.T) {
		loaded, err := book.Schemas().Validating.Load(ctx, map[string]any{"name": "X", "author_id": 1, "author": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded["author"])

		_, err = book.Schemas().Validating.Load(ctx, map[string]any{"name": "X", "author_id": 1, "author": 2})
		ve, ok := schema.AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(schema.ErrTypeMismatch))

		_, err = book.Schemas().Validating.Load(ctx, map[string]any{"name": "X"})
		ve, ok = schema.AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(schema.ErrRequired))
	})

	t.Run("unknown foreign key", func(t *testing.T) {
		_, err := book.Schemas().Validating.Load(ctx, map[string]any{"name": "X", "author_id": 99})
		ve, ok := schema.AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(schema.ErrRefNotFound))
	})
}

func TestConfigErrors(t *testing.T) {
	t.Run("reserved name rejected before any artifact", func(t *testing.T) {
		reg := library(t)
		require.NoError(t, reg.Register(dsl.NewEntity("WidgetSchema").Column("id", dsl.T("int"), dsl.Primary())))
		_, err := Initialize(reg, newSession())
		assert.ErrorIs(t, err, ErrReservedName)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "WidgetSchema", ce.Entity)
		for _, e := range reg.Entities() {
			assert.Nil(t, e.Schemas().Flat, e.Name)
		}
	})

	t.Run("unsupported computed type fails fast", func(t *testing.T) {
		reg := dsl.NewRegistry()
		require.NoError(t, reg.Register(dsl.NewEntity("Gadget").
			Column("id", dsl.T("int"), dsl.Primary()).
			Computed("blob", dsl.T("widget"), func(map[string]any) (any, error) { return nil, nil })))
		_, err := Initialize(reg, newSession())
		assert.ErrorIs(t, err, ErrUnsupportedField)
		g, _ := reg.Get("Gadget")
		assert.False(t, g.Schemas().Complete())
	})

	t.Run("computed entity type is a forward reference", func(t *testing.T) {
		reg := library(t)
		require.NoError(t, reg.Register(dsl.NewEntity("Review").
			Column("id", dsl.T("int"), dsl.Primary()).
			Computed("top_author", dsl.T("Author").Null(), func(map[string]any) (any, error) { return nil, nil })))
		_, err := Initialize(reg, newSession())
		require.NoError(t, err)
		r, _ := reg.Get("Review")
		f, ok := r.Schemas().Full.Field("top_author")
		require.True(t, ok)
		assert.Equal(t, "AuthorFlatModel?", f.Type.String())
	})

	t.Run("unknown relationship target", func(t *testing.T) {
		reg := dsl.NewRegistry()
		require.NoError(t, reg.Register(dsl.NewEntity("Shelf").
			Column("id", dsl.T("int"), dsl.Primary()).
			HasMany("ghosts", "Ghost")))
		_, err := Initialize(reg, newSession())
		assert.ErrorIs(t, err, ErrUnknownTarget)
	})

	t.Run("field collision", func(t *testing.T) {
		e := dsl.NewEntity("Dup")
		m := schema.NewModel("DupModel", "Dup", schema.VariantFull, schema.NewNamespace())
		seq := func(names ...string) iter.Seq2[schema.Field, error] {
			return func(yield func(schema.Field, error) bool) {
				for _, n := range names {
					if !yield(schema.Field{Name: n, FieldDecl: schema.Decl(schema.Prim(schema.KindInt), false)}, nil) {
						return
					}
				}
			}
		}
		err := collect(e, m, seq("id", "total"), seq("total"))
		assert.ErrorIs(t, err, ErrFieldCollision)
	})

	t.Run("validating requires a session", func(t *testing.T) {
		_, err := Initialize(library(t), nil)
		assert.ErrorIs(t, err, schema.ErrNoSession)
	})
}

func TestRunIsolation(t *testing.T) {
	regA, regB := library(t), library(t)
	nsA, err := NewDriver(regA).Run(newSession())
	require.NoError(t, err)
	nsB, err := NewDriver(regB).Run(newSession())
	require.NoError(t, err)
	assert.NotEqual(t, nsA.ID(), nsB.ID())

	authorA, _ := regA.Get("Author")
	authorB, _ := regB.Get("Author")
	assert.Same(t, nsA, authorA.Schemas().Full.Namespace())
	assert.Same(t, nsB, authorB.Schemas().Full.Namespace())
	assert.True(t, nsA.Sealed())

	t.Run("re-run replaces artifacts", func(t *testing.T) {
		before := authorA.Schemas()
		nsA2, err := NewDriver(regA).Run(newSession())
		require.NoError(t, err)
		after := authorA.Schemas()
		assert.NotSame(t, before.Full, after.Full)
		assert.Same(t, nsA2, after.Flat.Namespace())
		// старые артефакты продолжают разрешаться через своё пространство имён
		_, err = before.Full.Document()
		assert.NoError(t, err)
	})
}

func TestExcludeAndWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := library(t)
	odd := dsl.NewEntity("Odd").Column("id", dsl.T("int"), dsl.Primary())
	odd.Attrs = append(odd.Attrs, &dsl.Attribute{Name: "mystery", Kind: dsl.AttrKind(42)})
	require.NoError(t, reg.Register(odd))

	_, err := Initialize(reg, newSession(), WithLogger(zap.New(core)), WithExclude("Author", "bio"))
	require.NoError(t, err)

	author, _ := reg.Get("Author")
	_, ok := author.Schemas().Full.Field("bio")
	assert.False(t, ok)

	o, _ := reg.Get("Odd")
	assert.Equal(t, []string{"id"}, o.Schemas().Flat.FieldNames())
	// одно предупреждение на атрибут, хотя колонки читаются тремя вариантами
	warned := logs.FilterMessage("unsupported attribute kind, skipped")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, "mystery", warned.All()[0].ContextMap()["field"])
}
