package schema

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclPolicy(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		nullable bool
		want     DefaultPolicy
		wantType string
	}{
		{"required scalar", Prim(KindInt), false, Required, "int"},
		{"nullable scalar", Prim(KindString), true, DefaultNull, "string?"},
		{"list of refs", List(Ref("BookFlatModel")), false, DefaultEmptyList, "[]BookFlatModel"},
		{"nullable list", List(Prim(KindInt)), true, DefaultNull, "[]int?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decl(tt.typ, tt.nullable)
			assert.Equal(t, tt.want, d.Default)
			assert.Equal(t, tt.wantType, d.Type.String())
		})
	}

	t.Run("nullable is idempotent", func(t *testing.T) {
		n := Nullable(Nullable(Prim(KindInt)))
		assert.Equal(t, KindInt, n.Base().Kind)
	})
}

func TestNamespace(t *testing.T) {
	ns := NewNamespace()
	m := NewModel("AuthorFlatModel", "Author", VariantFlat, ns)
	require.NoError(t, ns.Register(m))

	t.Run("duplicate", func(t *testing.T) {
		err := ns.Register(NewModel("AuthorFlatModel", "Author", VariantFlat, ns))
		assert.ErrorIs(t, err, ErrDuplicateName)
	})

	t.Run("foreign model", func(t *testing.T) {
		other := NewNamespace()
		err := ns.Register(NewModel("BookFlatModel", "Book", VariantFlat, other))
		assert.ErrorIs(t, err, ErrForeignModel)
	})

	t.Run("sealed", func(t *testing.T) {
		ns.Seal()
		err := ns.Register(NewModel("BookFlatModel", "Book", VariantFlat, ns))
		assert.ErrorIs(t, err, ErrSealed)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := ns.Lookup("AuthorFlatModel")
		require.NoError(t, err)
		assert.Same(t, m, got)

		_, err = ns.Lookup("Missing")
		assert.ErrorIs(t, err, ErrUnresolved)
	})

	t.Run("generation ids differ", func(t *testing.T) {
		assert.NotEqual(t, ns.ID(), NewNamespace().ID())
	})
}

// mutual: Author <-> Book через flat-модели одного пространства имён
func mutual(t *testing.T) (*Namespace, *Model, *Model) {
	t.Helper()
	ns := NewNamespace()

	authorFlat := NewModel("AuthorFlatModel", "Author", VariantFlat, ns)
	require.NoError(t, authorFlat.Add(Field{Name: "id", FieldDecl: Decl(Prim(KindInt), false), AutoKey: true}))
	require.NoError(t, authorFlat.Add(Field{Name: "name", FieldDecl: Decl(Prim(KindString), false)}))

	bookFlat := NewModel("BookFlatModel", "Book", VariantFlat, ns)
	require.NoError(t, bookFlat.Add(Field{Name: "id", FieldDecl: Decl(Prim(KindInt), false), AutoKey: true}))
	require.NoError(t, bookFlat.Add(Field{Name: "title", FieldDecl: Decl(Prim(KindString), false)}))
	require.NoError(t, bookFlat.Add(Field{Name: "author_id", FieldDecl: Decl(Prim(KindInt), false)}))

	authorFull := NewModel("AuthorModel", "Author", VariantFull, ns)
	require.NoError(t, authorFull.Add(Field{Name: "id", FieldDecl: Decl(Prim(KindInt), false)}))
	require.NoError(t, authorFull.Add(Field{Name: "name", FieldDecl: Decl(Prim(KindString), false)}))
	require.NoError(t, authorFull.Add(Field{Name: "books", FieldDecl: Decl(List(Ref("BookFlatModel")), false)}))

	bookFull := NewModel("BookModel", "Book", VariantFull, ns)
	require.NoError(t, bookFull.Add(Field{Name: "id", FieldDecl: Decl(Prim(KindInt), false)}))
	require.NoError(t, bookFull.Add(Field{Name: "author", FieldDecl: Decl(Ref("AuthorFlatModel"), true)}))

	require.NoError(t, ns.Register(authorFlat))
	require.NoError(t, ns.Register(bookFlat))
	ns.Seal()
	return ns, authorFull, bookFull
}

func TestModelValidate(t *testing.T) {
	_, author, book := mutual(t)

	t.Run("nested list and defaults", func(t *testing.T) {
		out, err := author.Validate(map[string]any{
			"id":    float64(1),
			"name":  "Le Guin",
			"extra": "dropped",
			"books": []any{
				map[string]any{"id": 10, "title": "Earthsea", "author_id": "1"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), out["id"])
		assert.NotContains(t, out, "extra")
		books := out["books"].([]any)
		require.Len(t, books, 1)
		assert.Equal(t, int64(1), books[0].(map[string]any)["author_id"])

		out, err = author.Validate(map[string]any{"id": 2, "name": "X"})
		require.NoError(t, err)
		assert.Equal(t, []any{}, out["books"])
	})

	t.Run("nullable nested ref", func(t *testing.T) {
		out, err := book.Validate(map[string]any{"id": 3})
		require.NoError(t, err)
		assert.Nil(t, out["author"])

		out, err = book.Validate(map[string]any{"id": 3, "author": map[string]any{"id": 1, "name": "A"}})
		require.NoError(t, err)
		assert.Equal(t, "A", out["author"].(map[string]any)["name"])
	})

	t.Run("errors carry paths", func(t *testing.T) {
		_, err := author.Validate(map[string]any{
			"id":    1.5,
			"books": []any{map[string]any{"id": 1}},
		})
		ve, ok := AsValidation(err)
		require.True(t, ok)
		fields := map[string]string{}
		for _, fe := range ve.Errors {
			fields[fe.Field] = fe.Code
		}
		assert.Equal(t, ErrTypeMismatch, fields["id"])
		assert.Equal(t, ErrRequired, fields["name"])
		assert.Equal(t, ErrRequired, fields["books[0].title"])
	})

	t.Run("partial", func(t *testing.T) {
		out, err := author.ValidatePartial(map[string]any{"name": "B"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "B"}, out)
	})

	t.Run("unresolved ref", func(t *testing.T) {
		lonely := NewModel("XModel", "X", VariantFull, NewNamespace())
		require.NoError(t, lonely.Add(Field{Name: "y", FieldDecl: Decl(Ref("YFlatModel"), false)}))
		_, err := lonely.Validate(map[string]any{"y": map[string]any{}})
		ve, ok := AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(ErrUnresolvable))
	})
}

func TestCoercePrimitive(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	tests := []struct {
		name    string
		typ     Type
		in      any
		want    any
		wantErr bool
	}{
		{"int from json", Prim(KindInt), float64(7), int64(7), false},
		{"int from string", Prim(KindInt), "42", int64(42), false},
		{"int rejects fraction", Prim(KindInt), 1.5, nil, true},
		{"int rejects above int64", Prim(KindInt), 1e19, nil, true},
		{"int rejects 2^63", Prim(KindInt), float64(1 << 63), nil, true},
		{"int rejects below int64", Prim(KindInt), -1e19, nil, true},
		{"int rejects inf", Prim(KindInt), math.Inf(1), nil, true},
		{"int rejects nan", Prim(KindInt), math.NaN(), nil, true},
		{"int at lower bound", Prim(KindInt), float64(-1 << 63), int64(math.MinInt64), false},
		{"string rejects number", Prim(KindString), float64(1), nil, true},
		{"bool from sqlite", Prim(KindBool), int64(1), true, false},
		{"date", Prim(KindDate), "2024-02-29", "2024-02-29", false},
		{"bad date", Prim(KindDate), "2023-02-30", nil, true},
		{"datetime from time", Prim(KindDateTime), ts, "2024-05-01T11:00:00Z", false},
		{"uuid canonical", Prim(KindUUID), "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"enum ok", Enum("draft", "published"), "draft", "draft", false},
		{"enum bad", Enum("draft"), "gone", nil, true},
		{"json passthrough", Prim(KindJSON), map[string]any{"a": 1}, map[string]any{"a": 1}, false},
		{"json number", Prim(KindFloat), json.Number("2.5"), 2.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coercePrimitive(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocument(t *testing.T) {
	_, author, book := mutual(t)

	doc, err := author.Document()
	require.NoError(t, err)
	assert.Equal(t, "AuthorModel", doc.Title)
	assert.Contains(t, doc.Required, "name")
	assert.NotContains(t, doc.Required, "books")
	require.Contains(t, doc.Definitions, "BookFlatModel")

	books, ok := doc.Properties.Get("books")
	require.True(t, ok)
	assert.Equal(t, "array", books.Type)
	assert.Equal(t, "#/$defs/BookFlatModel", books.Items.Ref)

	doc, err = book.Document()
	require.NoError(t, err)
	authorProp, ok := doc.Properties.Get("author")
	require.True(t, ok)
	require.Len(t, authorProp.AnyOf, 2)
	assert.Equal(t, "#/$defs/AuthorFlatModel", authorProp.AnyOf[0].Ref)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"$defs"`)
}

type fakeSession struct {
	rows map[string]map[any]bool
	err  error
}

func (s *fakeSession) Exists(_ context.Context, table string, id any) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.rows[table][id], nil
}

func validatingBook(t *testing.T, s Session) *Validating {
	t.Helper()
	ns := NewNamespace()
	m := NewModel("BookSchema", "Book", VariantValidating, ns)
	require.NoError(t, m.Add(Field{Name: "id", FieldDecl: Decl(Prim(KindInt), false), AutoKey: true}))
	require.NoError(t, m.Add(Field{Name: "title", FieldDecl: Decl(Prim(KindString), false)}))
	require.NoError(t, m.Add(Field{Name: "title_len", FieldDecl: Decl(Prim(KindInt), false), ReadOnly: true}))
	require.NoError(t, m.Add(Field{
		Name:      "author",
		FieldDecl: Decl(Prim(KindInt), true),
		Ref:       &RefTarget{Entity: "Author", Table: "author"},
	}))
	require.NoError(t, m.Add(Field{
		Name:      "tags",
		FieldDecl: Decl(List(Prim(KindInt)), false),
		Ref:       &RefTarget{Entity: "Tag", Table: "tag", Many: true},
	}))
	v, err := NewValidating(m, s)
	require.NoError(t, err)
	return v
}

func TestValidating(t *testing.T) {
	s := &fakeSession{rows: map[string]map[any]bool{
		"author": {int64(1): true},
		"tag":    {int64(5): true},
	}}
	v := validatingBook(t, s)
	ctx := context.Background()

	t.Run("requires session and variant", func(t *testing.T) {
		_, err := NewValidating(v.Model, nil)
		assert.ErrorIs(t, err, ErrNoSession)
		_, err = NewValidating(NewModel("BookModel", "Book", VariantFull, NewNamespace()), s)
		assert.Error(t, err)
	})

	t.Run("load", func(t *testing.T) {
		out, err := v.Load(ctx, map[string]any{"title": "T", "author": float64(1), "tags": []any{5}})
		require.NoError(t, err)
		assert.NotContains(t, out, "id")
		assert.NotContains(t, out, "title_len")
		assert.Equal(t, int64(1), out["author"])
		assert.Equal(t, []any{int64(5)}, out["tags"])
	})

	t.Run("missing reference", func(t *testing.T) {
		_, err := v.Load(ctx, map[string]any{"title": "T", "author": 2})
		ve, ok := AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(ErrRefNotFound))

		_, err = v.Load(ctx, map[string]any{"title": "T", "tags": []any{5, 6}})
		ve, ok = AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(ErrRefNotFound))
	})

	t.Run("read-only rejected", func(t *testing.T) {
		_, err := v.Load(ctx, map[string]any{"title": "T", "title_len": 1})
		ve, ok := AsValidation(err)
		require.True(t, ok)
		assert.True(t, ve.Has(ErrReadOnly))
	})

	t.Run("partial", func(t *testing.T) {
		out, err := v.LoadPartial(ctx, map[string]any{"title": "U"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"title": "U"}, out)
	})

	t.Run("session failure propagates", func(t *testing.T) {
		broken := validatingBook(t, &fakeSession{err: errors.New("db down")})
		_, err := broken.Load(ctx, map[string]any{"title": "T", "author": 1})
		require.Error(t, err)
		_, isValidation := AsValidation(err)
		assert.False(t, isValidation)
	})

	t.Run("dump includes computed", func(t *testing.T) {
		out, err := v.Dump(map[string]any{"id": 1, "title": "T", "title_len": 1, "author": nil, "tags": []int64{5}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), out["title_len"])
		assert.Equal(t, []any{int64(5)}, out["tags"])
	})
}
