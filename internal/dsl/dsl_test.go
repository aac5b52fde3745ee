package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const library = `
# библиотека
entity Author:
  id: int primary
  name: string unique
  bio: text?
  kind: enum catalog=author_kinds
  books: has_many[Book] fk=author_id
  book_count: computed[int] = count(books)
  display: computed[string] = concat(name, bio)

entity Book table=library_books:
  id: int primary
  title: string
  status: enum[draft, published] default=draft
  author_id: ref[Author] on_delete=cascade
  editor_id: ref[Author]? on_delete=set_null fk_note='x y'
  author: belongs_to[Author] fk=author_id
  editor: belongs_to[Author]? fk=editor_id
  constraints:
    unique(title, author_id)
`

func parseLibrary(t *testing.T) []*Entity {
	t.Helper()
	ents, err := Parse(strings.NewReader(library), "library.dsl")
	require.NoError(t, err)
	require.Len(t, ents, 2)
	return ents
}

func TestParse(t *testing.T) {
	ents := parseLibrary(t)
	author, book := ents[0], ents[1]

	t.Run("entity header", func(t *testing.T) {
		assert.Equal(t, "Author", author.Name)
		assert.Equal(t, "", author.Table)
		assert.Equal(t, "library_books", book.Table)
	})

	t.Run("columns", func(t *testing.T) {
		id, ok := author.Attr("id")
		require.True(t, ok)
		assert.True(t, id.Primary)
		assert.Equal(t, AttrColumn, id.Kind)

		bio, _ := author.Attr("bio")
		assert.Equal(t, TypeExpr{Name: "text", Nullable: true}, bio.Type)

		name, _ := author.Attr("name")
		assert.Equal(t, "true", name.Option("unique"))

		status, _ := book.Attr("status")
		assert.Equal(t, "enum", status.Type.Name)
		assert.Equal(t, []string{"draft", "published"}, status.Enum)
		assert.Equal(t, "draft", status.Option("default"))
	})

	t.Run("references and relationships", func(t *testing.T) {
		fk, _ := book.Attr("editor_id")
		assert.Equal(t, AttrForeignKey, fk.Kind)
		assert.Equal(t, "Author", fk.Target)
		assert.True(t, fk.Nullable())
		assert.Equal(t, OnDeleteSetNull, fk.OnDelete())
		assert.Equal(t, "x y", fk.Option("fk_note"))

		books, _ := author.Attr("books")
		assert.Equal(t, AttrToMany, books.Kind)
		assert.True(t, books.Inverse)
		assert.True(t, books.Type.List)

		editor, _ := book.Attr("editor")
		assert.Equal(t, AttrToOne, editor.Kind)
		assert.True(t, editor.Nullable())
		assert.False(t, editor.Inverse)
	})

	t.Run("computed and constraints", func(t *testing.T) {
		bc, _ := author.Attr("book_count")
		assert.Equal(t, AttrComputed, bc.Kind)
		assert.Equal(t, "int", bc.Type.Name)
		assert.Equal(t, "count(books)", bc.Expr)
		assert.Equal(t, [][]string{{"title", "author_id"}}, book.Constraints.Unique)
	})

	t.Run("errors carry line numbers", func(t *testing.T) {
		_, err := Parse(strings.NewReader("entity A:\n  id: int primary\n  x: blob\n"), "bad.dsl")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.dsl:3")

		_, err = Parse(strings.NewReader("entity A:\n  n: computed[int]\n"), "bad.dsl")
		assert.Error(t, err)

		_, err = Parse(strings.NewReader("entity A:\n  n: has_many[B]?\n"), "bad.dsl")
		assert.Error(t, err)
	})

	t.Run("unknown computed type is left to synthesis", func(t *testing.T) {
		ents, err := Parse(strings.NewReader("entity A:\n  id: int primary\n  w: computed[widget] = present(id)\n"), "a.dsl")
		require.NoError(t, err)
		w, _ := ents[0].Attr("w")
		assert.Equal(t, "widget", w.Type.Name)
	})
}

func TestRegistryFinalize(t *testing.T) {
	reg := NewRegistry()
	reg.UseCatalogs(map[string][]string{"author_kinds": {"person", "org"}})
	require.NoError(t, reg.Register(parseLibrary(t)...))
	require.NoError(t, reg.Finalize())

	author, ok := reg.Get("Author")
	require.True(t, ok)
	book, ok := reg.ByTable("library_books")
	require.True(t, ok)

	t.Run("default table name", func(t *testing.T) {
		assert.Equal(t, "authors", author.Table)
		assert.Contains(t, reg.Tables(), "authors")
		assert.Equal(t, []*Entity{author, book}, reg.Entities())
	})

	t.Run("fk type follows target primary key", func(t *testing.T) {
		fk, _ := book.Attr("author_id")
		assert.Equal(t, "int", fk.Type.Name)
	})

	t.Run("relationship foreign keys", func(t *testing.T) {
		books, _ := author.Attr("books")
		assert.Equal(t, "author_id", books.ForeignKey)
		editor, _ := book.Attr("editor")
		assert.Equal(t, "editor_id", editor.ForeignKey)
	})

	t.Run("catalog fills enum", func(t *testing.T) {
		kind, _ := author.Attr("kind")
		assert.Equal(t, []string{"person", "org"}, kind.Enum)
	})

	t.Run("computed compiled", func(t *testing.T) {
		bc, _ := author.Attr("book_count")
		require.NotNil(t, bc.Getter)
		v, err := bc.Getter(map[string]any{"books": []any{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("backrefs", func(t *testing.T) {
		refs := reg.Referencing("Author")
		require.Len(t, refs, 2)
		assert.Equal(t, OnDeleteCascade, refs[0].Policy)
		assert.Equal(t, OnDeleteSetNull, refs[1].Policy)
	})

	t.Run("frozen after finalize", func(t *testing.T) {
		assert.ErrorIs(t, reg.Register(NewEntity("Late")), ErrFinalized)
	})
}

func TestRegistryErrors(t *testing.T) {
	tests := []struct {
		name   string
		entity *Entity
		extra  []*Entity
		want   error
	}{
		{
			name:   "no primary key",
			entity: NewEntity("A").Column("x", T("int")),
			want:   ErrInvalidEntity,
		},
		{
			name:   "nullable primary key",
			entity: NewEntity("A").Column("id", T("int").Null(), Primary()),
			want:   ErrInvalidEntity,
		},
		{
			name:   "duplicate attribute",
			entity: NewEntity("A").Column("id", T("int"), Primary()).Column("id", T("string")),
			want:   ErrInvalidEntity,
		},
		{
			name:   "fk to unknown entity",
			entity: NewEntity("A").Column("id", T("int"), Primary()).ForeignKey("b_id", "B", false),
			want:   ErrUnknownEntity,
		},
		{
			name: "set_null on required fk",
			entity: NewEntity("A").Column("id", T("int"), Primary()).
				ForeignKey("b_id", "B", false, Opt("on_delete", "set_null")),
			extra: []*Entity{NewEntity("B").Column("id", T("int"), Primary())},
			want:  ErrInvalidEntity,
		},
		{
			name:   "has_many without fk on target",
			entity: NewEntity("A").Column("id", T("int"), Primary()).HasMany("bs", "B"),
			extra:  []*Entity{NewEntity("B").Column("id", T("int"), Primary())},
			want:   ErrInvalidEntity,
		},
		{
			name:   "computed without getter",
			entity: NewEntity("A").Column("id", T("int"), Primary()).Computed("c", T("int"), nil),
			want:   ErrInvalidEntity,
		},
		{
			name:   "enum without values",
			entity: NewEntity("A").Column("id", T("int"), Primary()).Column("e", T("enum")),
			want:   ErrInvalidEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.Register(append([]*Entity{tt.entity}, tt.extra...)...))
			assert.ErrorIs(t, reg.Finalize(), tt.want)
		})
	}

	t.Run("duplicate entity and table", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&Entity{Name: "A", Table: "alpha"}))
		assert.ErrorIs(t, reg.Register(NewEntity("A")), ErrDuplicateEntity)
		assert.ErrorIs(t, reg.Register(&Entity{Name: "B", Table: "alpha"}), ErrDuplicateEntity)
	})

	t.Run("relationship to unknown target is not a registry error", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(NewEntity("A").Column("id", T("int"), Primary()).HasMany("gs", "Ghost")))
		assert.NoError(t, reg.Finalize())
	})
}

func TestBindComputed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewEntity("A").Column("id", T("int"), Primary()).Computed("c", T("int"), nil)))
	require.NoError(t, reg.BindComputed("A", "c", func(map[string]any) (any, error) { return 1, nil }))
	assert.Error(t, reg.BindComputed("A", "id", nil))
	assert.ErrorIs(t, reg.BindComputed("Z", "c", nil), ErrUnknownEntity)
	assert.NoError(t, reg.Finalize())
}

func TestCompileExpr(t *testing.T) {
	row := map[string]any{"first": "Ursula", "last": "Le Guin", "nick": nil, "books": []int{1, 2, 3}}
	tests := []struct {
		expr string
		want any
	}{
		{"count(books)", int64(3)},
		{"count(missing)", int64(0)},
		{"present(first)", true},
		{"present(nick)", false},
		{"concat(first, nick, last)", "Ursula Le Guin"},
		{"upper(first)", "URSULA"},
		{"lower( last )", "le guin"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			g, err := CompileExpr(tt.expr)
			require.NoError(t, err)
			got, err := g(row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"count", "sum(x)", "upper(a, b)", "concat()"} {
		_, err := CompileExpr(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dsl"),
		[]byte("entity Author:\n  id: int primary\n  name: string\n  books: has_many[Book]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.dsl"),
		[]byte("entity Book:\n  id: uuid primary\n  author_id: ref[Author]\n  author: belongs_to[Author]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg, err := LoadRegistry(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.Finalized())

	author, _ := reg.Get("Author")
	books, _ := author.Attr("books")
	assert.Equal(t, "author_id", books.ForeignKey)

	_, err = LoadRegistry(t.TempDir(), nil)
	assert.Error(t, err)
}
