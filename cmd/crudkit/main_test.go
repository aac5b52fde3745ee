package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopDSL = `
entity Customer:
  id: int primary
  email: string unique
  orders: has_many[Order] fk=customer_id

entity Order:
  id: int primary
  total: float
  customer_id: ref[Customer] on_delete=cascade
  customer: belongs_to[Customer] fk=customer_id
`

// run выполняет команду в чистой временной папке с DSL из src.
func run(t *testing.T, src string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dsl"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dsl", "shop.dsl"), []byte(src), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level=error"))
	err := root.Execute()
	return out.String(), err
}

func TestSchemaCmd(t *testing.T) {
	t.Run("one table", func(t *testing.T) {
		out, err := run(t, shopDSL, "schema", "orders", "--variant", "flat")
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, "OrderFlatModel", doc["title"])
		props := doc["properties"].(map[string]any)
		assert.Contains(t, props, "total")
		assert.Contains(t, props, "customer_id")
	})

	t.Run("all entities", func(t *testing.T) {
		out, err := run(t, shopDSL, "schema")
		require.NoError(t, err)

		var docs map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &docs))
		assert.Contains(t, docs, "CustomerModel")
		assert.Contains(t, docs, "OrderModel")
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := run(t, shopDSL, "schema", "nope")
		assert.ErrorContains(t, err, "unknown entity")
	})

	t.Run("bad variant", func(t *testing.T) {
		_, err := run(t, shopDSL, "schema", "--variant", "nested")
		assert.Error(t, err)
	})
}

func TestLintCmd(t *testing.T) {
	out, err := run(t, shopDSL, "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entities")

	broken := shopDSL + `
entity Shelf:
  id: int primary
  items: has_many[Widget] fk=shelf_id
`
	out, err = run(t, broken, "lint")
	assert.ErrorIs(t, err, errBlocking)
	assert.Contains(t, out, "relationship_target_unknown")
}

func TestMigrateCmd(t *testing.T) {
	out, err := run(t, shopDSL, "migrate", "--dialect", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, `create table if not exists "customers"`)
	assert.Contains(t, out, `references "customers"("id") on delete CASCADE`)

	out, err = run(t, shopDSL, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, `alter table "orders" add constraint "orders_customer_id_fk"`)

	t.Run("apply sqlite", func(t *testing.T) {
		out, err := run(t, shopDSL, "migrate", "--apply", "--db-driver=sqlite", "--db=shop.db")
		require.NoError(t, err)
		assert.Contains(t, out, "migrated 2 tables")
	})

	t.Run("apply memory", func(t *testing.T) {
		_, err := run(t, shopDSL, "migrate", "--apply")
		assert.Error(t, err)
	})
}
