package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crudkit/internal/api"
	"crudkit/internal/dsl"
	"crudkit/internal/schema"
	"crudkit/internal/store"
)

func newSchemaCmd() *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "schema [table]",
		Short: "Print synthesized JSON Schema documents",
		Long: `Synthesizes schemas without touching the database (an in-memory store is
the validating session) and prints the JSON Schema of one variant for the
given table, or for every entity when no table is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			v, err := schema.ParseVariant(variant)
			if err != nil {
				return err
			}
			reg, err := api.LoadRegistry(cfg.DSLDir, cfg.EnumsDir)
			if err != nil {
				return err
			}
			if _, err := api.Bootstrap(cmd.Context(), reg, store.NewMemory(), log, true); err != nil {
				return err
			}

			ents := reg.Entities()
			if len(args) == 1 {
				e, ok := findEntity(reg, args[0])
				if !ok {
					return fmt.Errorf("unknown entity %q", args[0])
				}
				ents = []*dsl.Entity{e}
			}

			docs := make(map[string]any, len(ents))
			var single any
			for _, e := range ents {
				m, ok := e.Schemas().Model(v)
				if !ok {
					return fmt.Errorf("%s: %s schema not synthesized", e.Name, v)
				}
				doc, err := m.Document()
				if err != nil {
					return err
				}
				docs[m.Name()] = doc
				single = doc
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if len(args) == 1 {
				return enc.Encode(single)
			}
			return enc.Encode(docs)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "full", "Schema variant: flat|full|write|validating")
	return cmd
}

// findEntity: по таблице, по имени, затем без учёта регистра.
func findEntity(reg *dsl.Registry, raw string) (*dsl.Entity, bool) {
	if e, ok := reg.ByTable(raw); ok {
		return e, true
	}
	if e, ok := reg.Get(raw); ok {
		return e, true
	}
	for _, e := range reg.Entities() {
		if strings.EqualFold(e.Name, raw) || strings.EqualFold(e.Table, raw) {
			return e, true
		}
	}
	return nil, false
}
