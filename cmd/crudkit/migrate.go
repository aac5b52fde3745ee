package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crudkit/internal/api"
	"crudkit/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		apply   bool
		dialect string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Print or apply the DDL for the current DSL",
		Long: `Without --apply prints the create-table statements for the chosen dialect.
With --apply connects to the configured database and creates missing tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			reg, err := api.LoadRegistry(cfg.DSLDir, cfg.EnumsDir)
			if err != nil {
				return err
			}

			if apply {
				if cfg.DBDriver == "memory" {
					return fmt.Errorf("nothing to migrate for the memory driver")
				}
				st, err := store.New(cmd.Context(), cfg.DBDriver, cfg.DBURL, log)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				st.Use(reg)
				if err := st.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables (%s)\n", reg.Len(), cfg.DBDriver)
				return nil
			}

			if dialect == "" {
				dialect = cfg.DBDriver
			}
			d := store.Postgres
			switch strings.ToLower(dialect) {
			case "sqlite":
				d = store.SQLite
			case "postgres", "memory":
			default:
				return fmt.Errorf("unknown dialect %q (postgres|sqlite)", dialect)
			}
			stmts, err := store.GenerateDDL(reg, d)
			if err != nil {
				return err
			}
			for _, s := range stmts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply DDL to the configured database")
	cmd.Flags().StringVar(&dialect, "dialect", "", "DDL dialect: postgres|sqlite (default: from db_driver)")
	return cmd
}
