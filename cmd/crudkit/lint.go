package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crudkit/internal/api"
	"crudkit/internal/store"
)

var errBlocking = errors.New("schema has blocking issues")

func newLintCmd() *cobra.Command {
	var synthesize bool
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check DSL definitions for problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			reg, err := api.LoadRegistry(cfg.DSLDir, cfg.EnumsDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			red := color.New(color.FgRed, color.Bold)
			yellow := color.New(color.FgYellow)
			cyan := color.New(color.FgCyan)

			issues := api.Lint(reg)
			for _, it := range issues {
				sev := yellow
				if it.Severity == api.SeverityError {
					sev = red
				}
				where := it.Entity
				if it.Field != "" {
					where += "." + it.Field
				}
				fmt.Fprintf(out, "%s %s [%s] %s\n", sev.Sprint(it.Severity), cyan.Sprint(where), it.Code, it.Message)
			}
			if api.Blocking(issues) {
				return errBlocking
			}

			if synthesize {
				if _, err := api.Bootstrap(cmd.Context(), reg, store.NewMemory(), log, true); err != nil {
					fmt.Fprintln(out, red.Sprint("synthesis failed: ")+err.Error())
					return err
				}
			}
			fmt.Fprintln(out, color.GreenString("%d entities, %d issues", reg.Len(), len(issues)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&synthesize, "synth", true, "Also run schema synthesis against an in-memory store")
	return cmd
}
