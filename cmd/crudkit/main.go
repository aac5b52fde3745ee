package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crudkit/internal/config"
)

var (
	// Version задаётся при сборке через -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crudkit",
		Short: "Schema-driven CRUD service",
		Long: `crudkit reads entity definitions from *.dsl files, synthesizes flat, full,
write and validating schemas for every entity and serves a REST API over them.`,
		SilenceUsage: true,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newLintCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crudkit %s (%s)\n", Version, GitCommit)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
