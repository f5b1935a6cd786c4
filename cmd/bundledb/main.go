// Package main provides the bundledb CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/bundledb/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bundledb",
		Short: "bundledb - archival metadata bundle store",
		Long: `bundledb stores trees of archival metadata (units, descriptions,
dates, access points) as graphs and keeps them in sync with incoming data.

Bundles are read and written as JSON documents:
  {"type": "DocumentaryUnit", "data": {"identifier": "c1"}, "relationships": {...}}

Storage backends: memory, badger, sqlite, postgres.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("backend", "", "Storage backend (memory|badger|sqlite|postgres)")
	flags.String("data-dir", "", "Data directory for badger and sqlite")
	flags.String("dsn", "", "Postgres connection string")
	flags.String("log-level", "", "Log level (debug|info|warn|error|none)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this textfile when the command finishes")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bundledb %s\n", config.Version())
		},
	})

	createCmd := &cobra.Command{
		Use:   "create [file]",
		Short: "Create a bundle tree; fails if any id is taken",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().StringSlice("scope", nil, "Scope path, outermost first (e.g. nl,r1)")
	rootCmd.AddCommand(createCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "update [file]",
		Short: "Update a stored bundle; the bundle must carry its id",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUpdate,
	})

	upsertCmd := &cobra.Command{
		Use:   "upsert [file]",
		Short: "Create a bundle or update it if it already exists",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUpsert,
	}
	upsertCmd.Flags().StringSlice("scope", nil, "Scope path, outermost first (e.g. nl,r1)")
	rootCmd.AddCommand(upsertCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entity and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored bundle",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	getCmd.Flags().String("format", "json", "Output format (json|xml)")
	rootCmd.AddCommand(getCmd)

	listCmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List the ids of stored entities of a type",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON array of bundles into a scope",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().String("scope-id", "", "Id of the entity the items belong to")
	importCmd.Flags().Bool("tolerant", false, "Skip invalid items instead of aborting")
	_ = importCmd.MarkFlagRequired("scope-id")
	rootCmd.AddCommand(importCmd)

	idCmd := &cobra.Command{
		Use:   "id [file]",
		Short: "Print the id a bundle would get, without touching the store",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runID,
	}
	idCmd.Flags().StringSlice("scope", nil, "Scope path, outermost first (e.g. nl,r1)")
	rootCmd.AddCommand(idCmd)

	return rootCmd
}
